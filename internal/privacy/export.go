package privacy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"accessgate/internal/privacy/metrics"
	dErrors "accessgate/pkg/domain-errors"
	"accessgate/pkg/requestcontext"
)

// Stage names the pipeline check that blocked an export.
type Stage string

const (
	StageInitialScan     Stage = "initial scan"
	StageFinalValidation Stage = "final validation"
)

// LeakageError blocks an export and carries the findings that caused it.
type LeakageError struct {
	Stage    Stage
	Findings []Finding
}

func (e *LeakageError) Error() string {
	return fmt.Sprintf("PII leakage detected: %s failed with %d finding(s)", e.Stage, len(e.Findings))
}

// Unwrap exposes the domain code so dErrors.HasCode(err, CodePIILeakage) holds.
func (e *LeakageError) Unwrap() error {
	return dErrors.New(dErrors.CodePIILeakage, e.Error())
}

// ExportOptions selects which quasi-identifying groups survive an export.
// A false flag strips that group.
type ExportOptions struct {
	IncludeAgeGroups  bool `json:"includeAgeGroups"`
	IncludeRegions    bool `json:"includeRegions"`
	IncludeTimestamps bool `json:"includeTimestamps"`
}

// ValidationResult is the compliance verdict for a value.
type ValidationResult struct {
	Compliant       bool      `json:"compliant"`
	Findings        []Finding `json:"findings"`
	Recommendations []string  `json:"recommendations"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// Export is a compliance-checked artifact.
type Export struct {
	Data       any              `json:"data"`
	ScanResult ValidationResult `json:"scanResult"`
	ExportedAt time.Time        `json:"exportedAt"`
	Compliant  bool             `json:"compliant"`
}

// Pipeline orchestrates scanning and anonymization for exports.
type Pipeline struct {
	scanner    *Scanner
	anonymizer *Anonymizer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline builds a pipeline over a single lexicon. A nil lexicon uses
// DefaultLexicon.
func NewPipeline(lexicon *Lexicon, opts ...Option) *Pipeline {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	p := &Pipeline{
		scanner:    NewScanner(lexicon),
		anonymizer: NewAnonymizer(lexicon),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate scans value and reports whether it is free of findings.
func (p *Pipeline) Validate(ctx context.Context, value any) ValidationResult {
	findings := p.scanner.Scan(value)
	for _, f := range findings {
		p.metrics.ObserveFinding(string(f.Kind), string(f.Severity))
	}
	if findings == nil {
		findings = []Finding{}
	}
	return ValidationResult{
		Compliant:       len(findings) == 0,
		Findings:        findings,
		Recommendations: recommendations(worstSeverity(findings)),
		CheckedAt:       requestcontext.Now(ctx),
	}
}

// Anonymize exposes the pipeline's anonymizer.
func (p *Pipeline) Anonymize(value any) any {
	return p.anonymizer.Anonymize(value)
}

// GenerateExport produces an export artifact. The raw value must already be
// free of findings; anonymization and option stripping then run and the result
// is validated again before release.
func (p *Pipeline) GenerateExport(ctx context.Context, raw any, opts ExportOptions) (*Export, error) {
	initial := p.Validate(ctx, raw)
	if !initial.Compliant {
		p.metrics.IncrementExport("blocked_initial")
		p.logger.WarnContext(ctx, "export blocked by initial PII scan",
			"request_id", requestcontext.RequestID(ctx),
			"findings", len(initial.Findings),
		)
		return nil, &LeakageError{Stage: StageInitialScan, Findings: initial.Findings}
	}

	data := p.anonymizer.Anonymize(raw)
	data = applyOptions(data, opts)

	final := p.Validate(ctx, data)
	if !final.Compliant {
		p.metrics.IncrementExport("blocked_final")
		p.logger.ErrorContext(ctx, "export blocked by final validation",
			"request_id", requestcontext.RequestID(ctx),
			"findings", len(final.Findings),
		)
		return nil, &LeakageError{Stage: StageFinalValidation, Findings: final.Findings}
	}

	p.metrics.IncrementExport("exported")
	return &Export{
		Data:       data,
		ScanResult: final,
		ExportedAt: requestcontext.Now(ctx),
		Compliant:  true,
	}, nil
}

func worstSeverity(findings []Finding) Severity {
	var worst Severity
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return SeverityCritical
		}
		worst = SeverityHigh
	}
	return worst
}

func recommendations(worst Severity) []string {
	switch worst {
	case SeverityCritical:
		return []string{
			"Remove sensitive fields (credentials, biometric or health data) before export",
			"Anonymize remaining PII fields before export",
			"Review the data source for unintended secret collection",
		}
	case SeverityHigh:
		return []string{
			"Anonymize or remove PII fields before export",
			"Aggregate records where individual-level detail is not required",
		}
	default:
		return []string{"Data is ready for export"}
	}
}

var (
	ageGroupKeys = map[string]struct{}{
		"age": {}, "agegroup": {}, "agerange": {}, "agebracket": {},
		"birthyear": {}, "yearofbirth": {}, "grade": {}, "gradelevel": {},
	}
	regionKeys = map[string]struct{}{
		"region": {}, "district": {}, "city": {}, "state": {}, "province": {},
		"county": {}, "country": {}, "zone": {},
	}
	timestampKeys = map[string]struct{}{
		"date": {}, "datetime": {}, "time": {}, "timestamp": {},
		"startdate": {}, "enddate": {}, "duedate": {}, "expirydate": {}, "expirationdate": {},
		"createddate": {}, "updateddate": {}, "modifieddate": {}, "deleteddate": {}, "submitteddate": {},
		"createdon": {}, "updatedon": {}, "modifiedon": {}, "lastlogin": {}, "lastseen": {},
	}
	// Leading words that make a key a boolean predicate rather than a moment.
	predicateWords = map[string]struct{}{
		"is": {}, "has": {}, "was": {}, "can": {}, "should": {},
	}
)

// applyOptions strips the field groups the options exclude. It rebuilds every
// map it touches.
func applyOptions(value any, opts ExportOptions) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			if dropKey(key, opts) {
				continue
			}
			out[key] = applyOptions(child, opts)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = applyOptions(elem, opts)
		}
		return out
	default:
		return v
	}
}

func dropKey(key string, opts ExportOptions) bool {
	norm := normalizeKey(key)
	if !opts.IncludeAgeGroups {
		if _, ok := ageGroupKeys[norm]; ok {
			return true
		}
	}
	if !opts.IncludeRegions {
		if _, ok := regionKeys[norm]; ok {
			return true
		}
	}
	if !opts.IncludeTimestamps && isTimestampKey(key) {
		return true
	}
	return false
}

// isTimestampKey matches known date keys and keys whose last word is "at"
// or "timestamp" (createdAt, recorded_at, eventTimestamp). Word boundaries
// come from camel case and separators, so isUpToDate or candidate stay.
func isTimestampKey(key string) bool {
	if _, ok := timestampKeys[normalizeKey(key)]; ok {
		return true
	}
	words := keyWords(key)
	if len(words) < 2 {
		return false
	}
	if _, ok := predicateWords[words[0]]; ok {
		return false
	}
	switch words[len(words)-1] {
	case "at", "timestamp":
		return true
	}
	return false
}

// keyWords splits a key on separators and lower-to-upper case changes and
// lowercases each word.
func keyWords(key string) []string {
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	var prev rune
	for _, r := range key {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '.':
			flush()
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush()
			current = append(current, r)
		default:
			current = append(current, r)
		}
		prev = r
	}
	flush()
	return words
}
