package privacy

import (
	"fmt"
	"reflect"
	"sort"
)

// Severity ranks a leakage finding.
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RedactedSample replaces the value of a Sensitive finding.
const RedactedSample = "***REDACTED***"

// Finding reports a field whose name matches the lexicon.
type Finding struct {
	Path     string   `json:"path"`
	Field    string   `json:"field"`
	Kind     Kind     `json:"kind"`
	Category Category `json:"category"`
	Sample   any      `json:"sample"`
	Severity Severity `json:"severity"`
}

// Scanner walks tree-shaped values (maps, lists, scalars) looking for keys
// that name PII or Sensitive data. It only inspects keys, never values.
type Scanner struct {
	lexicon *Lexicon
}

// NewScanner builds a scanner. A nil lexicon uses DefaultLexicon.
func NewScanner(lexicon *Lexicon) *Scanner {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &Scanner{lexicon: lexicon}
}

// Scan returns findings in a stable order: keys are visited sorted, depth first.
func (s *Scanner) Scan(value any) []Finding {
	w := &scanWalk{lexicon: s.lexicon, seen: make(map[uintptr]struct{})}
	w.walk(value, "")
	return w.findings
}

type scanWalk struct {
	lexicon  *Lexicon
	seen     map[uintptr]struct{}
	findings []Finding
}

func (w *scanWalk) walk(value any, path string) {
	switch v := value.(type) {
	case map[string]any:
		if !w.enter(v) {
			return
		}
		defer w.leave(v)
		for _, key := range sortedKeys(v) {
			child := v[key]
			childPath := joinPath(path, key)
			if kind, cat, ok := w.lexicon.Classify(key); ok {
				w.findings = append(w.findings, newFinding(childPath, key, kind, cat, child))
			}
			w.walk(child, childPath)
		}
	case []any:
		for i, elem := range v {
			if m, ok := elem.(map[string]any); ok {
				w.walk(m, fmt.Sprintf("%s[%d]", path, i))
			}
		}
	case []map[string]any:
		for i, elem := range v {
			w.walk(elem, fmt.Sprintf("%s[%d]", path, i))
		}
	}
}

// enter marks m as an ancestor of the current position. It returns false when
// m is already an ancestor, which means the input contains a cycle.
func (w *scanWalk) enter(m map[string]any) bool {
	ptr := reflect.ValueOf(m).Pointer()
	if _, ok := w.seen[ptr]; ok {
		return false
	}
	w.seen[ptr] = struct{}{}
	return true
}

func (w *scanWalk) leave(m map[string]any) {
	delete(w.seen, reflect.ValueOf(m).Pointer())
}

func newFinding(path, field string, kind Kind, cat Category, value any) Finding {
	f := Finding{Path: path, Field: field, Kind: kind, Category: cat}
	if kind == KindSensitive {
		f.Severity = SeverityCritical
		f.Sample = RedactedSample
		return f
	}
	f.Severity = SeverityHigh
	f.Sample = value
	return f
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
