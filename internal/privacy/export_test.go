package privacy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"accessgate/internal/privacy/metrics"
	dErrors "accessgate/pkg/domain-errors"
	"accessgate/pkg/requestcontext"
)

type PipelineSuite struct {
	suite.Suite
	pipeline *Pipeline
	metrics  *metrics.Metrics
	ctx      context.Context
	now      time.Time
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.pipeline = NewPipeline(nil, WithMetrics(s.metrics))
	s.now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *PipelineSuite) TestNameOnlyExportIsCompliant() {
	export, err := s.pipeline.GenerateExport(s.ctx, map[string]any{"name": "Jane Doe"}, ExportOptions{})

	s.Require().NoError(err)
	s.True(export.Compliant)
	s.True(export.ScanResult.Compliant)
	s.Empty(export.ScanResult.Findings)
	s.Equal(map[string]any{"name": "Jane Doe"}, export.Data)
	s.Equal(s.now, export.ExportedAt)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Exports.WithLabelValues("exported")))
}

func (s *PipelineSuite) TestRawPIIBlocksAtInitialScan() {
	_, err := s.pipeline.GenerateExport(s.ctx, map[string]any{"email": "a@b.com"}, ExportOptions{})

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePIILeakage))

	var leak *LeakageError
	s.Require().True(errors.As(err, &leak))
	s.Equal(StageInitialScan, leak.Stage)
	s.Len(leak.Findings, 1)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Exports.WithLabelValues("blocked_initial")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Findings.WithLabelValues("PII", "high")))
}

func (s *PipelineSuite) TestOptionsStripQuasiIdentifiers() {
	raw := map[string]any{
		"name":       "Class 4B",
		"age":        10,
		"region":     "North",
		"createdAt":  "2026-01-01T00:00:00Z",
		"isUpToDate": true,
		"scores":     []any{map[string]any{"grade": 4, "value": 88, "recorded_at": "x"}},
	}

	stripped, err := s.pipeline.GenerateExport(s.ctx, raw, ExportOptions{})
	s.Require().NoError(err)
	s.Equal(map[string]any{
		"name":       "Class 4B",
		"isUpToDate": true,
		"scores":     []any{map[string]any{"value": 88}},
	}, stripped.Data)

	kept, err := s.pipeline.GenerateExport(s.ctx, raw, ExportOptions{
		IncludeAgeGroups:  true,
		IncludeRegions:    true,
		IncludeTimestamps: true,
	})
	s.Require().NoError(err)
	s.Equal(raw, kept.Data)
}

func (s *PipelineSuite) TestValidateRecommendations() {
	critical := s.pipeline.Validate(s.ctx, map[string]any{"password": "x", "email": "a@b"})
	s.False(critical.Compliant)
	s.Contains(critical.Recommendations[0], "Remove sensitive fields")

	high := s.pipeline.Validate(s.ctx, map[string]any{"email": "a@b"})
	s.False(high.Compliant)
	s.Contains(high.Recommendations[0], "Anonymize")

	clean := s.pipeline.Validate(s.ctx, map[string]any{"name": "x"})
	s.True(clean.Compliant)
	s.NotNil(clean.Findings)
	s.Equal([]string{"Data is ready for export"}, clean.Recommendations)
	s.Equal(s.now, clean.CheckedAt)
}

func TestLoadLexicon_OverridesCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pii:
  identity: [studentname]
sensitive:
  credential: [pin]
`), 0o600))

	lex, err := LoadLexicon(path)
	require.NoError(t, err)

	kind, cat, ok := lex.Classify("StudentName")
	require.True(t, ok)
	assert.Equal(t, KindPII, kind)
	assert.Equal(t, CategoryIdentity, cat)

	_, _, ok = lex.Classify("firstName")
	assert.False(t, ok, "identity category was replaced")

	kind, _, ok = lex.Classify("email")
	require.True(t, ok, "untouched categories keep defaults")
	assert.Equal(t, KindPII, kind)

	kind, _, ok = lex.Classify("card_pin")
	require.True(t, ok)
	assert.Equal(t, KindSensitive, kind)
}

func TestLoadLexicon_MissingFile(t *testing.T) {
	_, err := LoadLexicon(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestIsTimestampKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"createdAt", true},
		{"recorded_at", true},
		{"eventTimestamp", true},
		{"timestamp", true},
		{"date", true},
		{"due_date", true},
		{"lastLogin", true},
		{"isUpToDate", false},
		{"candiDate", false},
		{"candidate", false},
		{"hasLookedAt", false},
		{"format", false},
		{"at", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, isTimestampKey(tt.key))
		})
	}
}
