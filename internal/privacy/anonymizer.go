package privacy

import (
	"reflect"
	"strings"
	"unicode/utf8"
)

const (
	// Redacted replaces PII values that have no type-specific rule.
	Redacted = "[REDACTED]"
	// RedactedAddress replaces address-like values in full.
	RedactedAddress = "[ADDRESS REDACTED]"

	maskToken      = "***"
	emailKeepRunes = 2
	phoneKeepRunes = 3
)

// Anonymizer produces redacted deep copies of tree-shaped values. PII fields
// are masked by category and Sensitive fields are removed from the copy.
type Anonymizer struct {
	lexicon *Lexicon
}

// NewAnonymizer builds an anonymizer. A nil lexicon uses DefaultLexicon.
func NewAnonymizer(lexicon *Lexicon) *Anonymizer {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &Anonymizer{lexicon: lexicon}
}

// Anonymize returns a redacted copy of value. The input is never mutated.
// Masked values are left untouched on a second pass, so applying Anonymize to
// its own output changes nothing.
func (a *Anonymizer) Anonymize(value any) any {
	w := &anonWalk{lexicon: a.lexicon, ancestors: make(map[uintptr]struct{})}
	return w.copy(value)
}

type anonWalk struct {
	lexicon   *Lexicon
	ancestors map[uintptr]struct{}
}

func (w *anonWalk) copy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(v).Pointer()
		if _, cyclic := w.ancestors[ptr]; cyclic {
			return nil
		}
		w.ancestors[ptr] = struct{}{}
		defer delete(w.ancestors, ptr)

		out := make(map[string]any, len(v))
		for key, child := range v {
			kind, cat, ok := w.lexicon.Classify(key)
			switch {
			case !ok:
				out[key] = w.copy(child)
			case kind == KindSensitive:
				// dropped
			default:
				out[key] = maskValue(cat, child)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = w.copy(elem)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = w.copy(elem)
		}
		return out
	default:
		return v
	}
}

func maskValue(cat Category, value any) any {
	if cat == CategoryAddress {
		return RedactedAddress
	}
	s, ok := value.(string)
	if !ok {
		return Redacted
	}
	if isMasked(s) {
		return s
	}
	switch cat {
	case CategoryEmail:
		return maskEmail(s)
	case CategoryPhone:
		return keepPrefix(s, phoneKeepRunes)
	default:
		return Redacted
	}
}

func maskEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return Redacted
	}
	return keepPrefix(s[:at], emailKeepRunes) + s[at:]
}

// keepPrefix keeps the first n runes of s and appends the mask token. Values
// no longer than n are masked entirely.
func keepPrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return maskToken
	}
	runes := []rune(s)
	return string(runes[:n]) + maskToken
}

func isMasked(s string) bool {
	return s == Redacted || s == RedactedAddress || strings.Contains(s, maskToken)
}
