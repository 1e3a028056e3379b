package privacy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind separates personally identifying fields from secrets.
type Kind string

const (
	KindPII       Kind = "PII"
	KindSensitive Kind = "Sensitive"
)

// Category narrows a match so the anonymizer can pick a masking rule.
type Category string

const (
	CategoryEmail      Category = "email"
	CategoryPhone      Category = "phone"
	CategoryAddress    Category = "address"
	CategoryIdentity   Category = "identity"
	CategoryGovernment Category = "government_id"
	CategoryFinancial  Category = "financial"
	CategoryDevice     Category = "device"
	CategoryCredential Category = "credential"
	CategoryBiometric  Category = "biometric"
	CategoryHealth     Category = "health"
)

// Lexicon holds the field-name fragments that classify a key. Entries are
// matched as case-insensitive substrings of the key with '_', '-' and ' '
// removed, so "phone_number" and "phoneNumber" classify the same way.
type Lexicon struct {
	PII       map[Category][]string `yaml:"pii"`
	Sensitive map[Category][]string `yaml:"sensitive"`

	pii       []entry
	sensitive []entry
}

type entry struct {
	fragment string
	category Category
}

// DefaultLexicon returns the built-in vocabulary. "name" is deliberately not
// an entry: display names alone are not treated as identifying.
func DefaultLexicon() *Lexicon {
	return compile(&Lexicon{
		PII: map[Category][]string{
			CategoryEmail:      {"emailaddress", "email"},
			CategoryPhone:      {"phone", "mobile", "telephone"},
			CategoryAddress:    {"address", "street", "zipcode", "postcode", "postalcode", "latitude", "longitude", "geolocation"},
			CategoryIdentity:   {"firstname", "lastname", "fullname", "surname", "middlename", "dateofbirth", "birthdate", "parentname", "guardianname"},
			CategoryGovernment: {"ssn", "socialsecurity", "passport", "nationalid", "driverslicense", "driverlicense", "taxid", "aadhaar"},
			CategoryFinancial:  {"creditcard", "cardnumber", "bankaccount", "accountnumber", "routingnumber", "iban"},
			CategoryDevice:     {"ipaddress", "macaddress", "deviceid", "imei"},
		},
		Sensitive: map[Category][]string{
			CategoryCredential: {"password", "passwd", "secret", "token", "apikey", "privatekey", "credential"},
			CategoryBiometric:  {"biometric", "fingerprint", "faceid", "retina", "voiceprint"},
			CategoryHealth:     {"medical", "diagnosis", "health", "disability", "allergy", "medication"},
		},
	})
}

// LoadLexicon reads a YAML lexicon. Categories present in the file replace the
// built-in entries for that category; absent categories keep the defaults.
func LoadLexicon(path string) (*Lexicon, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	var override Lexicon
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}

	lex := DefaultLexicon()
	for cat, fragments := range override.PII {
		lex.PII[cat] = fragments
	}
	for cat, fragments := range override.Sensitive {
		lex.Sensitive[cat] = fragments
	}
	return compile(lex), nil
}

func compile(l *Lexicon) *Lexicon {
	l.pii = flatten(l.PII)
	l.sensitive = flatten(l.Sensitive)
	return l
}

func flatten(groups map[Category][]string) []entry {
	var out []entry
	for cat, fragments := range groups {
		for _, f := range fragments {
			if f = normalizeKey(f); f != "" {
				out = append(out, entry{fragment: f, category: cat})
			}
		}
	}
	// Longest fragment first so "bankaccount" wins over shorter overlaps.
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].fragment) != len(out[j].fragment) {
			return len(out[i].fragment) > len(out[j].fragment)
		}
		return out[i].fragment < out[j].fragment
	})
	return out
}

// Classify reports whether key names a Sensitive or PII field. Sensitive wins
// when a key matches both.
func (l *Lexicon) Classify(key string) (Kind, Category, bool) {
	norm := normalizeKey(key)
	if norm == "" {
		return "", "", false
	}
	for _, e := range l.sensitive {
		if strings.Contains(norm, e.fragment) {
			return KindSensitive, e.category, true
		}
	}
	for _, e := range l.pii {
		if strings.Contains(norm, e.fragment) {
			return KindPII, e.category, true
		}
	}
	return "", "", false
}

func normalizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '.':
			return -1
		}
		return r
	}, strings.ToLower(key))
}
