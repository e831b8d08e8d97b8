package naming

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPrefix is the legacy table prefix removed by default.
const DefaultPrefix = "tbl_"

// ErrEmptyName is returned when nothing is left of a name after prefix removal.
var ErrEmptyName = errors.New("empty table name")

// Rule names reported by Transformer.Rule.
const (
	RuleAlreadyPlural = "already_plural"
	RuleIrregular     = "irregular"
	RuleConsonantY    = "consonant_y"
	RuleSibilant      = "sibilant"
	RuleDefault       = "default"
)

// irregulars are suffix overrides checked before the generic suffix rules.
// Ordered so that longer suffixes win if they ever overlap.
var irregulars = []struct {
	singular string
	plural   string
}{
	{"category", "categories"},
	{"company", "companies"},
}

var sibilantSuffixes = []string{"x", "ch", "sh", "z"}

// Transformer converts legacy table names to the target naming convention:
// lowercase, prefix removed, pluralized.
type Transformer struct {
	prefix string
}

// New creates a Transformer that strips the given prefix. An empty prefix
// disables prefix stripping.
func New(prefix string) *Transformer {
	return &Transformer{prefix: strings.ToLower(prefix)}
}

// Default returns a Transformer using DefaultPrefix.
func Default() *Transformer {
	return New(DefaultPrefix)
}

// Prefix returns the prefix this transformer removes.
func (t *Transformer) Prefix() string {
	return t.prefix
}

// Transform maps a legacy table name to its target name.
func (t *Transformer) Transform(name string) (string, error) {
	base, err := t.base(name)
	if err != nil {
		return "", err
	}
	plural, _ := pluralize(base)
	return plural, nil
}

// Rule reports which pluralization rule Transform applies to name.
func (t *Transformer) Rule(name string) (string, error) {
	base, err := t.base(name)
	if err != nil {
		return "", err
	}
	_, rule := pluralize(base)
	return rule, nil
}

// IsCompliant reports whether name is already a fixed point of Transform.
func (t *Transformer) IsCompliant(name string) bool {
	out, err := t.Transform(name)
	return err == nil && out == name
}

func (t *Transformer) base(name string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	// Repeated prefixes are all removed so the result is a fixed point.
	for t.prefix != "" && strings.HasPrefix(s, t.prefix) {
		s = strings.TrimPrefix(s, t.prefix)
	}
	if s == "" {
		return "", fmt.Errorf("transforming %q: %w", name, ErrEmptyName)
	}
	return s, nil
}

// pluralize applies the rule table to a lowercase name; first match wins.
func pluralize(s string) (string, string) {
	if strings.HasSuffix(s, "s") {
		return s, RuleAlreadyPlural
	}

	for _, irr := range irregulars {
		if strings.HasSuffix(s, irr.singular) {
			return strings.TrimSuffix(s, irr.singular) + irr.plural, RuleIrregular
		}
	}

	if len(s) >= 2 && s[len(s)-1] == 'y' && isConsonant(s[len(s)-2]) {
		return s[:len(s)-1] + "ies", RuleConsonantY
	}

	for _, suf := range sibilantSuffixes {
		if strings.HasSuffix(s, suf) {
			return s + "es", RuleSibilant
		}
	}

	return s + "s", RuleDefault
}

// isConsonant reports whether b is an ASCII letter other than a vowel.
// Digits and underscores are not consonants, so "key_2y" style names fall
// through to the default rule.
func isConsonant(b byte) bool {
	if b < 'a' || b > 'z' {
		return false
	}
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return false
	}
	return true
}
