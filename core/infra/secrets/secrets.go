package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RuleGoogleAPIKey is the built-in credential rule.
const RuleGoogleAPIKey = "google_api_key"

// DefaultRules returns the built-in rule set, keyed by rule name.
func DefaultRules() map[string]string {
	return map[string]string{
		RuleGoogleAPIKey: `AIza[0-9A-Za-z\-_]{35}`,
	}
}

// Finding is one credential-shaped substring located in scanned text.
type Finding struct {
	Rule   string
	Offset int
	Length int
}

type rule struct {
	name string
	re   *regexp.Regexp
}

// Scanner searches raw text for credential-shaped substrings.
type Scanner struct {
	rules []rule
}

// NewScanner compiles the given rules. A nil or empty map selects DefaultRules.
func NewScanner(rules map[string]string) (*Scanner, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &Scanner{rules: make([]rule, 0, len(names))}
	for _, name := range names {
		pattern := strings.TrimSpace(rules[name])
		if pattern == "" {
			return nil, fmt.Errorf("secret rule %q: empty pattern", name)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("secret rule %q: %w", name, err)
		}
		s.rules = append(s.rules, rule{name: name, re: re})
	}
	return s, nil
}

// Scan returns every match of every rule, ordered by rule name then offset.
func (s *Scanner) Scan(text string) []Finding {
	if s == nil || text == "" {
		return nil
	}
	var out []Finding
	for _, r := range s.rules {
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			out = append(out, Finding{Rule: r.name, Offset: loc[0], Length: loc[1] - loc[0]})
		}
	}
	return out
}

// Rules lists the rule names matched in findings, without duplicates.
func Rules(findings []Finding) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range findings {
		if !seen[f.Rule] {
			seen[f.Rule] = true
			out = append(out, f.Rule)
		}
	}
	return out
}

// Redact replaces every finding in text with "<redacted>".
func Redact(text string, findings []Finding) string {
	if len(findings) == 0 {
		return text
	}
	spans := append([]Finding(nil), findings...)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Offset < spans[j].Offset })
	var b strings.Builder
	pos := 0
	for _, f := range spans {
		end := f.Offset + f.Length
		if end <= pos {
			continue
		}
		start := f.Offset
		if start < pos {
			start = pos
		}
		b.WriteString(text[pos:start])
		b.WriteString("<redacted>")
		pos = end
	}
	b.WriteString(text[pos:])
	return b.String()
}
