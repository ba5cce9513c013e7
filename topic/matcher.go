// Package topic compiles binding patterns and matches them against routing
// keys the way a topic exchange would, with the framework's `*`/`#`
// wildcard grammar.
package topic

import (
	"regexp"
	"strings"
)

const tokenPattern = `[A-Za-z0-9_-]+`

var tokenRe = regexp.MustCompile(`^` + tokenPattern + `$`)

// ValidKey reports whether key is a non-empty, dot-separated sequence of
// tokens matching [A-Za-z0-9_-]+. Routing keys never carry wildcards.
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	for _, tok := range strings.Split(key, ".") {
		if !tokenRe.MatchString(tok) {
			return false
		}
	}
	return true
}

// ValidPattern reports whether pattern is a non-empty, dot-separated
// sequence of tokens, each either a literal token, `*`, or `#`.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	for _, tok := range strings.Split(pattern, ".") {
		if tok == "*" || tok == "#" {
			continue
		}
		if !tokenRe.MatchString(tok) {
			return false
		}
	}
	return true
}

// Matcher is a compiled binding pattern.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// Compile validates and compiles pattern into a Matcher. It rejects
// malformed patterns the same way Bind does at the broker boundary.
func Compile(pattern string) (*Matcher, error) {
	if !ValidPattern(pattern) {
		return nil, &malformedPatternError{pattern: pattern}
	}

	tokens := strings.Split(pattern, ".")
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		switch tok {
		case "*":
			parts[i] = tokenPattern
		case "#":
			// One-or-more tokens, not the conventional AMQP zero-or-more:
			// preserved per the source's documented behavior.
			parts[i] = tokenPattern + `(?:\.` + tokenPattern + `)*`
		default:
			parts[i] = regexp.QuoteMeta(tok)
		}
	}

	re, err := regexp.Compile("^" + strings.Join(parts, `\.`) + "$")
	if err != nil {
		return nil, err
	}
	return &Matcher{pattern: pattern, re: re}, nil
}

// Match reports whether key satisfies the compiled pattern. Matching is
// anchored (whole-string) and is a pure predicate, not a score.
func (m *Matcher) Match(key string) bool {
	return m.re.MatchString(key)
}

// Pattern returns the original, uncompiled pattern string.
func (m *Matcher) Pattern() string {
	return m.pattern
}

// Matches is a convenience one-shot form of Compile+Match for call sites
// that don't need to reuse the compiled matcher.
func Matches(pattern, key string) (bool, error) {
	m, err := Compile(pattern)
	if err != nil {
		return false, err
	}
	return m.Match(key), nil
}

type malformedPatternError struct {
	pattern string
}

func (e *malformedPatternError) Error() string {
	return "malformed topic pattern: " + e.pattern
}
