package matcher

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ============================================
// CALLER-ID PATTERN MATCHER
// Wildcard matching over normalized phone numbers
// ============================================

// Pattern forms:
//
//	441234567890   exact match
//	441234*        prefix match (wildcard may appear anywhere)
//	*              any non-empty number
//
// Patterns are evaluated in load order; the first match wins, so an exact
// entry must precede any wildcard that also covers it.

// RewritePolicy controls rewriting of trunk-prefixed domestic numbers
// ("0xxxxxxxxxx") into international form before matching. Rewriting is
// disabled while CountryCode is empty. MinDigits/MaxDigits bound the
// national number length (digits after the leading 0) that qualifies.
type RewritePolicy struct {
	CountryCode string
	MinDigits   int
	MaxDigits   int
}

// Default national-number bounds: 0 plus 9 or 10 digits.
const (
	DefaultMinNationalDigits = 9
	DefaultMaxNationalDigits = 10
)

func (p RewritePolicy) enabled() bool {
	return p.CountryCode != ""
}

func (p RewritePolicy) applies(number string) bool {
	if !strings.HasPrefix(number, "0") {
		return false
	}
	national := len(number) - 1
	min, max := p.MinDigits, p.MaxDigits
	if min <= 0 {
		min = DefaultMinNationalDigits
	}
	if max <= 0 {
		max = DefaultMaxNationalDigits
	}
	return national >= min && national <= max
}

type compiledPattern struct {
	text string
	re   *regexp.Regexp
}

// Matcher matches caller IDs against an ordered wildcard pattern set. The
// active set is replaced atomically by Load, so a concurrent Match sees
// either the old or the new set in full.
type Matcher struct {
	policy RewritePolicy
	logger *zap.Logger

	mu       sync.RWMutex
	patterns []compiledPattern
}

// New creates a matcher with no patterns loaded.
func New(policy RewritePolicy, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		policy: policy,
		logger: logger,
	}
}

// Load compiles the given patterns in order and replaces the active set.
// Blank entries are discarded after trimming. Every non-blank string is a
// valid pattern; Load never fails. Returns the count actually loaded.
func (m *Matcher) Load(patterns []string) int {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		compiled = append(compiled, compiledPattern{
			text: p,
			re:   compilePattern(p),
		})
	}

	m.mu.Lock()
	m.patterns = compiled
	m.mu.Unlock()

	m.logger.Info("patterns loaded", zap.Int("count", len(compiled)))
	return len(compiled)
}

// compilePattern converts a wildcard pattern to an anchored regexp. "*"
// expands to zero or more characters; everything else matches verbatim.
func compilePattern(pattern string) *regexp.Regexp {
	if pattern == "*" {
		return regexp.MustCompile(`^.+$`)
	}
	escaped := regexp.QuoteMeta(pattern)
	if strings.Contains(pattern, "*") {
		escaped = strings.ReplaceAll(escaped, `\*`, `.*`)
	}
	return regexp.MustCompile("^" + escaped + "$")
}

// Normalize canonicalizes a raw caller-ID string to digits-only
// international form: non-digit characters are stripped (a leading "+"
// only transiently), the "00" international prefix is removed, and a
// domestic trunk-prefixed number is rewritten per the configured policy.
// Pure function: same input, same output.
func (m *Matcher) Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	number := b.String()

	number = strings.TrimPrefix(number, "+")
	if strings.HasPrefix(number, "00") {
		number = number[2:]
	}

	if m.policy.enabled() && m.policy.applies(number) {
		number = m.policy.CountryCode + number[1:]
	}

	return number
}

// Match normalizes the caller ID and evaluates the loaded patterns in
// order, returning the first matching pattern's original text. Empty or
// unnormalizable input never matches, including against "*".
func (m *Matcher) Match(callerID string) (bool, string) {
	if callerID == "" {
		return false, ""
	}

	normalized := m.Normalize(callerID)
	if normalized == "" {
		m.logger.Debug("caller ID did not normalize", zap.String("caller", callerID))
		return false, ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.patterns {
		if p.re.MatchString(normalized) {
			m.logger.Debug("caller matched",
				zap.String("caller", callerID),
				zap.String("pattern", p.text))
			return true, p.text
		}
	}

	m.logger.Debug("no pattern matched", zap.String("caller", callerID))
	return false, ""
}

// Patterns returns a copy of the currently loaded pattern texts in
// evaluation order.
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.text
	}
	return out
}

// Len returns the number of loaded patterns.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns)
}
