package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatcher(policy RewritePolicy, patterns ...string) *Matcher {
	m := New(policy, nil)
	m.Load(patterns)
	return m
}

func TestLoadDiscardsBlankEntries(t *testing.T) {
	m := New(RewritePolicy{}, nil)
	count := m.Load([]string{" 44123* ", "", "   ", "33*"})

	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"44123*", "33*"}, m.Patterns())
}

func TestLoadReplacesPatternSet(t *testing.T) {
	m := newTestMatcher(RewritePolicy{}, "44*")
	ok, _ := m.Match("+441234567890")
	require.True(t, ok)

	m.Load([]string{"33*"})

	ok, _ = m.Match("+441234567890")
	assert.False(t, ok)
	ok, pattern := m.Match("+33123456789")
	assert.True(t, ok)
	assert.Equal(t, "33*", pattern)
}

func TestNormalize(t *testing.T) {
	m := New(RewritePolicy{}, nil)

	tests := []struct {
		raw  string
		want string
	}{
		{"+441234567890", "441234567890"},
		{"00441234567890", "441234567890"},
		{"+44 1234 567-890", "441234567890"},
		{"441234567890", "441234567890"},
		{"", ""},
		{"anonymous", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Normalize(tt.raw), "raw=%q", tt.raw)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	m := New(RewritePolicy{CountryCode: "44"}, nil)

	for _, raw := range []string{"+441234567890", "01844220022", "0033123456789"} {
		once := m.Normalize(raw)
		assert.Equal(t, once, m.Normalize(once), "raw=%q", raw)
	}
}

func TestNormalizeDomesticRewrite(t *testing.T) {
	m := New(RewritePolicy{CountryCode: "44"}, nil)

	// 0 plus 10 national digits rewrites to international form.
	assert.Equal(t, "441844220022", m.Normalize("01844220022"))
	// Too short to qualify.
	assert.Equal(t, "0123", m.Normalize("0123"))

	// Disabled without a country code.
	off := New(RewritePolicy{}, nil)
	assert.Equal(t, "01844220022", off.Normalize("01844220022"))
}

func TestNormalizeRewriteBounds(t *testing.T) {
	m := New(RewritePolicy{CountryCode: "1", MinDigits: 10, MaxDigits: 10}, nil)

	assert.Equal(t, "12025550147", m.Normalize("02025550147"))
	// 9 national digits falls outside the configured bounds.
	assert.Equal(t, "0202555014", m.Normalize("0202555014"))
}

func TestMatchFirstPatternWins(t *testing.T) {
	m := newTestMatcher(RewritePolicy{}, "441234567890", "441234*", "44*")

	ok, pattern := m.Match("+441234567890")
	assert.True(t, ok)
	assert.Equal(t, "441234567890", pattern)

	ok, pattern = m.Match("+441234999999")
	assert.True(t, ok)
	assert.Equal(t, "441234*", pattern)

	ok, pattern = m.Match("+447700900123")
	assert.True(t, ok)
	assert.Equal(t, "44*", pattern)

	ok, pattern = m.Match("+33123456789")
	assert.False(t, ok)
	assert.Empty(t, pattern)
}

func TestMatchDomesticCaller(t *testing.T) {
	m := New(RewritePolicy{CountryCode: "44"}, nil)
	m.Load([]string{"441844220022"})

	ok, pattern := m.Match("01844220022")
	assert.True(t, ok)
	assert.Equal(t, "441844220022", pattern)
}

func TestMatchEmptyInputNeverMatches(t *testing.T) {
	m := newTestMatcher(RewritePolicy{}, "*")

	ok, pattern := m.Match("")
	assert.False(t, ok)
	assert.Empty(t, pattern)

	// Strings with no digits do not normalize and never match.
	ok, pattern = m.Match("anonymous")
	assert.False(t, ok)
	assert.Empty(t, pattern)
}

func TestMatchWildcardAnywhere(t *testing.T) {
	m := newTestMatcher(RewritePolicy{}, "44*890")

	ok, pattern := m.Match("+441234567890")
	assert.True(t, ok)
	assert.Equal(t, "44*890", pattern)

	ok, _ = m.Match("+441234567891")
	assert.False(t, ok)
}

func TestMatchOnlyReturnsLoadedPatterns(t *testing.T) {
	patterns := []string{"441234*", "33*", "*"}
	m := newTestMatcher(RewritePolicy{}, patterns...)

	loaded := map[string]bool{}
	for _, p := range patterns {
		loaded[p] = true
	}

	for _, caller := range []string{"+441234111222", "+33123", "+15551234567", "+216202227"} {
		ok, pattern := m.Match(caller)
		if ok {
			assert.True(t, loaded[pattern], "pattern %q not in loaded set", pattern)
		} else {
			assert.Empty(t, pattern)
		}
	}
}
