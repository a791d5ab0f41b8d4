package parse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/mailcheck/internal/parse"
)

func TestSplit_ASCII(t *testing.T) {
	a, err := parse.Split("user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user", a.Local)
	assert.Equal(t, "example.com", a.Domain)
	assert.Equal(t, "example.com", a.DomainUnicode)
	assert.Equal(t, "user@example.com", a.String())
}

func TestSplit_Whitespace(t *testing.T) {
	a, err := parse.Split("  user@example.com  ")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", a.Raw)
}

func TestSplit_Invalid(t *testing.T) {
	tests := []struct {
		raw  string
		want error
	}{
		{"", parse.ErrEmpty},
		{"   ", parse.ErrEmpty},
		{"noatsign", parse.ErrAtCount},
		{"two@@example.com", parse.ErrAtCount},
		{"a@b@example.com", parse.ErrAtCount},
		{"@nodomain", parse.ErrEmptyLocal},
		{"nolocal@", parse.ErrEmptyDomain},
	}
	for _, tt := range tests {
		_, err := parse.Split(tt.raw)
		assert.ErrorIs(t, err, tt.want, "input %q", tt.raw)
	}
}

func TestSplit_DomainCaseNormalization(t *testing.T) {
	a, err := parse.Split("User@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "User", a.Local)
	assert.Equal(t, "example.com", a.Domain)
}

func TestSplit_IDN_UnicodeDomain(t *testing.T) {
	a, err := parse.Split("user@münchen.de")
	require.NoError(t, err)
	assert.Equal(t, "xn--mnchen-3ya.de", a.Domain)
	assert.Equal(t, "münchen.de", a.DomainUnicode)
}

func TestSplit_IDN_PunycodeDomain(t *testing.T) {
	a, err := parse.Split("user@xn--mnchen-3ya.de")
	require.NoError(t, err)
	assert.Equal(t, "xn--mnchen-3ya.de", a.Domain)
	assert.Equal(t, "münchen.de", a.DomainUnicode)
}

func TestSplit_IDN_CyrillicDomain(t *testing.T) {
	a, err := parse.Split("user@почта.рф")
	require.NoError(t, err)
	assert.Equal(t, "xn--80a1acny.xn--p1ai", a.Domain)
	assert.Equal(t, "почта.рф", a.DomainUnicode)
}

func TestSplit_EAI_UnicodeLocal(t *testing.T) {
	a, err := parse.Split("用户@example.com")
	require.NoError(t, err)
	assert.Equal(t, "用户", a.Local)
	assert.Equal(t, "example.com", a.Domain)
}
