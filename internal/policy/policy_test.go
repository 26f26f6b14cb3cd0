package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDropsBlankEntries(t *testing.T) {
	p := New(true, []string{"abc", "", "123"}, []string{"evil.example", ""})
	assert.Equal(t, 2, p.TokenCount())
	assert.Equal(t, 1, p.BannedCount())
}

func TestHasToken(t *testing.T) {
	p := New(true, []string{"abc123"}, nil)
	assert.True(t, p.HasToken("abc123"))
	assert.False(t, p.HasToken("Abc123"))
	assert.False(t, p.HasToken(""))
}

func TestIsBannedExactMatch(t *testing.T) {
	p := New(false, nil, []string{"anytask.org"})
	assert.True(t, p.IsBanned("anytask.org"))
	assert.False(t, p.IsBanned("sub.anytask.org"))
	assert.False(t, p.IsBanned("anytask.org.evil.com"))
}

func TestNilPolicySafe(t *testing.T) {
	var p *Policy
	assert.False(t, p.HasToken("x"))
	assert.False(t, p.IsBanned("x"))
}
