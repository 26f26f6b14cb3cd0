package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBothFilesPresent(t *testing.T) {
	dir := t.TempDir()
	banlist := writeFile(t, dir, "banlist.json", `{"banlist":["anytask.org","mathprofi.ru"]}`)
	tokens := writeFile(t, dir, "tokens.json", `{"tokens":["123"]}`)

	p, err := Load(Options{
		Host:        "localhost",
		Port:        30303,
		AuthEnabled: true,
		BanlistPath: banlist,
		TokensPath:  tokens,
	})
	require.NoError(t, err)
	assert.True(t, p.IsBanned("anytask.org"))
	assert.True(t, p.IsBanned("mathprofi.ru"))
	assert.True(t, p.HasToken("123"))
	assert.True(t, p.AuthEnabled)
}

func TestLoadMissingFilesTolerated(t *testing.T) {
	dir := t.TempDir()
	p, err := Load(Options{
		Host:        "localhost",
		Port:        30303,
		BanlistPath: filepath.Join(dir, "nope-banlist.json"),
		TokensPath:  filepath.Join(dir, "nope-tokens.json"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, p.TokenCount())
	assert.Equal(t, 0, p.BannedCount())
}

func TestLoadMalformedJSONErrors(t *testing.T) {
	dir := t.TempDir()
	banlist := writeFile(t, dir, "banlist.json", `{not valid json`)
	_, err := Load(Options{BanlistPath: banlist, TokensPath: filepath.Join(dir, "nope.json")})
	assert.Error(t, err)
}
