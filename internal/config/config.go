// Package config assembles the immutable policy.Policy the server hands
// to every session, from CLI flags plus a banlist JSON file and a
// tokens JSON file. Either file may simply not exist — a banlist-only
// or auth-only deployment is normal — so a missing file is logged and
// treated as an empty list rather than a startup error.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/portcullis/portcullis/internal/logx"
	"github.com/portcullis/portcullis/internal/policy"
)

var log = logx.New(logx.WithPrefix("config"))

// Options are the parsed CLI flags that feed policy construction and
// server startup (see cmd/portcullis).
type Options struct {
	Host        string
	Port        int
	AuthEnabled bool
	BanlistPath string
	TokensPath  string
}

type banlistFile struct {
	Banlist []string `json:"banlist"`
}

type tokensFile struct {
	Tokens []string `json:"tokens"`
}

// Load reads the banlist and tokens JSON files named by opts, ignoring
// either one if it doesn't exist, and builds a Policy snapshot.
func Load(opts Options) (*policy.Policy, error) {
	banned, err := loadList(opts.BanlistPath, func(b []byte) ([]string, error) {
		var f banlistFile
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, err
		}
		return f.Banlist, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load banlist %q: %w", opts.BanlistPath, err)
	}
	log.Infof("banlist loaded from %s (%d hosts)", opts.BanlistPath, len(banned))

	tokens, err := loadList(opts.TokensPath, func(b []byte) ([]string, error) {
		var f tokensFile
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, err
		}
		return f.Tokens, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load tokens %q: %w", opts.TokensPath, err)
	}
	log.Infof("tokens loaded from %s (%d tokens); auth_enabled=%v", opts.TokensPath, len(tokens), opts.AuthEnabled)

	return policy.New(opts.AuthEnabled, tokens, banned), nil
}

func loadList(path string, decode func([]byte) ([]string, error)) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("%s not found, skipping", path)
			return nil, nil
		}
		return nil, err
	}
	return decode(b)
}
