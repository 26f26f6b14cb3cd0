// Package policy holds the immutable decision snapshot every session
// consults: which hosts are banned, which tokens are valid, and whether
// authorization is required at all. Built once at startup (see
// internal/config) and shared read-only across every session goroutine —
// no locks needed since nothing ever mutates it after construction.
package policy

// Policy is the banned-host set, token set, and auth-enabled flag a
// session checks on every request. Once constructed it is never
// mutated; sessions only read it.
type Policy struct {
	AuthEnabled bool
	tokens      map[string]struct{}
	bannedHosts map[string]struct{}
}

// New builds a Policy from raw token and banned-host lists. Duplicate or
// blank entries are harmless; blanks are dropped since an empty token or
// host could never match a real request field.
func New(authEnabled bool, tokens, bannedHosts []string) *Policy {
	p := &Policy{
		AuthEnabled: authEnabled,
		tokens:      make(map[string]struct{}, len(tokens)),
		bannedHosts: make(map[string]struct{}, len(bannedHosts)),
	}
	for _, t := range tokens {
		if t != "" {
			p.tokens[t] = struct{}{}
		}
	}
	for _, h := range bannedHosts {
		if h != "" {
			p.bannedHosts[h] = struct{}{}
		}
	}
	return p
}

// HasToken reports whether token is in the configured token set. Exact
// byte comparison, no prefix stripping: the proxy treats the header
// value as an opaque credential, not a scheme it needs to parse.
func (p *Policy) HasToken(token string) bool {
	if p == nil {
		return false
	}
	_, ok := p.tokens[token]
	return ok
}

// IsBanned reports whether host is exact-match banned. No suffix or
// wildcard matching: a banlist entry names one host, not a domain tree.
func (p *Policy) IsBanned(host string) bool {
	if p == nil {
		return false
	}
	_, ok := p.bannedHosts[host]
	return ok
}

func (p *Policy) TokenCount() int  { return len(p.tokens) }
func (p *Policy) BannedCount() int { return len(p.bannedHosts) }
