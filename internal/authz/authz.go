// Package authz implements the single authorization decision: given a
// parsed request and the active policy, decide accept or reject. It
// returns a tagged result rather than an error so the caller can branch
// on the outcome without treating a deny as exceptional control flow.
package authz

import (
	"github.com/portcullis/portcullis/internal/policy"
	"github.com/portcullis/portcullis/internal/reqhead"
)

// Outcome is the discriminated result of a Check call.
type Outcome int

const (
	Allow Outcome = iota
	Unauthorized
)

// Check decides accept/reject for head under p. Token comparison is
// exact-byte; no "Bearer " or other prefix is ever stripped, since the
// wire protocol here isn't OAuth-style bearer auth, just an opaque
// shared token in Proxy-Authorization.
func Check(head *reqhead.Head, p *policy.Policy) Outcome {
	if p == nil || !p.AuthEnabled {
		return Allow
	}
	if !head.HasToken {
		return Unauthorized
	}
	if !p.HasToken(head.Token) {
		return Unauthorized
	}
	return Allow
}
