package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/portcullis/portcullis/internal/policy"
	"github.com/portcullis/portcullis/internal/reqhead"
)

func TestCheckAuthDisabledAllowsAnything(t *testing.T) {
	p := policy.New(false, []string{"123"}, nil)
	head := &reqhead.Head{HasToken: false}
	assert.Equal(t, Allow, Check(head, p))
}

func TestCheckAuthDisabledNilPolicy(t *testing.T) {
	head := &reqhead.Head{}
	assert.Equal(t, Allow, Check(head, nil))
}

func TestCheckMissingTokenUnauthorized(t *testing.T) {
	p := policy.New(true, []string{"123"}, nil)
	head := &reqhead.Head{HasToken: false}
	assert.Equal(t, Unauthorized, Check(head, p))
}

func TestCheckWrongTokenUnauthorized(t *testing.T) {
	p := policy.New(true, []string{"123"}, nil)
	head := &reqhead.Head{HasToken: true, Token: "Bearer 123"}
	assert.Equal(t, Unauthorized, Check(head, p))
}

func TestCheckExactTokenAllowed(t *testing.T) {
	p := policy.New(true, []string{"123"}, nil)
	head := &reqhead.Head{HasToken: true, Token: "123"}
	assert.Equal(t, Allow, Check(head, p))
}
