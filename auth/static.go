package auth

import (
	"context"
	"crypto/subtle"
)

// StaticUserID is the principal every valid static token maps to.
const StaticUserID = "owner"

// StaticToken accepts exactly one shared secret.
type StaticToken struct {
	token func() string
}

// NewStaticToken returns an Authenticator for a fixed token.
func NewStaticToken(token string) *StaticToken {
	return &StaticToken{token: func() string { return token }}
}

// NewStaticTokenFunc returns an Authenticator that reads the expected token
// on every check, so a rotated token applies without a restart.
func NewStaticTokenFunc(token func() string) *StaticToken {
	return &StaticToken{token: token}
}

// CheckAuthentication compares tok in constant time. An empty configured
// token rejects everything with ErrMisconfigured.
func (s *StaticToken) CheckAuthentication(_ context.Context, tok string) (UserInfo, error) {
	want := s.token()
	if want == "" {
		return nil, ErrMisconfigured
	}
	if subtle.ConstantTimeCompare([]byte(tok), []byte(want)) != 1 {
		return nil, ErrUnauthorized
	}
	return staticUser{}, nil
}

type staticUser struct{}

func (staticUser) UserID() string   { return StaticUserID }
func (staticUser) Claims(any) error { return nil }
