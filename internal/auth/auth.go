// Package auth checks the shared tokens carried in frame auth bytes and in
// admin Authorization headers.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator accepts or rejects a presented token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one token. An empty Token rejects everything.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" || !equal(s.Token, token) {
		return ErrUnauthorized
	}
	return nil
}

// TokenSet accepts any of several tokens, e.g. while rotating a secret.
type TokenSet []string

func (s TokenSet) Validate(token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	ok := false
	for _, want := range s {
		// compare against every entry so timing does not reveal the match index
		if want != "" && equal(want, token) {
			ok = true
		}
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
