// Package auth provides minimal authentication helpers for the control
// surface.
//
// It intentionally avoids policy decisions and storage concerns; the
// decision engine's guards decide what an authorized caller may do.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Role classifies a control-surface caller. Admins bypass the engine's
// soft guards; chat callers are rate-limited by the chat cooldown.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleChat     Role = "chat"
)

// Authorizer resolves a token to a caller role.
type Authorizer interface {
	Authorize(token string) (Role, error)
}

// StaticTokens maps one shared token per role. Empty tokens disable
// that role. Intended for development and single-operator setups.
type StaticTokens struct {
	Admin    string
	Operator string
	Chat     string
}

func (s StaticTokens) Authorize(token string) (Role, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	if match(s.Admin, token) {
		return RoleAdmin, nil
	}
	if match(s.Operator, token) {
		return RoleOperator, nil
	}
	if match(s.Chat, token) {
		return RoleChat, nil
	}
	return "", ErrUnauthorized
}

func match(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// FuncAuthorizer adapts a function into an Authorizer.
type FuncAuthorizer func(token string) (Role, error)

func (f FuncAuthorizer) Authorize(token string) (Role, error) {
	return f(token)
}
