package auth

import (
	"slices"
	"strconv"
	"strings"
)

// Authenticate resolves the session token of a protected request.
// An absent token means the caller never logged in; anything that fails
// verification is reported as an invalid token.
func Authenticate(v Verifier, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, ErrNotLoggedIn
	}
	id, err := v.Verify(token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

// EnsureLoggedOut rejects any request that still carries a token, valid or not.
func EnsureLoggedOut(token string) error {
	if strings.TrimSpace(token) != "" {
		return ErrMustLogout
	}
	return nil
}

// Target identifies the resource a request addresses.
type Target struct {
	ID string
}

// Ownership decides whether an identity may act on a target.
// Implementations must be pure.
type Ownership interface {
	Name() string
	Owns(id Identity, target Target) bool
}

type anyTarget struct{}

func (anyTarget) Name() string               { return "any" }
func (anyTarget) Owns(Identity, Target) bool { return true }

type selfTarget struct{}

func (selfTarget) Name() string { return "self" }

func (selfTarget) Owns(id Identity, target Target) bool {
	n, err := strconv.ParseInt(strings.TrimSpace(target.ID), 10, 64)
	if err != nil {
		return false
	}
	return n == id.SubjectID
}

var (
	// AnyTarget accepts every target.
	AnyTarget Ownership = anyTarget{}
	// SelfTarget accepts a target whose id equals the caller's subject id.
	SelfTarget Ownership = selfTarget{}
)

// Rule is the declarative requirement attached to a protected route.
// A nil Ownership behaves as AnyTarget.
type Rule struct {
	Roles     []Role
	Ownership Ownership
}

// Name describes the rule for logs and metric labels.
func (r Rule) Name() string {
	parts := make([]string, 0, len(r.Roles))
	for _, role := range r.Roles {
		parts = append(parts, strings.ToLower(string(role)))
	}
	return strings.Join(parts, "|") + "/" + r.ownership().Name()
}

func (r Rule) ownership() Ownership {
	if r.Ownership == nil {
		return AnyTarget
	}
	return r.Ownership
}

// Check decides a single request. Admin bypasses both ownership and role
// requirements. For everybody else ownership is evaluated first and the
// role list second; both must pass.
func Check(id *Identity, rule Rule, target Target) error {
	if id == nil {
		return ErrNotLoggedIn
	}
	if id.IsAdmin() {
		return nil
	}
	if !rule.ownership().Owns(*id, target) {
		return ErrAccessDenied
	}
	if !slices.Contains(rule.Roles, id.Role) {
		return ErrAccessDenied
	}
	return nil
}
