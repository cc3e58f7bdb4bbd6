package auth

import "errors"

var (
	ErrNotLoggedIn        = errors.New("auth: not logged in")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
	ErrAccessDenied       = errors.New("auth: access denied")
	ErrMustLogout         = errors.New("auth: need to logout")
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrInvalidInput       = errors.New("auth: invalid input")
)
