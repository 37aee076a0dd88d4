package service

import (
	"errors"

	"github.com/Skotchmaster/member_auth/internal/repo"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrDuplicateEmail      = errors.New("email already in use")
	ErrBadCredentials      = errors.New("invalid email or password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSessionExpired      = errors.New("refresh session expired")
	ErrUnauthenticated     = errors.New("authentication required")
)

// IsAuthFailure reports whether err is the caller's fault (401) rather than
// a server fault.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidRefreshToken) ||
		errors.Is(err, repo.ErrSessionMismatch) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, repo.ErrMemberNotFound) ||
		errors.Is(err, ErrUnauthenticated)
}
