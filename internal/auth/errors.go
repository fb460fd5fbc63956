package auth

import "errors"

var (
	// ErrInvalidToken covers bad signatures, malformed tokens and expiry.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongTokenKind is returned when a refresh token is presented where an access token is required, or vice versa.
	ErrWrongTokenKind = errors.New("wrong token kind")
	// ErrInvalidSession is returned for unknown, revoked or expired refresh sessions.
	ErrInvalidSession     = errors.New("invalid session")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountSuspended   = errors.New("account suspended")
	ErrEmailTaken         = errors.New("email already registered")
)
