package verification

import "errors"

var (
	ErrNoChallenge        = errors.New("verification: no active challenge")
	ErrExpired            = errors.New("verification: code expired")
	ErrInvalidCode        = errors.New("verification: invalid code")
	ErrInvalidToken       = errors.New("verification: invalid or expired token")
	ErrTooManyAttempts    = errors.New("verification: too many failed attempts")
	ErrUnknownPurpose     = errors.New("verification: unknown purpose")
	ErrConflict           = errors.New("verification: concurrent update")
	ErrStorageUnavailable = errors.New("verification: storage unavailable")
)
