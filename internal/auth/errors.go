package auth

import "errors"

// Sentinel errors translated to the apierror taxonomy by callers in the
// gateway package (auth stays free of HTTP concerns).
var (
	ErrInvalidToken      = errors.New("invalid or expired token")
	ErrInactiveUser      = errors.New("inactive user")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenReuse        = errors.New("refresh token reuse detected")
)
