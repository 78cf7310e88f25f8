package auth

import (
	"errors"
	"net/http"
)

// Challenge is the HTTP rejection for a failed authentication.
type Challenge struct {
	Status int
	// WWWAuthenticate is empty when no header should be sent.
	WWWAuthenticate string
	Code            string
	Message         string
}

// ChallengeFor maps an Authenticator error to the response the gateway
// sends.
func ChallengeFor(err error) Challenge {
	switch {
	case errors.Is(err, ErrMisconfigured):
		return Challenge{
			Status:  http.StatusInternalServerError,
			Code:    "SERVER_MISCONFIGURED",
			Message: "Server misconfigured: no auth token.",
		}
	case errors.Is(err, ErrInsufficientScope):
		return Challenge{
			Status:          http.StatusForbidden,
			WWWAuthenticate: `Bearer error="insufficient_scope"`,
			Code:            "FORBIDDEN",
			Message:         "Insufficient scope.",
		}
	default:
		return Challenge{
			Status:          http.StatusUnauthorized,
			WWWAuthenticate: "Bearer",
			Code:            "UNAUTHORIZED",
			Message:         "Unauthorized.",
		}
	}
}
