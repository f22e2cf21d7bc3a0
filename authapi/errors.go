package authapi

import "errors"

// Failure taxonomy for identity operations. Sentinels are matched with
// errors.Is; returned errors wrap one of these with endpoint detail.
var (
	// Caller-correctable: reported to the initiating caller, never alters
	// session state.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrValidation         = errors.New("validation failed")

	// Fatal to the current session.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")

	// ErrNetwork covers transport-level failures: connection refused, DNS,
	// timeouts, and 5xx responses. Retryable at the caller's discretion
	// except during refresh, where it ends the session.
	ErrNetwork = errors.New("network error")

	// ErrProvider covers third-party sign-in failures: the provider denied
	// the request or the code exchange was rejected. Fatal to the OAuth
	// attempt only.
	ErrProvider = errors.New("oauth provider error")

	// ErrUnauthorized is the generic invalid-token signal from an
	// authenticated endpoint.
	ErrUnauthorized = errors.New("unauthorized")
)

// Wire values for ErrorBody.Code.
const (
	CodeInvalidCredentials  = "invalid_credentials"
	CodeEmailTaken          = "email_taken"
	CodeValidationError     = "validation_error"
	CodeRefreshTokenInvalid = "invalid_refresh_token"
	CodeProviderError       = "provider_error"
	CodeUnauthorized        = "unauthorized"
)

// SentinelForCode maps a wire error code to its taxonomy sentinel.
func SentinelForCode(code string) (error, bool) {
	switch code {
	case CodeInvalidCredentials:
		return ErrInvalidCredentials, true
	case CodeEmailTaken:
		return ErrEmailTaken, true
	case CodeValidationError:
		return ErrValidation, true
	case CodeRefreshTokenInvalid:
		return ErrRefreshTokenInvalid, true
	case CodeProviderError:
		return ErrProvider, true
	case CodeUnauthorized:
		return ErrUnauthorized, true
	}
	return nil, false
}

// CodeForSentinel is the inverse of SentinelForCode, used by servers
// composing an ErrorBody from a taxonomy error.
func CodeForSentinel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrEmailTaken):
		return CodeEmailTaken
	case errors.Is(err, ErrValidation):
		return CodeValidationError
	case errors.Is(err, ErrRefreshTokenInvalid):
		return CodeRefreshTokenInvalid
	case errors.Is(err, ErrProvider):
		return CodeProviderError
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	}
	return ""
}
