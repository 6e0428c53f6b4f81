package federation

import "errors"

var (
	// ErrUnknownProvider means the requested provider is not configured.
	ErrUnknownProvider = errors.New("unknown identity provider")

	// ErrInvalidFlow means the state nonce was missing, expired, or
	// already consumed. Recoverable by restarting login.
	ErrInvalidFlow = errors.New("invalid login flow")

	// ErrProviderUnavailable means the provider could not be reached
	// or timed out. The flow record is already consumed, so the caller
	// must restart login; the operation itself is retryable.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrInvalidAssertion means the provider's response could not be
	// trusted: bad issuer, audience, nonce, or a missing subject.
	ErrInvalidAssertion = errors.New("invalid identity assertion")
)
