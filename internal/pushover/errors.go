package pushover

import "fmt"

// AuthReason classifies login failures.
type AuthReason string

const (
	AuthInvalidCredentials AuthReason = "invalid_credentials"
	AuthRateLimited        AuthReason = "rate_limited"
	AuthNetwork            AuthReason = "network"
)

// AuthError is a login failure. Never retried inside the client; the
// bootstrap decides based on Reason. The message never contains the
// password.
type AuthError struct {
	Reason AuthReason
	err    error
}

func (e *AuthError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("login failed (%s): %v", e.Reason, e.err)
	}
	return fmt.Sprintf("login failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.err }

// Transient reports whether the failure may succeed on a plain retry.
// Invalid credentials never will; rate limiting and network failures can.
func (e *AuthError) Transient() bool {
	return e.Reason != AuthInvalidCredentials
}

// RegistrationReason classifies device registration failures.
type RegistrationReason string

const (
	RegistrationNameTaken      RegistrationReason = "name_taken"
	RegistrationInvalidSession RegistrationReason = "invalid_session"
	RegistrationNetwork        RegistrationReason = "network"
)

// RegistrationError is a device registration failure. name_taken is
// user-actionable and fatal until the device name changes.
type RegistrationError struct {
	Reason RegistrationReason
	err    error
}

func (e *RegistrationError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("device registration failed (%s): %v", e.Reason, e.err)
	}
	return fmt.Sprintf("device registration failed (%s)", e.Reason)
}

func (e *RegistrationError) Unwrap() error { return e.err }

// Transient reports whether the bootstrap may retry the registration.
func (e *RegistrationError) Transient() bool {
	return e.Reason == RegistrationNetwork
}
