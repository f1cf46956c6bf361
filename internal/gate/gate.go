// Package gate decides whether a session may proceed past the login screen.
// Exactly one variant is active per deployment: the federated Google
// redirect flow ("google") or the shared-secret form ("secret").
package gate

// State is the gate's view of a session. Unknown means a redirect-based
// sign-in completion is still being resolved.
type State string

const (
	StateUnknown         State = "unknown"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// Error codes surfaced to the UI. An unauthorized-domain failure gets its
// own code so the login screen can show the configuration hint instead of
// the generic message; both leave the session unauthenticated and
// retryable.
const (
	CodeAuthDomain = "AUTH_DOMAIN"
	CodeAuthFailed = "AUTH_FAILED"
)
