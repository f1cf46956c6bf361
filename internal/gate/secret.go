package gate

import (
	"crypto/subtle"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

var (
	// ErrSecretMismatch is the generic rejection. It carries no hint about
	// how close the attempt was.
	ErrSecretMismatch = errors.New("access secret does not match")

	// ErrTooManyAttempts is returned when a client exceeds the attempt
	// budget. The client may retry after backing off; there is no lockout.
	ErrTooManyAttempts = errors.New("too many attempts")

	// ErrSecretNotConfigured is returned when the deployment runs in secret
	// mode without a configured secret.
	ErrSecretNotConfigured = errors.New("access secret is not configured")
)

// SecretGate verifies a submitted shared secret. The expected value may be
// either a bcrypt hash (recommended) or a plain value, in which case the
// comparison is constant-time. Attempts are throttled per client.
type SecretGate struct {
	expected string
	perMin   int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewSecretGate(expected string, attemptsPerMin int) *SecretGate {
	if attemptsPerMin <= 0 {
		attemptsPerMin = 10
	}
	return &SecretGate{
		expected: expected,
		perMin:   attemptsPerMin,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Verify checks the submitted secret. clientKey identifies the caller for
// throttling (the remote address in practice).
func (g *SecretGate) Verify(clientKey, submitted string) error {
	if g.expected == "" {
		return ErrSecretNotConfigured
	}
	if !g.allow(clientKey) {
		return ErrTooManyAttempts
	}

	if isBcryptHash(g.expected) {
		if err := bcrypt.CompareHashAndPassword([]byte(g.expected), []byte(submitted)); err != nil {
			return ErrSecretMismatch
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(g.expected), []byte(submitted)) != 1 {
		return ErrSecretMismatch
	}
	return nil
}

func (g *SecretGate) allow(clientKey string) bool {
	g.mu.Lock()
	limiter, ok := g.limiters[clientKey]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(g.perMin)/60.0), g.perMin)
		g.limiters[clientKey] = limiter
	}
	g.mu.Unlock()
	return limiter.Allow()
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") ||
		strings.HasPrefix(value, "$2b$") ||
		strings.HasPrefix(value, "$2y$")
}
