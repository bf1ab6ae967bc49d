package ratelimit

import (
	"crypto/sha256"
	"crypto/subtle"
	"time"

	"github.com/ternarybob/arbor"
)

// Result is the structured outcome of a credential check. A denial is not an error.
type Result struct {
	OK         bool          `json:"ok"`
	Locked     bool          `json:"locked"`
	RetryAfter time.Duration `json:"-"`
}

// Verifier compares supplied credentials against the expected pair behind a Limiter
type Verifier struct {
	limiter        *Limiter
	username       [sha256.Size]byte
	secret         [sha256.Size]byte
	maxFieldLength int
	logger         arbor.ILogger
}

// NewVerifier creates a Verifier for the expected username and secret
func NewVerifier(limiter *Limiter, username, secret string, maxFieldLength int, logger arbor.ILogger) *Verifier {
	if maxFieldLength <= 0 {
		maxFieldLength = 256
	}
	return &Verifier{
		limiter:        limiter,
		username:       sha256.Sum256([]byte(capLength(username, maxFieldLength))),
		secret:         sha256.Sum256([]byte(capLength(secret, maxFieldLength))),
		maxFieldLength: maxFieldLength,
		logger:         logger,
	}
}

// Verify checks the rate limit for username, then compares both fields in constant time
func (v *Verifier) Verify(username, secret string) Result {
	username = capLength(username, v.maxFieldLength)
	secret = capLength(secret, v.maxFieldLength)

	if d := v.limiter.Check(username); !d.Allowed {
		return Result{Locked: true, RetryAfter: d.RetryAfter}
	}

	gotUser := sha256.Sum256([]byte(username))
	gotSecret := sha256.Sum256([]byte(secret))

	// Both comparisons always run
	userOK := subtle.ConstantTimeCompare(gotUser[:], v.username[:])
	secretOK := subtle.ConstantTimeCompare(gotSecret[:], v.secret[:])

	if userOK&secretOK == 1 {
		v.limiter.Clear(username)
		return Result{OK: true}
	}

	d := v.limiter.RecordFailure(username)
	v.logger.Info().Str("username", username).Bool("locked", !d.Allowed).Msg("Credential check denied")
	return Result{Locked: !d.Allowed, RetryAfter: d.RetryAfter}
}

func capLength(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
