package engine

import "time"

// maxBackoff caps the delay between attempts.
const maxBackoff = time.Second

// retryPolicy bounds how often a conflicting transaction is re-run.
type retryPolicy struct {
	maxAttempts int
	backoff     time.Duration
}

// retryBudget tracks the attempts of one event against a retryPolicy.
type retryBudget struct {
	policy   retryPolicy
	attempts int
}

func newRetryBudget(p retryPolicy) *retryBudget {
	return &retryBudget{policy: p}
}

// next records a failed attempt and returns how long to wait before the
// next one. Once the policy is spent it returns RetriesExhaustedError
// wrapping cause.
func (b *retryBudget) next(key string, cause error) (time.Duration, error) {
	b.attempts++
	if b.attempts >= b.policy.maxAttempts {
		return 0, &RetriesExhaustedError{Key: key, Attempts: b.attempts, Err: cause}
	}
	wait := b.policy.backoff
	for i := 1; i < b.attempts && wait < maxBackoff; i++ {
		wait *= 2
	}
	return min(wait, maxBackoff), nil
}
