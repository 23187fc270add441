package supervisor

import (
	"math/rand"
	"time"
)

// baseBackoffDelay is BASE_BACKOFF_DELAY from §4.1.
const baseBackoffDelay = 300 * time.Millisecond

// backoffDelay computes the randomized linear-in-n delay for restart
// attempt n (1-indexed): BASE_BACKOFF_DELAY * uniform_int[1, 2n-1].
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	span := 2*attempt - 1
	n := rand.Intn(span) + 1
	return time.Duration(n) * baseBackoffDelay
}
