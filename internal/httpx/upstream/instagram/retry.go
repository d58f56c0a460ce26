package instagram

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential delays with jitter for transport retries
type Backoff struct {
	// Base is the delay before the second attempt
	Base time.Duration
	// Max caps the computed delay
	Max time.Duration
	// Factor multiplies the delay per attempt
	Factor float64
}

// DefaultBackoff matches the pipeline's transport retry contract
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2.0,
	}
}

// Delay returns the wait before attempt n (n >= 2), jittered into
// [0.5, 1.5] of the exponential value and capped at Max
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := float64(b.Base) * math.Pow(b.Factor, float64(attempt-2))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// Jitter to avoid thundering herd
	delay *= 0.5 + rand.Float64()

	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

// DelayForError honors a rate-limit retry_after hint when present, falls
// back to the cap for hintless rate limits, and uses exponential backoff
// otherwise
func (b Backoff) DelayForError(attempt int, err error) time.Duration {
	var apiErr *APIError
	if asAPIError(err, &apiErr) && rateLimited(apiErr) {
		if apiErr.RetryAfter > 0 {
			return apiErr.RetryAfter
		}
		return b.Max
	}
	return b.Delay(attempt)
}

func rateLimited(e *APIError) bool {
	if e.HTTPStatus == 429 {
		return true
	}
	switch e.Code {
	case codeAPITooManyCalls, codeUserTooManyCall, codePageRateLimit, codeCustomRateLimit:
		return true
	}
	return false
}

// wait sleeps for delay or returns early on cancellation
func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
