package instagram

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayBounds(t *testing.T) {
	b := DefaultBackoff()

	assert.Equal(t, time.Duration(0), b.Delay(1))

	for attempt := 2; attempt <= 6; attempt++ {
		exp := float64(b.Base) * 1
		for i := 2; i < attempt; i++ {
			exp *= b.Factor
		}
		if exp > float64(b.Max) {
			exp = float64(b.Max)
		}

		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, float64(d), 0.5*exp)
			assert.LessOrEqual(t, d, b.Max)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	b := DefaultBackoff()

	// Well past the point where 500ms * 2^n exceeds 30s
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, b.Delay(20), b.Max)
	}
}

func TestDelayForErrorRetryAfterHint(t *testing.T) {
	b := DefaultBackoff()
	err := &APIError{HTTPStatus: 429, RetryAfter: 7 * time.Second, Kind: KindTransient}

	assert.Equal(t, 7*time.Second, b.DelayForError(2, err))
}

func TestDelayForErrorHintlessRateLimitUsesCap(t *testing.T) {
	b := DefaultBackoff()
	err := &APIError{Code: codeAPITooManyCalls, Kind: KindTransient}

	assert.Equal(t, b.Max, b.DelayForError(2, err))
}

func TestDelayForErrorNonRateLimit(t *testing.T) {
	b := DefaultBackoff()
	err := &APIError{HTTPStatus: 500, Kind: KindTransient}

	d := b.DelayForError(2, err)
	assert.GreaterOrEqual(t, d, b.Base/2)
	assert.LessOrEqual(t, d, b.Base*3/2)

	assert.NotZero(t, b.DelayForError(3, errors.New("dial tcp: connection refused")))
}
