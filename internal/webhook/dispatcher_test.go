package webhook

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	prevMax := time.Duration(0)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		d := backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, maxDelay+time.Duration(jitterFrac*float64(maxDelay)))
		_ = prevMax
	}
}

func TestBackoff_AttemptOneIsAboutOneSecond(t *testing.T) {
	d := backoff(1)
	assert.InDelta(t, float64(baseDelay), float64(d), float64(baseDelay)*jitterFrac+1)
}

func TestIsRetriable(t *testing.T) {
	cases := []struct {
		status   int
		err      error
		expected bool
	}{
		{status: http.StatusOK, err: nil, expected: false},
		{status: http.StatusRequestTimeout, err: nil, expected: true},
		{status: http.StatusTooManyRequests, err: nil, expected: true},
		{status: http.StatusInternalServerError, err: nil, expected: true},
		{status: http.StatusBadRequest, err: nil, expected: false},
		{status: http.StatusNotFound, err: nil, expected: false},
		{status: 0, err: assertErr{}, expected: true},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, isRetriable(c.status, c.err))
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "network error" }
