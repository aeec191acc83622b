package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name     string
		backoff  Backoff
		failures int
		want     time.Duration
	}{
		{"none", Backoff{Type: BackoffNone, Base: time.Second}, 3, 0},
		{"fixed", Backoff{Type: BackoffFixed, Base: time.Second}, 3, time.Second},
		{"linear", Backoff{Type: BackoffLinear, Base: time.Second}, 3, 3 * time.Second},
		{"exponential", Backoff{Type: BackoffExponential, Base: time.Second}, 4, 8 * time.Second},
		{"exponential capped", Backoff{Type: BackoffExponential, Base: time.Second, MaxDelay: 5 * time.Second}, 10, 5 * time.Second},
		{"linear capped", Backoff{Type: BackoffLinear, Base: time.Second, MaxDelay: 2 * time.Second}, 10, 2 * time.Second},
		{"zero failures", Backoff{Type: BackoffLinear, Base: time.Second}, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.backoff.Delay(tt.failures))
		})
	}
}

func TestParseBackoffType(t *testing.T) {
	assert.Equal(t, BackoffExponential, ParseBackoffType("Exponential"))
	assert.Equal(t, BackoffLinear, ParseBackoffType("linear"))
	assert.Equal(t, BackoffNone, ParseBackoffType(""))
	assert.Equal(t, BackoffNone, ParseBackoffType("jitter"))
}
