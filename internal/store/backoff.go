package store

import (
	"strings"
	"time"
)

// BackoffType 重试退避策略类型
type BackoffType string

const (
	BackoffNone        BackoffType = "none"
	BackoffFixed       BackoffType = "fixed"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// ParseBackoffType maps a config string onto a BackoffType, defaulting to none.
func ParseBackoffType(s string) BackoffType {
	switch BackoffType(strings.ToLower(s)) {
	case BackoffFixed:
		return BackoffFixed
	case BackoffLinear:
		return BackoffLinear
	case BackoffExponential:
		return BackoffExponential
	default:
		return BackoffNone
	}
}

// Backoff delays a retrying task before it becomes schedulable again.
type Backoff struct {
	Type     BackoffType
	Base     time.Duration
	MaxDelay time.Duration
}

// Delay returns the wait after the given number of failures.
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}

	var d time.Duration
	switch b.Type {
	case BackoffFixed:
		d = b.Base
	case BackoffLinear:
		d = b.Base * time.Duration(failures)
	case BackoffExponential:
		d = b.Base
		for i := 1; i < failures && i < 32; i++ {
			d *= 2
			if b.MaxDelay > 0 && d >= b.MaxDelay {
				break
			}
		}
	default:
		return 0
	}

	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}
