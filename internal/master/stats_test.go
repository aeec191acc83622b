package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeStats(t *testing.T) {
	s := newRuntimeStats()
	assert.Zero(t, s.Snapshot().Count)

	for i := 1; i <= 100; i++ {
		s.Record(time.Duration(i) * time.Millisecond)
	}
	s.Record(0)

	snap := s.Snapshot()
	assert.Equal(t, int64(101), snap.Count)
	assert.InDelta(t, float64(50*time.Millisecond), float64(snap.P50), float64(time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(snap.P99), float64(time.Millisecond))
	assert.InDelta(t, float64(100*time.Millisecond), float64(snap.Max), float64(time.Millisecond))
	assert.Greater(t, snap.Mean, 40*time.Millisecond)
}
