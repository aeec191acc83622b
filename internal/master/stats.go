package master

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"yqhp/work-queue/pkg/types"
)

// Runtimes are recorded in microseconds, up to one week.
const (
	minRuntimeUS = 1
	maxRuntimeUS = int64(7 * 24 * time.Hour / time.Microsecond)
)

// runtimeStats records how long completed tasks ran.
type runtimeStats struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func newRuntimeStats() *runtimeStats {
	return &runtimeStats{hist: hdrhistogram.New(minRuntimeUS, maxRuntimeUS, 3)}
}

func (s *runtimeStats) Record(d time.Duration) {
	us := d.Microseconds()
	if us < minRuntimeUS {
		us = minRuntimeUS
	}
	if us > maxRuntimeUS {
		us = maxRuntimeUS
	}

	s.mu.Lock()
	_ = s.hist.RecordValue(us)
	s.mu.Unlock()
}

func (s *runtimeStats) Snapshot() types.RuntimeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hist.TotalCount() == 0 {
		return types.RuntimeStats{}
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return types.RuntimeStats{
		Count: s.hist.TotalCount(),
		Mean:  time.Duration(s.hist.Mean() * float64(time.Microsecond)),
		P50:   us(s.hist.ValueAtQuantile(50)),
		P95:   us(s.hist.ValueAtQuantile(95)),
		P99:   us(s.hist.ValueAtQuantile(99)),
		Max:   us(s.hist.Max()),
	}
}
