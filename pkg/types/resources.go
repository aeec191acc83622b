package types

import "fmt"

// Resources describes a resource vector requested by a task or offered by a worker.
type Resources struct {
	Cores    int   `json:"cores" yaml:"cores"`
	MemoryMB int64 `json:"memory_mb" yaml:"memory_mb"`
	DiskMB   int64 `json:"disk_mb" yaml:"disk_mb"`
}

// Add returns r + o.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		Cores:    r.Cores + o.Cores,
		MemoryMB: r.MemoryMB + o.MemoryMB,
		DiskMB:   r.DiskMB + o.DiskMB,
	}
}

// Sub returns r - o.
func (r Resources) Sub(o Resources) Resources {
	return Resources{
		Cores:    r.Cores - o.Cores,
		MemoryMB: r.MemoryMB - o.MemoryMB,
		DiskMB:   r.DiskMB - o.DiskMB,
	}
}

// FitsIn reports whether r fits inside avail in every dimension.
func (r Resources) FitsIn(avail Resources) bool {
	return r.Cores <= avail.Cores && r.MemoryMB <= avail.MemoryMB && r.DiskMB <= avail.DiskMB
}

// IsNegative reports whether any dimension is below zero.
func (r Resources) IsNegative() bool {
	return r.Cores < 0 || r.MemoryMB < 0 || r.DiskMB < 0
}

// IsZero reports whether every dimension is zero.
func (r Resources) IsZero() bool {
	return r == Resources{}
}

// Compare orders resource vectors by cores, then memory, then disk.
// It returns -1, 0 or +1.
func (r Resources) Compare(o Resources) int {
	switch {
	case r.Cores != o.Cores:
		return cmpInt64(int64(r.Cores), int64(o.Cores))
	case r.MemoryMB != o.MemoryMB:
		return cmpInt64(r.MemoryMB, o.MemoryMB)
	default:
		return cmpInt64(r.DiskMB, o.DiskMB)
	}
}

func (r Resources) String() string {
	return fmt.Sprintf("cores=%d memory=%dMB disk=%dMB", r.Cores, r.MemoryMB, r.DiskMB)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
