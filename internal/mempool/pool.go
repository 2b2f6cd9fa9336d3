// Package mempool provides sized pools for the pixel buffers used by the
// image preparation transforms.
package mempool

import (
	"sync"
	"sync/atomic"
)

var (
	bytePools    sync.Map // key: size class (int), value: *sync.Pool
	float64Pools sync.Map // key: size class (int), value: *sync.Pool

	gets   atomic.Int64
	puts   atomic.Int64
	drains atomic.Int64
)

// Stats reports pool usage counters.
type Stats struct {
	Gets   int64 `json:"gets"`
	Puts   int64 `json:"puts"`
	Drains int64 `json:"drains"`
}

// sizeClass rounds n up to the next multiple of 4096 to reduce churn.
func sizeClass(n int) int {
	const step = 4096
	if n <= step {
		return step
	}
	r := (n + step - 1) / step
	return r * step
}

func pool[T any](pools *sync.Map, cls int) *sync.Pool {
	pAny, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]T, cls) }})
	p, ok := pAny.(*sync.Pool)
	if !ok {
		return &sync.Pool{New: func() any { return make([]T, cls) }}
	}
	return p
}

func get[T any](pools *sync.Map, n int) []T {
	gets.Add(1)
	cls := sizeClass(n)
	buf, ok := pool[T](pools, cls).Get().([]T)
	if !ok || cap(buf) < cls {
		buf = make([]T, cls)
	}
	buf = buf[:n]
	clear(buf)
	return buf
}

func put[T any](pools *sync.Map, buf []T) {
	if buf == nil {
		return
	}
	puts.Add(1)
	cls := sizeClass(cap(buf))
	if cls != cap(buf) {
		// Buffers that did not come from a pool are not worth keeping.
		return
	}
	pool[T](pools, cls).Put(buf[:cap(buf)]) //nolint:staticcheck
}

// GetBytes retrieves a zeroed []uint8 of length n.
// The caller must return it via PutBytes when done.
func GetBytes(n int) []uint8 { return get[uint8](&bytePools, n) }

// PutBytes returns a buffer to the pool. It is safe to pass a nil slice.
func PutBytes(buf []uint8) { put(&bytePools, buf) }

// GetFloat64 retrieves a zeroed []float64 of length n.
// The caller must return it via PutFloat64 when done.
func GetFloat64(n int) []float64 { return get[float64](&float64Pools, n) }

// PutFloat64 returns a buffer to the pool. It is safe to pass a nil slice.
func PutFloat64(buf []float64) { put(&float64Pools, buf) }

// Drain drops every pooled buffer so the next GC cycle can reclaim them.
func Drain() {
	bytePools.Clear()
	float64Pools.Clear()
	drains.Add(1)
}

// GetStats returns a snapshot of the pool counters.
func GetStats() Stats {
	return Stats{Gets: gets.Load(), Puts: puts.Load(), Drains: drains.Load()}
}
