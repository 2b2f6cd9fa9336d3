package pipeline

import (
	"runtime"
)

const bytesPerMB = 1024 * 1024

// MemStats summarizes memory usage information.
type MemStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	HeapInuseBytes  uint64 `json:"heap_inuse_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	Goroutines      int    `json:"goroutines"`
}

// AllocMB returns the live heap in megabytes.
func (m MemStats) AllocMB() float64 { return float64(m.AllocBytes) / bytesPerMB }

// GetMemStats captures current memory statistics.
func GetMemStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		HeapInuseBytes:  m.HeapInuse,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		Goroutines:      runtime.NumGoroutine(),
	}
}

func megabytes(mb int) uint64 {
	if mb <= 0 {
		return 0
	}
	return uint64(mb) * bytesPerMB
}
