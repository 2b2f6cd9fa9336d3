package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemory is a scripted memory sampler.
type fakeMemory struct {
	mu    sync.Mutex
	alloc uint64
	step  uint64
}

func (f *fakeMemory) sample() MemStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := MemStats{AllocBytes: f.alloc}
	f.alloc += f.step
	return s
}

func (f *fakeMemory) setMB(mb, stepMB int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alloc = uint64(mb) * bytesPerMB
	f.step = uint64(stepMB) * bytesPerMB
}

func newTestGuard(limits ResourceLimits, mem *fakeMemory) (*ResourceGuard, *atomic.Int32) {
	var cleanups atomic.Int32
	g := NewResourceGuard(limits, mem.sample, nil, nil)
	g.cleanup = func() { cleanups.Add(1) }
	return g, &cleanups
}

func TestDefaultResourceLimits(t *testing.T) {
	l := DefaultResourceLimits()
	assert.Equal(t, 256, l.PerAttemptMemoryMB)
	assert.Equal(t, 1024, l.GlobalProcessMemoryMB)
	assert.Equal(t, 8, l.MaxConcurrentEngines)
}

func TestResourceLimits_MaxInputPixels(t *testing.T) {
	assert.Equal(t, int64(64*1024*1024), DefaultResourceLimits().MaxInputPixels())
	assert.Equal(t, int64(262144), ResourceLimits{PerAttemptMemoryMB: 1}.MaxInputPixels())
	assert.Zero(t, ResourceLimits{}.MaxInputPixels())
}

func TestResourceGuard_WithinCeiling(t *testing.T) {
	mem := &fakeMemory{}
	mem.setMB(100, 10)
	g, cleanups := newTestGuard(ResourceLimits{PerAttemptMemoryMB: 64}, mem)

	b := g.Begin("quick", time.Second)
	delta, breached := b.End()
	g.Wait()

	assert.False(t, breached)
	assert.Equal(t, int64(10*bytesPerMB), delta)
	assert.Zero(t, cleanups.Load())
	stats := g.Stats()
	assert.Equal(t, 1, stats.Attempts)
	assert.Zero(t, stats.Breaches)
}

func TestResourceGuard_BreachTriggersCleanup(t *testing.T) {
	mem := &fakeMemory{}
	mem.setMB(100, 300)
	g, cleanups := newTestGuard(ResourceLimits{PerAttemptMemoryMB: 256}, mem)

	b := g.Begin("standard", time.Second)
	_, breached := b.End()
	g.Wait()

	assert.True(t, breached)
	assert.Equal(t, int32(1), cleanups.Load())
	stats := g.Stats()
	assert.Equal(t, 1, stats.Breaches)
	assert.Equal(t, 1, stats.Cleanups)
	assert.False(t, stats.LastBreach.IsZero())
}

func TestResourceGuard_EndIsIdempotent(t *testing.T) {
	mem := &fakeMemory{}
	mem.setMB(0, 300)
	g, cleanups := newTestGuard(ResourceLimits{PerAttemptMemoryMB: 1}, mem)

	b := g.Begin("quick", time.Second)
	b.End()
	b.End()
	g.Wait()

	assert.Equal(t, 1, g.Stats().Breaches)
	assert.Equal(t, int32(1), cleanups.Load())
}

func TestResourceGuard_NoLimitNeverBreaches(t *testing.T) {
	mem := &fakeMemory{}
	mem.setMB(0, 4096)
	g, _ := newTestGuard(ResourceLimits{}, mem)

	_, breached := g.Begin("quick", time.Second).End()
	assert.False(t, breached)
	assert.NoError(t, g.Admit("comprehensive", true))
}

func TestResourceGuard_CleanupIsSingleFlight(t *testing.T) {
	mem := &fakeMemory{}
	mem.setMB(0, 300)
	var runs atomic.Int32
	release := make(chan struct{})
	g := NewResourceGuard(ResourceLimits{PerAttemptMemoryMB: 1}, mem.sample, nil, nil)
	g.cleanup = func() {
		runs.Add(1)
		<-release
	}

	g.Begin("a", time.Second).End()
	g.Begin("b", time.Second).End()
	close(release)
	g.Wait()

	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 2, g.Stats().Breaches)
}

func TestResourceGuard_Admit(t *testing.T) {
	mem := &fakeMemory{}
	mem.setMB(2048, 0)
	g, cleanups := newTestGuard(ResourceLimits{GlobalProcessMemoryMB: 1024}, mem)

	require.NoError(t, g.Admit("standard", false), "cheap tiers are always admitted")

	err := g.Admit("comprehensive", true)
	require.Error(t, err)
	var re *ResourceError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "memory_limit", re.Type)
	assert.Equal(t, 1, re.Stats.Refusals)

	g.Wait()
	assert.Equal(t, int32(1), cleanups.Load())

	mem.setMB(512, 0)
	assert.NoError(t, g.Admit("comprehensive", true))
}

func TestGetMemStats(t *testing.T) {
	s := GetMemStats()
	assert.Positive(t, s.AllocBytes)
	assert.Positive(t, s.Goroutines)
	assert.InDelta(t, float64(s.AllocBytes)/bytesPerMB, s.AllocMB(), 1e-9)
}
