package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{"zero size", 0, 4096},
		{"negative size", -1, 4096},
		{"small size gets minimum", 1, 4096},
		{"exactly one step", 4096, 4096},
		{"just over one step", 4097, 8192},
		{"large size", 100000, 102400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sizeClass(tt.input))
		})
	}
}

func TestGetBytes_ZeroedAndSized(t *testing.T) {
	buf := GetBytes(100)
	require.Len(t, buf, 100)
	assert.GreaterOrEqual(t, cap(buf), 4096)
	for i := range buf {
		buf[i] = 0xFF
	}
	PutBytes(buf)

	again := GetBytes(100)
	for _, v := range again {
		require.Zero(t, v)
	}
	PutBytes(again)
}

func TestGetFloat64_ZeroedAndSized(t *testing.T) {
	buf := GetFloat64(5000)
	require.Len(t, buf, 5000)
	buf[0] = 3.5
	PutFloat64(buf)

	again := GetFloat64(5000)
	assert.Zero(t, again[0])
	PutFloat64(again)
}

func TestPut_NilAndForeignBuffers(t *testing.T) {
	assert.NotPanics(t, func() {
		PutBytes(nil)
		PutFloat64(nil)
		PutBytes(make([]uint8, 10))
	})
}

func TestDrain(t *testing.T) {
	before := GetStats()
	PutBytes(GetBytes(10))
	Drain()
	after := GetStats()

	assert.Equal(t, before.Drains+1, after.Drains)
	assert.Greater(t, after.Gets, before.Gets)

	buf := GetBytes(10)
	assert.Len(t, buf, 10)
	PutBytes(buf)
}

func TestConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for range 100 {
				b := GetBytes(n*100 + 1)
				f := GetFloat64(n*50 + 1)
				PutBytes(b)
				PutFloat64(f)
			}
			if n == 0 {
				Drain()
			}
		}(i)
	}
	wg.Wait()
}
