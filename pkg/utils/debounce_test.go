package utils

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_OnlyLastRuns(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var calls, last atomic.Int32

	for i := int32(1); i <= 5; i++ {
		i := i
		d.Trigger(func() {
			calls.Add(1)
			last.Store(i)
		})
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(5), last.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_FlushAndStop(t *testing.T) {
	d := NewDebouncer(time.Hour)
	var calls atomic.Int32

	d.Trigger(func() { calls.Add(1) })
	assert.True(t, d.Pending())
	assert.True(t, d.Flush())
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, d.Flush())

	d.Trigger(func() { calls.Add(1) })
	assert.True(t, d.Stop())
	assert.False(t, d.Flush())
	assert.Equal(t, int32(1), calls.Load())
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{in: "hello", limit: 10, want: "hello"},
		{in: "hello world", limit: 5, want: "hello..."},
		{in: "你好世界", limit: 2, want: "你好..."},
		{in: "x", limit: 0, want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncateRunes(tt.in, tt.limit, "..."))
	}
}
