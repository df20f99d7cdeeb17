package unlock

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_UnlockedFromStart(t *testing.T) {
	g := NewGate(true)
	assert.True(t, g.IsUnlocked())

	called := false
	require.NoError(t, g.RequestPlay("a", func() { called = true }))
	assert.False(t, called)
	assert.False(t, g.HasPending())
}

func TestGate_PendingFiresOnceOnFirstGesture(t *testing.T) {
	g := NewGate(false)

	var calls atomic.Int32
	err := g.RequestPlay("a", func() { calls.Add(1) })
	assert.ErrorIs(t, err, ErrPending)
	assert.True(t, g.HasPending())

	g.RecordUserGesture()
	g.RecordUserGesture()

	assert.True(t, g.IsUnlocked())
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, g.HasPending())
}

func TestGate_LaterRequestReplacesEarlier(t *testing.T) {
	g := NewGate(false)

	var first, second bool
	_ = g.RequestPlay("a", func() { first = true })
	_ = g.RequestPlay("a", func() { second = true })
	g.RecordUserGesture()

	assert.False(t, first)
	assert.True(t, second)
}

func TestGate_CancelPending(t *testing.T) {
	g := NewGate(false)

	called := false
	_ = g.RequestPlay("a", func() { called = true })
	g.CancelPending("a")
	g.RecordUserGesture()

	assert.False(t, called)
	assert.True(t, g.IsUnlocked())
}

func TestGate_CallbackMayUseGate(t *testing.T) {
	g := NewGate(false)

	var unlockedInside bool
	_ = g.RequestPlay("a", func() {
		unlockedInside = g.IsUnlocked()
		assert.NoError(t, g.RequestPlay("a", nil))
	})
	g.RecordUserGesture()

	assert.True(t, unlockedInside)
}

func TestGate_ConcurrentGestures(t *testing.T) {
	g := NewGate(false)

	var calls atomic.Int32
	_ = g.RequestPlay("a", func() { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.RecordUserGesture()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestGate_CancelOnlyOwnRequest(t *testing.T) {
	tests := []struct {
		name       string
		cancelBy   string
		wantCalled bool
	}{
		{name: "owner cancels", cancelBy: "new", wantCalled: false},
		{name: "other owner is ignored", cancelBy: "old", wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(false)

			called := false
			_ = g.RequestPlay("new", func() { called = true })
			assert.True(t, g.PendingFor("new"))
			assert.False(t, g.PendingFor("old"))

			g.CancelPending(tt.cancelBy)
			g.RecordUserGesture()

			assert.Equal(t, tt.wantCalled, called)
			assert.False(t, g.PendingFor("new"))
		})
	}
}
