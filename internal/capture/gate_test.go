package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_KeepsOnlyLatest(t *testing.T) {
	g := NewGate()

	g.Submit(BlankFrame(8, 8))
	g.Submit(BlankFrame(6, 6))
	g.Submit(BlankFrame(4, 4))

	got, ok := g.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 4, got.Width)
	assert.Equal(t, uint64(3), got.Seq)
	assert.False(t, g.Pending(), "at most one frame may be queued")

	stats := g.Stats()
	assert.Equal(t, uint64(3), stats.Admitted)
	assert.Equal(t, uint64(1), stats.Dispatched)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestGate_SequenceIsMonotonic(t *testing.T) {
	g := NewGate()
	ctx := context.Background()

	var last uint64
	for i := 0; i < 5; i++ {
		g.Submit(BlankFrame(4, 4))
		f, ok := g.Next(ctx)
		require.True(t, ok)
		assert.Greater(t, f.Seq, last)
		last = f.Seq
	}
	assert.Equal(t, uint64(0), g.Stats().Dropped)
}

func TestGate_NextBlocksUntilSubmit(t *testing.T) {
	g := NewGate()
	done := make(chan *Frame, 1)

	go func() {
		f, _ := g.Next(context.Background())
		done <- f
	}()

	select {
	case <-done:
		t.Fatal("Next returned before any frame was submitted")
	case <-time.After(20 * time.Millisecond):
	}

	frame := BlankFrame(4, 4)
	g.Submit(frame)

	select {
	case got := <-done:
		assert.Equal(t, uint64(1), got.Seq)
		assert.Same(t, got, g.Latest())
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after Submit")
	}
}

func TestGate_SubmitLeavesCallerFrameUntouched(t *testing.T) {
	g := NewGate()
	frame := BlankFrame(4, 4)

	g.Submit(frame)
	g.Submit(frame)

	got, ok := g.Next(context.Background())
	require.True(t, ok)
	assert.Zero(t, frame.Seq, "caller's frame is never stamped")
	assert.Equal(t, uint64(2), got.Seq)
	assert.NotSame(t, frame, got)
	assert.Equal(t, frame.Pix, got.Pix)
}

func TestGate_NextHonoursContext(t *testing.T) {
	g := NewGate()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f, ok := g.Next(ctx)
	assert.False(t, ok)
	assert.Nil(t, f)
}

func TestGate_Close(t *testing.T) {
	g := NewGate()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := g.Next(context.Background())
			assert.False(t, ok)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	g.Close()
	g.Close()
	wg.Wait()

	g.Submit(BlankFrame(4, 4))
	assert.Equal(t, uint64(1), g.Stats().Dropped, "submit after close is dropped")
	assert.False(t, g.Pending())
}

func TestGate_ConcurrentSubmitters(t *testing.T) {
	g := NewGate()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var consumed sync.WaitGroup
	consumed.Add(1)
	var dispatched int
	go func() {
		defer consumed.Done()
		for {
			if _, ok := g.Next(ctx); !ok {
				return
			}
			dispatched++
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.Submit(BlankFrame(2, 2))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return !g.Pending() }, time.Second, time.Millisecond)
	cancel()
	consumed.Wait()

	stats := g.Stats()
	assert.Equal(t, uint64(400), stats.Admitted)
	assert.Equal(t, stats.Admitted, stats.Dispatched+stats.Dropped)
	assert.Equal(t, uint64(dispatched), stats.Dispatched)
}
