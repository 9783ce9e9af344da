package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/fixmirror/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKeyedExecutorFIFOPerKey(t *testing.T) {
	p := NewKeyedExecutor(4, testLogger())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 200; i++ {
		i := i
		require.NoError(t, p.Submit("ORD-1", func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, p.Close(context.Background()))

	require.Len(t, got, 200)
	for i, v := range got {
		assert.Equal(t, i, v, "tasks on one key must run in submission order")
	}
}

func TestKeyedExecutorCrossKeyParallelism(t *testing.T) {
	p := NewKeyedExecutor(2, testLogger())

	release := make(chan struct{})
	aRunning := make(chan struct{})

	require.NoError(t, p.Submit("A", func() {
		close(aRunning)
		<-release
	}))

	<-aRunning
	bDone := make(chan struct{})
	require.NoError(t, p.Submit("B", func() { close(bDone) }))

	// B must complete while A still holds its key.
	select {
	case <-bDone:
	case <-time.After(2 * time.Second):
		t.Fatal("task on a different key was blocked")
	}

	close(release)
	require.NoError(t, p.Close(context.Background()))
}

func TestKeyedExecutorSubmitAfterClose(t *testing.T) {
	p := NewKeyedExecutor(1, testLogger())
	require.NoError(t, p.Close(context.Background()))

	err := p.Submit("A", func() { t.Fatal("task must not run") })
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestKeyedExecutorCloseTimeout(t *testing.T) {
	p := NewKeyedExecutor(1, testLogger())

	release := make(chan struct{})
	running := make(chan struct{})
	require.NoError(t, p.Submit("A", func() {
		close(running)
		<-release
	}))
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Close(ctx)
	assert.Error(t, err)

	close(release)
}

func TestKeyedExecutorPanicContainment(t *testing.T) {
	p := NewKeyedExecutor(1, testLogger())

	ran := make(chan struct{})
	require.NoError(t, p.Submit("A", func() { panic("boom") }))
	require.NoError(t, p.Submit("A", func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task after a panic never ran")
	}
	require.NoError(t, p.Close(context.Background()))
}
