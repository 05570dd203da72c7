package xsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	assert.False(t, l.Test())

	select {
	case <-l.WaitChan():
		t.Fatal("latch fired before Trigger")
	default:
	}

	l.Trigger()
	l.Trigger() // Second trigger is a no-op.
	assert.True(t, l.Test())
	l.Wait() // Must not block.

	select {
	case <-l.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("WaitChan not closed after Trigger")
	}
}

func TestLatchWithValue_FirstTriggerWins(t *testing.T) {
	l := NewLatchWithValue[int]()
	require.False(t, l.Test())
	l.Trigger(7)
	l.Trigger(11)
	require.True(t, l.Test())
	assert.Equal(t, 7, l.Wait())
}

func TestLatchWithValue_ConcurrentWaiters(t *testing.T) {
	l := NewLatchWithValue[string]()
	const waiters = 8
	var wg sync.WaitGroup
	results := make([]string, waiters)
	for i := range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = l.Wait()
		}()
	}
	l.Trigger("done")
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, "done", r)
	}
}
