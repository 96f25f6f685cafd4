package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolSubmitWait(t *testing.T) {
	pool := NewWorkerPool(2, 4)
	defer pool.Stop()

	result := pool.SubmitWait(func() error { return nil })
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("job did not complete in time")
	}
}

func TestWorkerPoolRunsConcurrently(t *testing.T) {
	pool := NewWorkerPool(4, 8)
	defer pool.Stop()

	var count int32
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		pool.Submit(func() {
			if atomic.AddInt32(&count, 1) == 4 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("jobs did not all complete")
	}
}

func TestTimerPoolOneShot(t *testing.T) {
	pool := NewTimerPool()
	defer pool.Stop()

	fired := make(chan struct{})
	pool.After(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("one-shot timer never fired")
	}
}

func TestTimerPoolStopPreventsFiring(t *testing.T) {
	pool := NewTimerPool()
	defer pool.Stop()

	var fired int32
	timer := pool.After(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	timer.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestTimerPoolPeriodicReschedules(t *testing.T) {
	pool := NewTimerPool()
	defer pool.Stop()

	var fired int32
	timer := pool.Every(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	defer timer.Stop()

	time.Sleep(55 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fired), int32(3))
}
