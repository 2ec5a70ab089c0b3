package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_RunsAllTasksWithBoundedWorkers(t *testing.T) {
	p := New(3, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results := p.Run(ctx)

	var inFlight, peak int32
	for i := 0; i < 10; i++ {
		p.Submit(func(ctx context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		})
	}
	p.Close()

	count := 0
	for res := range results {
		assert.NoError(t, res.Err)
		count++
	}
	assert.Equal(t, 10, count)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestPool_RecoversPanics(t *testing.T) {
	p := New(1, 2)
	results := p.Run(context.Background())
	p.Submit(func(context.Context) error { panic("boom") })
	p.Submit(func(context.Context) error { return errors.New("plain") })
	p.Close()

	var errs []error
	for res := range results {
		errs = append(errs, res.Err)
	}
	if assert.Len(t, errs, 2) {
		assert.Contains(t, errs[0].Error(), "panicked")
		assert.EqualError(t, errs[1], "plain")
	}
}
