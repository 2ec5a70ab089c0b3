package workerpool

import (
	"context"
	"fmt"
	"sync"
)

type Task func(ctx context.Context) error

type Result struct {
	Err error
}

// Pool runs submitted tasks on a fixed number of workers. A panicking task
// is reported as an error result instead of taking the worker down.
type Pool struct {
	workers int
	tasks   chan Task
	wg      sync.WaitGroup
	once    sync.Once
}

func New(workers, buffer int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Pool{
		workers: workers,
		tasks:   make(chan Task, buffer),
	}
}

func (p *Pool) Submit(t Task) {
	if p == nil || t == nil {
		return
	}
	p.tasks <- t
}

func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() { close(p.tasks) })
}

// Run starts the workers. Tasks already received keep running after ctx is
// cancelled; queued ones are drained without being executed.
func (p *Pool) Run(ctx context.Context) <-chan Result {
	buf := p.workers * 64
	out := make(chan Result, buf)

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				if ctx.Err() != nil {
					out <- Result{Err: ctx.Err()}
					continue
				}
				out <- Result{Err: runTask(ctx, t)}
			}
		}()
	}

	go func() {
		p.wg.Wait()
		close(out)
	}()

	return out
}

func runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t(ctx)
}
