package app

import (
	"context"
	"fmt"
	"time"

	"jobpulse/internal/logger"

	"github.com/robfig/cron/v3"
)

// Triggers runs the recurring core entry points. A job still running when
// its next slot comes up is skipped rather than stacked.
type Triggers struct {
	cron *cron.Cron
	ctx  context.Context
	log  logger.Logger
}

func NewTriggers(ctx context.Context, log logger.Logger) *Triggers {
	if log == nil {
		log = logger.NewNop()
	}
	cl := cronLogger{log: log}
	return &Triggers{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx: ctx,
		log: log,
	}
}

func (t *Triggers) Add(name, spec string, run func(ctx context.Context) error) error {
	_, err := t.cron.AddFunc(spec, func() {
		if t.ctx.Err() != nil {
			return
		}
		started := time.Now()
		if err := run(t.ctx); err != nil {
			t.log.Error("trigger failed", logger.String("trigger", name), logger.Error(err))
			return
		}
		t.log.Debug("trigger finished", logger.String("trigger", name), logger.Duration("took", time.Since(started)))
	})
	if err != nil {
		return fmt.Errorf("trigger %s (%q): %w", name, spec, err)
	}
	t.log.Info("trigger registered", logger.String("trigger", name), logger.String("spec", spec))
	return nil
}

func (t *Triggers) Len() int { return len(t.cron.Entries()) }

func (t *Triggers) Start() { t.cron.Start() }

// Stop prevents new runs and waits for running ones up to ctx.
func (t *Triggers) Stop(ctx context.Context) {
	done := t.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		t.log.Warn("triggers still running at shutdown")
	}
}

type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, logger.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, logger.Error(err), logger.Any("details", keysAndValues))
}
