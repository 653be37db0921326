package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"
)

// Worker runs a job after firstRunDelay and then every runInterval until its
// context is cancelled.
type Worker struct {
	Name          string
	firstRunDelay time.Duration
	runInterval   time.Duration
}

func NewInstance(name string, firstRunDelay, runInterval time.Duration) *Worker {
	return &Worker{
		Name:          name,
		firstRunDelay: firstRunDelay,
		runInterval:   runInterval,
	}
}

func (w Worker) GetLogger() *log.Entry {
	return log.WithFields(log.Fields{"component": "scheduler", "worker_name": w.Name})
}

// Run blocks until ctx is done. A panicking job is logged and the loop keeps
// going with the next tick.
func (w Worker) Run(ctx context.Context, job func(ctx context.Context)) {
	period := w.firstRunDelay
	logger := w.GetLogger()
	for {
		timer := time.NewTimer(period)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("worker stopped")
			return
		case <-timer.C:
			logger.Debug("job started")
			w.runJob(ctx, job)
			logger.Debug("job finished")
		}
		period = w.runInterval
	}
}

func (w Worker) runJob(ctx context.Context, job func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			w.GetLogger().
				WithField("panic_stack", string(debug.Stack())).
				Errorf("panic: (%v)", r)
		}
	}()
	job(ctx)
}
