// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backupscheduler provides a worker which runs backups at a fixed
// interval.
package backupscheduler

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/dbbackup/backups"
)

// Runner performs a single backup run.
type Runner interface {
	Run(ctx context.Context, args backups.RunArgs) (backups.Result, error)
}

// Logger represents the methods used by the worker to log information.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// Config defines the operation of the Worker.
type Config struct {
	Runner Runner
	Clock  clock.Clock
	Logger Logger

	// Interval is the time between the end of one run and the start of
	// the next.
	Interval time.Duration

	// Window is passed to every run. Zero uses the runner's default.
	Window time.Duration

	// RunImmediately starts a run as soon as the worker starts instead
	// of after the first interval.
	RunImmediately bool
}

// Validate returns an error if config cannot drive the Worker.
func (config Config) Validate() error {
	if config.Runner == nil {
		return errors.NotValidf("nil Runner")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.Interval <= 0 {
		return errors.NotValidf("non-positive Interval")
	}
	if config.Window < 0 {
		return errors.NotValidf("negative Window")
	}
	return nil
}

// Worker runs backups until it is killed. A failed run is logged and the
// next one is scheduled as usual.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config
}

// NewWorker returns a backup scheduler backed by config, or an error.
func NewWorker(config Config) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{config: config}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	})
	return w, errors.Trace(err)
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

func (w *Worker) loop() error {
	ctx := w.catacomb.Context(context.Background())

	if w.config.RunImmediately {
		w.backup(ctx, w.config.Clock.Now())
	}
	timer := w.config.Clock.NewTimer(w.config.Interval)
	defer timer.Stop()
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case now := <-timer.Chan():
			w.backup(ctx, now)
			timer.Reset(w.config.Interval)
		}
	}
}

func (w *Worker) backup(ctx context.Context, now time.Time) {
	logger := w.config.Logger
	result, err := w.config.Runner.Run(ctx, backups.RunArgs{
		Date:   now,
		Window: w.config.Window,
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Debugf("backup abandoned: %v", err)
			return
		}
		logger.Errorf("backup failed: %v", err)
		return
	}
	for _, f := range result.Failures() {
		logger.Warningf("backup %s: collection %s not committed: %v", result.RunID, f.Name, f.CommitErr)
	}
	logger.Infof("backup %s completed in %s, next in %s", result.RunID, result.Elapsed, w.config.Interval)
}
