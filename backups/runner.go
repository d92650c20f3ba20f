// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/mgo/v3/bson"
	"golang.org/x/sync/errgroup"
)

// RunnerConfig holds the dependencies of a Runner.
type RunnerConfig struct {
	Connector Connector
	Registry  Registry
	Graph     Graph
	Clock     clock.Clock
	Logger    Logger

	// Metrics is optional.
	Metrics *Collector

	// CommitConcurrency limits the number of concurrent collection
	// commits. Zero means unlimited.
	CommitConcurrency int

	// InChunkSize bounds the identifiers of a single $in query.
	// Zero uses DefaultInChunkSize.
	InChunkSize int
}

// Validate returns an error if the config cannot drive a Runner.
func (c RunnerConfig) Validate() error {
	if c.Connector == nil {
		return errors.NotValidf("nil Connector")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.CommitConcurrency < 0 {
		return errors.NotValidf("negative CommitConcurrency")
	}
	if c.InChunkSize < 0 {
		return errors.NotValidf("negative InChunkSize")
	}
	if err := c.Registry.Validate(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.Graph.Validate(c.Registry))
}

// RunArgs holds the trigger input of a run.
type RunArgs struct {
	// Date is the end of the window. Zero means now.
	Date time.Time

	// Window is the length of the window. Zero means DefaultWindow.
	Window time.Duration
}

// Runner performs backup runs.
type Runner struct {
	config RunnerConfig
}

// NewRunner returns a Runner backed by config, or an error.
func NewRunner(config RunnerConfig) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Runner{config: config}, nil
}

// Run performs a single backup. It fails if a registered collection has
// no destination handle, or if reading the source fails. Failures to
// reset or commit a collection are recorded in the Result and do not fail
// the run.
func (r *Runner) Run(ctx context.Context, args RunArgs) (_ Result, err error) {
	defer func() {
		if err != nil {
			r.config.Metrics.recordError()
		}
	}()

	logger := r.config.Logger
	clk := r.config.Clock
	date := args.Date
	if date.IsZero() {
		date = clk.Now()
	}
	length := args.Window
	if length <= 0 {
		length = DefaultWindow
	}
	result := Result{
		RunID:   uuid.NewString(),
		Window:  NewWindow(date, length),
		Started: clk.Now(),
	}
	since := func() time.Duration { return clk.Now().Sub(result.Started) }
	logger.Infof("backup %s: starting from %s", result.RunID, result.Window)

	conn, err := r.config.Connector.Connect(ctx)
	if err != nil {
		return Result{}, errors.Annotate(err, "connecting")
	}
	defer conn.Close()

	st := newRunState(result.Window)
	reports, err := r.prepare(ctx, conn, st)
	if err != nil {
		return Result{}, errors.Trace(err)
	}
	logger.Debugf("backup %s: prepared %d collections in %s", result.RunID, len(reports), since())

	res := resolver{
		source:      conn.Source(),
		graph:       r.config.Graph,
		inChunkSize: r.config.InChunkSize,
		logger:      logger,
	}
	if err := res.resolve(ctx, st); err != nil {
		return Result{}, errors.Trace(err)
	}
	logger.Debugf("backup %s: resolved references in %s", result.RunID, since())

	r.commit(ctx, st, reports)
	result.Elapsed = since()
	result.Collections = reports

	logger.Infof("backup %s: done in %s, %d operations, %d failed collections",
		result.RunID, result.Elapsed, result.Operations(), len(result.Failures()))
	r.config.Metrics.recordResult(result)
	return result, nil
}

// prepare opens a handle for every registered collection, resets those
// which need it and queues the full contents of mirror collections.
// Mirrors which are not reset are pruned to the source's documents on
// commit.
// Every handle is opened before anything is reset.
func (r *Runner) prepare(ctx context.Context, conn Connection, st *runState) ([]CollectionReport, error) {
	dest := conn.Destination()
	reports := make([]CollectionReport, len(r.config.Registry))
	for i, d := range r.config.Registry {
		writer, err := dest.Collection(d.Name)
		if err != nil {
			return nil, errors.Annotatef(err, "opening %s", d.Name)
		}
		st.batches.add(d.Name, writer)
		reports[i] = CollectionReport{Name: d.Name, Strategy: d.Strategy}
	}

	source := conn.Source()
	for i, d := range r.config.Registry {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		if d.ResetBeforeRun {
			if err := dest.Drop(ctx, d.Name); err != nil {
				r.config.Logger.Debugf("ignoring error resetting %s: %v", d.Name, err)
				reports[i].DropErr = err
			}
		}
		if d.Strategy != Mirror {
			continue
		}
		docs, err := source.Find(ctx, d.Name, bson.M{}, FindOptions{})
		if err != nil {
			return nil, errors.Annotatef(err, "reading %s", d.Name)
		}
		batch, err := st.batches.Batch(d.Name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, doc := range docs {
			if err := batch.UpsertReplace(doc["_id"], doc); err != nil {
				return nil, errors.Trace(err)
			}
		}
		if !d.ResetBeforeRun {
			// Documents deleted from the source must not linger.
			batch.PruneOthers()
		}
	}
	return reports, nil
}

// commit writes every batch concurrently. A failing collection never
// affects the others.
func (r *Runner) commit(ctx context.Context, st *runState, reports []CollectionReport) {
	var g errgroup.Group
	if r.config.CommitConcurrency > 0 {
		g.SetLimit(r.config.CommitConcurrency)
	}
	for i, batch := range st.batches.All() {
		report := &reports[i]
		g.Go(func() error {
			err := batch.Commit(ctx)
			report.Operations = batch.Len()
			report.SkippedInserts = batch.Skipped()
			if err != nil {
				r.config.Logger.Warningf("ignoring commit failure: %v", err)
				report.CommitErr = err
			}
			return nil
		})
	}
	_ = g.Wait()
}
