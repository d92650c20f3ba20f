// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"time"
)

// CollectionReport records what a run did to one destination collection.
// Errors held here were ignored by the run.
type CollectionReport struct {
	Name     string
	Strategy Strategy

	// Operations is the number of writes sent in the commit.
	Operations int

	// SkippedInserts counts documents reached more than once whose
	// repeated insert was not queued.
	SkippedInserts int

	// DropErr is the error, if any, from resetting the collection.
	DropErr error

	// CommitErr is the error, if any, from committing the batch.
	CommitErr error
}

// Result is the outcome of a completed run. A run completes even when
// some collections failed to commit; those are listed by Failures.
type Result struct {
	RunID       string
	Window      Window
	Started     time.Time
	Elapsed     time.Duration
	Collections []CollectionReport
}

// TimeTakenSeconds returns the run duration in seconds.
func (r Result) TimeTakenSeconds() float64 {
	return r.Elapsed.Seconds()
}

// Failures returns the collections whose commit failed.
func (r Result) Failures() []CollectionReport {
	var failed []CollectionReport
	for _, c := range r.Collections {
		if c.CommitErr != nil {
			failed = append(failed, c)
		}
	}
	return failed
}

// Operations returns the total number of writes committed or attempted.
func (r Result) Operations() int {
	var n int
	for _, c := range r.Collections {
		n += c.Operations
	}
	return n
}

// Collection returns the report for the named collection.
func (r Result) Collection(name string) (CollectionReport, bool) {
	for _, c := range r.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return CollectionReport{}, false
}
