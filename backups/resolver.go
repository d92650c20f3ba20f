// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"context"

	"github.com/juju/errors"
)

// DefaultInChunkSize bounds the number of identifiers in a single $in
// predicate.
const DefaultInChunkSize = 5000

// runState is the mutable state of a single run. It is created when the
// run starts and discarded once its batches are committed.
type runState struct {
	window  Window
	batches *Batches
	ids     map[Kind]*IDSet
	// expanded holds, per ID-Set, how many members have already been fed
	// through the graph edges.
	expanded map[Kind]int
}

func newRunState(window Window) *runState {
	st := &runState{
		window:   window,
		batches:  newBatches(),
		ids:      make(map[Kind]*IDSet),
		expanded: make(map[Kind]int),
	}
	for _, k := range kindOrder {
		st.ids[k] = NewIDSet()
	}
	return st
}

// pending returns the identifiers of kind added since it was last expanded
// and marks them as expanded.
func (st *runState) pending(kind Kind) []any {
	set := st.ids[kind]
	ids := set.since(st.expanded[kind])
	st.expanded[kind] = set.Size()
	return ids
}

// resolver interprets a Graph against a Source, queuing documents into the
// run's batches.
type resolver struct {
	source      Source
	graph       Graph
	inChunkSize int
	logger      Logger
}

// resolve runs every seed, then expands ID-Sets along the graph edges
// until none of them grows.
func (r *resolver) resolve(ctx context.Context, st *runState) error {
	for _, seed := range r.graph.Seeds {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		docs, err := r.source.Find(ctx, seed.Collection, seed.Filter(st.window), FindOptions{Limit: seed.Limit})
		if err != nil {
			return errors.Annotatef(err, "reading %s", seed.Name)
		}
		if err := r.accept(st, seed.Collection, seed.Write, seed.Refs, docs); err != nil {
			return errors.Annotatef(err, "seed %s", seed.Name)
		}
		r.logger.Debugf("seed %s: %d documents", seed.Name, len(docs))
	}

	for round := 1; ; round++ {
		grew := false
		for _, kind := range kindOrder {
			ids := st.pending(kind)
			if len(ids) == 0 {
				continue
			}
			grew = true
			r.logger.Debugf("round %d: expanding %d %s identifiers", round, len(ids), kind)
			if err := r.expand(ctx, st, kind, ids); err != nil {
				return errors.Trace(err)
			}
		}
		if !grew {
			return nil
		}
	}
}

func (r *resolver) expand(ctx context.Context, st *runState, kind Kind, ids []any) error {
	for _, edge := range r.graph.Edges {
		if edge.From != kind {
			continue
		}
		for _, chunk := range chunks(ids, r.inChunkSize) {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			docs, err := r.source.Find(ctx, edge.Collection, edge.filter(chunk), FindOptions{})
			if err != nil {
				return errors.Annotatef(err, "reading %s by %s", edge.Name(), kind)
			}
			if err := r.accept(st, edge.Collection, edge.Write, edge.Refs, docs); err != nil {
				return errors.Annotatef(err, "edge %s", edge.Name())
			}
		}
	}
	return nil
}

// accept queues docs according to mode and records their references.
func (r *resolver) accept(st *runState, collection string, mode WriteMode, refs []Ref, docs []Document) error {
	for _, doc := range docs {
		switch mode {
		case InsertNew:
			if err := st.batches.Insert(collection, doc); err != nil {
				return errors.Trace(err)
			}
		case ReplaceByID:
			if err := st.batches.UpsertReplace(collection, doc["_id"], doc); err != nil {
				return errors.Trace(err)
			}
		}
		for _, ref := range refs {
			for _, id := range FieldValues(doc, ref.Field) {
				if usableID(id) {
					st.ids[ref.Kind].Add(id)
				}
			}
		}
	}
	return nil
}

func chunks(ids []any, size int) [][]any {
	if size <= 0 {
		size = DefaultInChunkSize
	}
	var out [][]any
	for len(ids) > size {
		out = append(out, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
