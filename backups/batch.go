// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// OpKind identifies the type of a queued write.
type OpKind int

const (
	// OpInsert appends the document to the collection.
	OpInsert OpKind = iota

	// OpUpsertReplace replaces the document with the same _id, inserting
	// it if there is none.
	OpUpsertReplace
)

// String implements fmt.Stringer.
func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpsertReplace:
		return "upsert"
	}
	return "unknown"
}

// Op is a single pending write.
type Op struct {
	Kind OpKind
	ID   any
	Doc  Document
}

// Batch accumulates the writes for one destination collection. A batch is
// committed at most once per run.
type Batch struct {
	name   string
	writer Writer

	ops       []Op
	queued    set.Strings
	skipped   int
	prune     bool
	committed bool
}

func newBatch(name string, writer Writer) *Batch {
	return &Batch{
		name:   name,
		writer: writer,
		queued: set.NewStrings(),
	}
}

// Name returns the collection the batch writes to.
func (b *Batch) Name() string {
	return b.name
}

// Insert queues an insert of doc. A document whose _id is already queued
// in this batch is skipped, so a document reachable along two paths is
// only inserted once.
func (b *Batch) Insert(doc Document) error {
	if b.committed {
		return errors.Errorf("batch %q already committed", b.name)
	}
	id := doc["_id"]
	key := idKey(id)
	if b.queued.Contains(key) {
		b.skipped++
		return nil
	}
	b.queued.Add(key)
	b.ops = append(b.ops, Op{Kind: OpInsert, ID: id, Doc: doc})
	return nil
}

// UpsertReplace queues a replacement of the document keyed by id. Every
// call is queued; the destination applies them in order.
func (b *Batch) UpsertReplace(id any, doc Document) error {
	if b.committed {
		return errors.Errorf("batch %q already committed", b.name)
	}
	b.queued.Add(idKey(id))
	b.ops = append(b.ops, Op{Kind: OpUpsertReplace, ID: id, Doc: doc})
	return nil
}

// PruneOthers makes the commit also remove every destination document
// whose _id was not queued, so the collection ends up holding exactly the
// queued documents.
func (b *Batch) PruneOthers() {
	b.prune = true
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Skipped returns the number of duplicate inserts that were not queued.
func (b *Batch) Skipped() int {
	return b.skipped
}

// Ops returns a copy of the queued operations.
func (b *Batch) Ops() []Op {
	return append([]Op(nil), b.ops...)
}

// Commit writes every queued operation. Committing an empty batch issues
// no write and never fails, unless the batch prunes.
func (b *Batch) Commit(ctx context.Context) error {
	if b.committed {
		return errors.Errorf("batch %q already committed", b.name)
	}
	b.committed = true
	if len(b.ops) > 0 {
		if err := b.writer.Apply(ctx, b.ops); err != nil {
			return errors.Annotatef(err, "committing %d operations to %q", len(b.ops), b.name)
		}
	}
	if !b.prune {
		return nil
	}
	keep := make([]any, len(b.ops))
	for i, op := range b.ops {
		keep[i] = op.ID
	}
	if err := b.writer.RemoveExcept(ctx, keep); err != nil {
		return errors.Annotatef(err, "pruning %q", b.name)
	}
	return nil
}

// Batches holds the batch of every registered collection for one run.
type Batches struct {
	order   []string
	batches map[string]*Batch
}

func newBatches() *Batches {
	return &Batches{batches: make(map[string]*Batch)}
}

func (bs *Batches) add(name string, writer Writer) {
	if _, ok := bs.batches[name]; !ok {
		bs.order = append(bs.order, name)
	}
	bs.batches[name] = newBatch(name, writer)
}

// Batch returns the batch for the named collection. A collection without
// a destination handle is a configuration error.
func (bs *Batches) Batch(name string) (*Batch, error) {
	b, ok := bs.batches[name]
	if !ok {
		return nil, errors.NotFoundf("destination collection %q", name)
	}
	return b, nil
}

// Insert queues an insert into the named collection.
func (bs *Batches) Insert(name string, doc Document) error {
	b, err := bs.Batch(name)
	if err != nil {
		return errors.Trace(err)
	}
	return b.Insert(doc)
}

// UpsertReplace queues an upsert-replace into the named collection.
func (bs *Batches) UpsertReplace(name string, id any, doc Document) error {
	b, err := bs.Batch(name)
	if err != nil {
		return errors.Trace(err)
	}
	return b.UpsertReplace(id, doc)
}

// All returns every batch in registration order.
func (bs *Batches) All() []*Batch {
	out := make([]*Batch, len(bs.order))
	for i, name := range bs.order {
		out[i] = bs.batches[name]
	}
	return out
}
