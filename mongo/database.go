// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mongo

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/juju/dbbackup/backups"
)

// connection is a session opened for a single run.
type connection struct {
	session *mgo.Session
	source  *mgo.Database
	backup  *mgo.Database
}

func newConnection(session *mgo.Session, sourceDB, backupDB string) *connection {
	return &connection{
		session: session,
		source:  session.DB(sourceDB),
		backup:  session.DB(backupDB),
	}
}

// Source is part of the backups.Connection interface.
func (c *connection) Source() backups.Source {
	return &source{db: c.source}
}

// Destination is part of the backups.Connection interface.
func (c *connection) Destination() backups.Destination {
	return &destination{db: c.backup}
}

// Close is part of the backups.Connection interface.
func (c *connection) Close() {
	c.session.Close()
}

type source struct {
	db *mgo.Database
}

// Find is part of the backups.Source interface.
func (s *source) Find(ctx context.Context, collection string, filter bson.M, opts backups.FindOptions) ([]backups.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	q := s.db.C(collection).Find(filter)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var docs []bson.M
	if err := q.All(&docs); err != nil {
		return nil, errors.Trace(err)
	}
	logger.Tracef("%s.%s: %d documents matching %v", s.db.Name, collection, len(docs), filter)
	return docs, nil
}

type destination struct {
	db *mgo.Database
}

// Drop is part of the backups.Destination interface.
func (d *destination) Drop(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.db.C(collection).DropCollection())
}

// Collection is part of the backups.Destination interface.
func (d *destination) Collection(name string) (backups.Writer, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, errors.Trace(err)
	}
	return &writer{coll: d.db.C(name)}, nil
}

func validateCollectionName(name string) error {
	switch {
	case name == "":
		return errors.NotValidf("empty collection name")
	case strings.ContainsAny(name, "$\x00"):
		return errors.NotValidf("collection name %q", name)
	case strings.HasPrefix(name, "system."):
		return errors.NotValidf("system collection %q", name)
	case strings.HasPrefix(name, ".") || strings.HasSuffix(name, "."):
		return errors.NotValidf("collection name %q", name)
	}
	return nil
}

// bulk is the subset of *mgo.Bulk used to send a batch.
type bulk interface {
	Unordered()
	Insert(docs ...interface{})
	Upsert(pairs ...interface{})
	Run() (*mgo.BulkResult, error)
}

type writer struct {
	coll *mgo.Collection
}

// Apply is part of the backups.Writer interface. Operations are sent
// unordered so one failing write does not prevent the rest.
func (w *writer) Apply(ctx context.Context, ops []backups.Op) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(runBulk(w.coll.Bulk(), ops))
}

// RemoveExcept is part of the backups.Writer interface.
func (w *writer) RemoveExcept(ctx context.Context, ids []any) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	_, err := w.coll.RemoveAll(pruneSelector(ids))
	return errors.Trace(err)
}

func pruneSelector(ids []any) bson.M {
	if ids == nil {
		ids = []any{}
	}
	return bson.M{"_id": bson.M{"$nin": ids}}
}

func runBulk(b bulk, ops []backups.Op) error {
	if len(ops) == 0 {
		return nil
	}
	b.Unordered()
	for _, op := range ops {
		switch op.Kind {
		case backups.OpInsert:
			b.Insert(op.Doc)
		case backups.OpUpsertReplace:
			b.Upsert(bson.M{"_id": op.ID}, op.Doc)
		default:
			return errors.NotValidf("operation kind %d", op.Kind)
		}
	}
	_, err := b.Run()
	return err
}
