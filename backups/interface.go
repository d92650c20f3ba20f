// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"context"

	"github.com/juju/mgo/v3/bson"
)

// Document is a single stored document. Its identifier is held under "_id".
type Document = bson.M

// FindOptions modifies a Find query.
type FindOptions struct {
	// Limit caps the number of returned documents. Zero means no limit.
	Limit int
}

// Source is the live database backups are read from. It is never written to.
type Source interface {
	// Find returns every document of the collection matching filter.
	// Filters only use exact matches, $in, $gte, $lte, $exists and $or.
	Find(ctx context.Context, collection string, filter bson.M, opts FindOptions) ([]Document, error)
}

// Destination is the backup database.
type Destination interface {
	// Drop removes the collection and its contents. Dropping a collection
	// which does not exist may return an error.
	Drop(ctx context.Context, collection string) error

	// Collection returns a write handle for the named collection.
	Collection(name string) (Writer, error)
}

// Writer applies operations to one destination collection.
type Writer interface {
	// Apply sends every op as a single unordered batch write.
	Apply(ctx context.Context, ops []Op) error

	// RemoveExcept deletes every document whose _id is not in ids.
	RemoveExcept(ctx context.Context, ids []any) error
}

// Connection holds the source and destination databases used for a
// single run.
type Connection interface {
	Source() Source
	Destination() Destination
	Close()
}

// Connector opens a Connection for each run.
type Connector interface {
	Connect(ctx context.Context) (Connection, error)
}

// Logger represents the methods used for logging messages.
type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Warningf(string, ...any)
	Errorf(string, ...any)
}
