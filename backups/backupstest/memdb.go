// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backupstest provides an in-memory source and destination
// database for exercising backup runs.
package backupstest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/mgo/v3/bson"

	"github.com/juju/dbbackup/backups"
)

// Query records a single Find call.
type Query struct {
	Collection string
	Filter     bson.M
	Limit      int
}

// MemDB is an in-memory pair of source and destination databases. It
// implements backups.Connector and backups.Connection.
type MemDB struct {
	mu sync.Mutex

	source map[string][]backups.Document
	backup map[string][]backups.Document

	missing     set.Strings
	findErrors  map[string]error
	applyErrors map[string]error

	queries  []Query
	applies  map[string]int
	drops    []string
	connects int
	closes   int
}

// NewMemDB returns an empty MemDB.
func NewMemDB() *MemDB {
	return &MemDB{
		source:      make(map[string][]backups.Document),
		backup:      make(map[string][]backups.Document),
		missing:     set.NewStrings(),
		findErrors:  make(map[string]error),
		applyErrors: make(map[string]error),
		applies:     make(map[string]int),
	}
}

// AddSource adds documents to a source collection.
func (db *MemDB) AddSource(collection string, docs ...backups.Document) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.source[collection] = append(db.source[collection], docs...)
}

// AddBackup adds documents to a destination collection, as left by an
// earlier run.
func (db *MemDB) AddBackup(collection string, docs ...backups.Document) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.backup[collection] = append(db.backup[collection], docs...)
}

// SetMissing makes the destination refuse a handle for the collection.
func (db *MemDB) SetMissing(collection string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.missing.Add(collection)
}

// SetFindError makes every query against the source collection fail.
func (db *MemDB) SetFindError(collection string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.findErrors[collection] = err
}

// SetApplyError makes every write to the destination collection fail.
func (db *MemDB) SetApplyError(collection string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.applyErrors[collection] = err
}

// Backup returns the documents held in the destination collection.
func (db *MemDB) Backup(collection string) []backups.Document {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]backups.Document(nil), db.backup[collection]...)
}

// BackupIDs returns the _id of every document in the destination
// collection, in storage order.
func (db *MemDB) BackupIDs(collection string) []any {
	var ids []any
	for _, doc := range db.Backup(collection) {
		ids = append(ids, doc["_id"])
	}
	return ids
}

// Queries returns every Find call made so far.
func (db *MemDB) Queries() []Query {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]Query(nil), db.queries...)
}

// Applies returns the number of batch writes sent to the collection.
func (db *MemDB) Applies(collection string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.applies[collection]
}

// Drops returns the collections dropped so far.
func (db *MemDB) Drops() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.drops...)
}

// Connects returns the number of connections opened and closed.
func (db *MemDB) Connects() (opened, closed int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.connects, db.closes
}

// Connect is part of the backups.Connector interface.
func (db *MemDB) Connect(context.Context) (backups.Connection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.connects++
	return db, nil
}

// Source is part of the backups.Connection interface.
func (db *MemDB) Source() backups.Source { return db }

// Destination is part of the backups.Connection interface.
func (db *MemDB) Destination() backups.Destination { return db }

// Close is part of the backups.Connection interface.
func (db *MemDB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closes++
}

// Find is part of the backups.Source interface.
func (db *MemDB) Find(_ context.Context, collection string, filter bson.M, opts backups.FindOptions) ([]backups.Document, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.queries = append(db.queries, Query{Collection: collection, Filter: filter, Limit: opts.Limit})
	if err := db.findErrors[collection]; err != nil {
		return nil, err
	}
	var out []backups.Document
	for _, doc := range db.source[collection] {
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		if Matches(doc, filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Drop is part of the backups.Destination interface.
func (db *MemDB) Drop(_ context.Context, collection string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.drops = append(db.drops, collection)
	if _, ok := db.backup[collection]; !ok {
		return errors.New("ns not found")
	}
	delete(db.backup, collection)
	return nil
}

// Collection is part of the backups.Destination interface.
func (db *MemDB) Collection(name string) (backups.Writer, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.missing.Contains(name) {
		return nil, errors.NotFoundf("collection %q", name)
	}
	return &memWriter{db: db, name: name}, nil
}

type memWriter struct {
	db   *MemDB
	name string
}

// Apply is part of the backups.Writer interface. Like an unordered bulk
// write, a failing operation does not stop the others.
func (w *memWriter) Apply(_ context.Context, ops []backups.Op) error {
	db := w.db
	db.mu.Lock()
	defer db.mu.Unlock()
	db.applies[w.name]++
	if err := db.applyErrors[w.name]; err != nil {
		return err
	}
	var failed []string
	for _, op := range ops {
		docs := db.backup[w.name]
		idx := indexOf(docs, op.ID)
		switch op.Kind {
		case backups.OpInsert:
			if idx >= 0 {
				failed = append(failed, fmt.Sprintf("duplicate key %v", op.ID))
				continue
			}
			db.backup[w.name] = append(docs, op.Doc)
		case backups.OpUpsertReplace:
			if idx >= 0 {
				docs[idx] = op.Doc
				continue
			}
			db.backup[w.name] = append(docs, op.Doc)
		}
	}
	if len(failed) > 0 {
		return errors.Errorf("%s: %s", w.name, strings.Join(failed, "; "))
	}
	return nil
}

// RemoveExcept is part of the backups.Writer interface.
func (w *memWriter) RemoveExcept(_ context.Context, ids []any) error {
	db := w.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.applyErrors[w.name]; err != nil {
		return err
	}
	var kept []backups.Document
	for _, doc := range db.backup[w.name] {
		for _, id := range ids {
			if equal(doc["_id"], id) {
				kept = append(kept, doc)
				break
			}
		}
	}
	db.backup[w.name] = kept
	return nil
}

func indexOf(docs []backups.Document, id any) int {
	for i, doc := range docs {
		if equal(doc["_id"], id) {
			return i
		}
	}
	return -1
}

// Matches reports whether doc satisfies filter. Only the predicates used
// by backups are supported: exact match, $in, $gte, $lte, $exists and $or.
func Matches(doc backups.Document, filter bson.M) bool {
	for key, cond := range filter {
		if key == "$or" {
			if !matchAny(doc, cond) {
				return false
			}
			continue
		}
		if !matchField(backups.FieldValues(doc, key), cond) {
			return false
		}
	}
	return true
}

func matchAny(doc backups.Document, cond any) bool {
	switch alts := cond.(type) {
	case []bson.M:
		for _, alt := range alts {
			if Matches(doc, alt) {
				return true
			}
		}
	case []any:
		for _, alt := range alts {
			if m, ok := alt.(bson.M); ok && Matches(doc, m) {
				return true
			}
		}
	}
	return false
}

func matchField(values []any, cond any) bool {
	ops, ok := cond.(bson.M)
	if !ok || !isOperator(ops) {
		return containsEqual(values, cond)
	}
	for op, arg := range ops {
		switch op {
		case "$in":
			found := false
			for _, candidate := range toSlice(arg) {
				if containsEqual(values, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$exists":
			if want, _ := arg.(bool); (len(values) > 0) != want {
				return false
			}
		case "$gte":
			if !anyCompare(values, arg, func(c int) bool { return c >= 0 }) {
				return false
			}
		case "$lte":
			if !anyCompare(values, arg, func(c int) bool { return c <= 0 }) {
				return false
			}
		default:
			panic(fmt.Sprintf("unsupported operator %q", op))
		}
	}
	return true
}

func isOperator(m bson.M) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func toSlice(v any) []any {
	switch v := v.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

func containsEqual(values []any, want any) bool {
	for _, v := range values {
		if equal(v, want) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func anyCompare(values []any, arg any, ok func(int) bool) bool {
	for _, v := range values {
		if c, comparable := compare(v, arg); comparable && ok(c) {
			return true
		}
	}
	return false
}

func compare(a, b any) (int, bool) {
	switch a := a.(type) {
	case time.Time:
		b, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return a.Compare(b), true
	case string:
		b, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(a, b), true
	}
	fa, ok := toFloat(a)
	if !ok {
		return 0, false
	}
	fb, ok := toFloat(b)
	if !ok {
		return 0, false
	}
	switch {
	case fa < fb:
		return -1, true
	case fa > fb:
		return 1, true
	}
	return 0, true
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
