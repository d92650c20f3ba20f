// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backups copies a time window of a document database, together
// with every document it transitively refers to, into a backup database.
//
// A run resets the windowed collections of the destination, queues the
// full contents of mirror collections, then walks a Graph: seed queries
// select documents by time and fill ID-Sets, and edges fetch the documents
// referring to members of an ID-Set until no set grows. Queued writes are
// committed per collection, concurrently; a collection that fails to
// commit is reported without failing the run.
package backups
