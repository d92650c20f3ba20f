// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"fmt"
	"time"

	"github.com/juju/mgo/v3/bson"
)

// DefaultWindow is the span of a run when none is requested.
const DefaultWindow = 3 * 24 * time.Hour

// Window is the inclusive time range [Start, End] defining new documents.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns the window of the given length ending at end.
func NewWindow(end time.Time, length time.Duration) Window {
	return Window{Start: end.Add(-length), End: end}
}

// Length returns the duration spanned by the window.
func (w Window) Length() time.Duration {
	return w.End.Sub(w.Start)
}

// Widen returns a window with the same end, factor times longer.
func (w Window) Widen(factor int) Window {
	return NewWindow(w.End, time.Duration(factor)*w.Length())
}

// Range returns the query predicate matching values inside the window.
// Both bounds are inclusive.
func (w Window) Range() bson.M {
	return bson.M{"$gte": w.Start, "$lte": w.End}
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return fmt.Sprintf("%s to %s", w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}
