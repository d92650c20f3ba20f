// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/mgo/v3/bson"
)

// Kind names a set of identifiers of one referenced entity type.
type Kind string

const (
	UnitIDs          Kind = "unit"
	GroupIDs         Kind = "group"
	IndividualIDs    Kind = "individual"
	ProjectIDs       Kind = "project"
	ConfigurationIDs Kind = "configuration"
	RawUnitIDs       Kind = "rawUnit"
	RequestIDs       Kind = "request"
	BuyerUnitIDs     Kind = "buyerUnit"
	InvoiceIDs       Kind = "invoice"
)

// kindOrder is the order in which ID-Sets are expanded within a round.
var kindOrder = []Kind{
	RequestIDs,
	GroupIDs,
	BuyerUnitIDs,
	InvoiceIDs,
	UnitIDs,
	RawUnitIDs,
	IndividualIDs,
	ProjectIDs,
	ConfigurationIDs,
}

func knownKind(k Kind) bool {
	for _, known := range kindOrder {
		if k == known {
			return true
		}
	}
	return false
}

// IDSet is an insertion ordered set of document identifiers. Membership
// never shrinks. Identifiers of different types never compare equal, so
// the string "x" and an ObjectId are distinct members.
type IDSet struct {
	keys   map[string]struct{}
	values []any
}

// NewIDSet returns an empty IDSet.
func NewIDSet() *IDSet {
	return &IDSet{keys: make(map[string]struct{})}
}

// Add inserts id, reporting whether it was not already a member.
func (s *IDSet) Add(id any) bool {
	key := idKey(id)
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.values = append(s.values, id)
	return true
}

// Contains reports whether id is a member.
func (s *IDSet) Contains(id any) bool {
	_, ok := s.keys[idKey(id)]
	return ok
}

// Size returns the number of members.
func (s *IDSet) Size() int {
	return len(s.values)
}

// Values returns the members in insertion order.
func (s *IDSet) Values() []any {
	return append([]any(nil), s.values...)
}

// since returns the members added after the first n.
func (s *IDSet) since(n int) []any {
	if n >= len(s.values) {
		return nil
	}
	return append([]any(nil), s.values[n:]...)
}

func idKey(id any) string {
	return fmt.Sprintf("%T:%v", id, id)
}

// usableID reports whether a reference value names a document. Absent and
// empty references are ignored.
func usableID(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bson.ObjectId:
		return v != ""
	}
	return true
}

// FieldValues returns the values found at the dotted path in doc. A path
// segment applied to an array is applied to each element, unless it is a
// numeric index. Arrays found at the end of the path are flattened.
func FieldValues(doc map[string]any, path string) []any {
	return lookup(doc, strings.Split(path, "."))
}

func lookup(v any, path []string) []any {
	if len(path) == 0 {
		if elems, ok := asArray(v); ok {
			return elems
		}
		return []any{v}
	}
	if elems, ok := asArray(v); ok {
		if i, err := strconv.Atoi(path[0]); err == nil {
			if i < 0 || i >= len(elems) {
				return nil
			}
			return lookup(elems[i], path[1:])
		}
		var out []any
		for _, e := range elems {
			out = append(out, lookup(e, path)...)
		}
		return out
	}
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	next, ok := m[path[0]]
	if !ok {
		return nil
	}
	return lookup(next, path[1:])
}

func asMap(v any) (map[string]any, bool) {
	switch v := v.(type) {
	case bson.M:
		return v, true
	case map[string]any:
		return v, true
	case bson.D:
		return v.Map(), true
	}
	return nil, false
}

func asArray(v any) ([]any, bool) {
	switch v := v.(type) {
	case []any:
		return v, true
	case []bson.M:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, true
	case []string:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}
