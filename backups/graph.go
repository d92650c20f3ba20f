// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3/bson"
)

const (
	allocationsC    = "allocations"
	assigneesC      = "assignees"
	buyerUnitListC  = "buyerUnitList"
	buyerUnitsC     = "buyerUnits"
	configurationsC = "configurations"
	conversationsC  = "conversations"
	countersC       = "counters"
	dealActionsC    = "dealActions"
	dealDocumentsC  = "dealDocuments"
	dealsC          = "deals"
	dialogsC        = "dialogs"
	feedbacksC      = "feedbacks"
	groupsC         = "groups"
	incentivesC     = "incentives"
	invoicesC       = "invoices"
	listingsC       = "listings"
	notificationsC  = "notifications"
	projectsC       = "projects"
	rawUnitsC       = "rawUnits"
	requestsC       = "requests"
	requirementsC   = "requirements"
	reviewsC        = "reviews"
	sellerProjectsC = "sellerProjects"
	sellerUnitListC = "sellerUnitList"
	sellerUnitsC    = "sellerUnits"
	unitsC          = "units"
	usersC          = "users"
	verifiedFieldsC = "verifiedFields"
	visitsC         = "visits"
)

// WriteMode says what happens to the documents a query matches.
type WriteMode int

const (
	// DiscoverOnly documents only contribute references.
	DiscoverOnly WriteMode = iota

	// InsertNew documents are queued as inserts.
	InsertNew

	// ReplaceByID documents are queued as upsert-replaces keyed by _id.
	ReplaceByID
)

// Ref is a reference field whose values belong to an ID-Set.
type Ref struct {
	Field string
	Kind  Kind
}

// Seed is a query whose input is the run window rather than an ID-Set.
type Seed struct {
	Name       string
	Collection string
	Filter     func(Window) bson.M
	Limit      int
	Write      WriteMode
	Refs       []Ref
}

// Edge fetches the documents of Collection whose Field holds an
// identifier of the From ID-Set.
type Edge struct {
	Collection string
	From       Kind
	Field      string
	// Match holds constant predicates added to the membership query.
	Match bson.M
	Write WriteMode
	Refs  []Ref
}

// Name returns a short description of the edge for logging.
func (e Edge) Name() string {
	return e.Collection + "." + e.Field
}

func (e Edge) filter(ids []any) bson.M {
	filter := bson.M{e.Field: bson.M{"$in": ids}}
	for k, v := range e.Match {
		filter[k] = v
	}
	return filter
}

// Graph is the declarative reachability graph interpreted by the resolver.
type Graph struct {
	Seeds []Seed
	Edges []Edge
}

// Validate returns an error if the graph names a collection missing from
// the registry or an unknown ID-Set.
func (g Graph) Validate(registry Registry) error {
	names := registry.Names()
	checkRefs := func(where string, refs []Ref) error {
		for _, ref := range refs {
			if ref.Field == "" {
				return errors.NotValidf("%s: empty reference field", where)
			}
			if !knownKind(ref.Kind) {
				return errors.NotValidf("%s: ID-Set %q", where, ref.Kind)
			}
		}
		return nil
	}
	for _, s := range g.Seeds {
		if !names.Contains(s.Collection) {
			return errors.NotFoundf("seed %q collection %q", s.Name, s.Collection)
		}
		if s.Filter == nil {
			return errors.NotValidf("seed %q without filter", s.Name)
		}
		if err := checkRefs("seed "+s.Name, s.Refs); err != nil {
			return errors.Trace(err)
		}
	}
	for _, e := range g.Edges {
		if !names.Contains(e.Collection) {
			return errors.NotFoundf("edge %q collection %q", e.Name(), e.Collection)
		}
		if !knownKind(e.From) {
			return errors.NotValidf("edge %q: ID-Set %q", e.Name(), e.From)
		}
		if err := checkRefs("edge "+e.Name(), e.Refs); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// GraphConfig holds the tunables of the default graph.
type GraphConfig struct {
	// RawUnitWindowFactor widens the window used for raw units, which
	// stay pending far longer than other documents.
	RawUnitWindowFactor int

	// InFlightLimit caps the raw units still awaiting manual processing
	// that are captured regardless of age.
	InFlightLimit int

	// ReviewsLookback is how far back updated reviews are captured,
	// measured from the end of the run window rather than the wall clock,
	// so a run for a past date sees the reviews of that date.
	// Zero uses the run window.
	ReviewsLookback time.Duration
}

// DefaultGraphConfig returns the production tunables.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		RawUnitWindowFactor: 7,
		InFlightLimit:       500,
		ReviewsLookback:     100 * 24 * time.Hour,
	}
}

var (
	requestRefs = []Ref{
		{Field: "_id", Kind: RequestIDs},
		{Field: "info.unit.id", Kind: UnitIDs},
		{Field: "info.project.id", Kind: ProjectIDs},
		{Field: "group.id", Kind: GroupIDs},
	}
	rawUnitRefs = []Ref{
		{Field: "_id", Kind: RawUnitIDs},
		{Field: "processedUnit.id", Kind: UnitIDs},
		{Field: "saleInfo.group.id", Kind: GroupIDs},
	}
	unitRefs = []Ref{
		{Field: "saleInfo.group.id", Kind: GroupIDs},
		{Field: "rawUnitId", Kind: RawUnitIDs},
		{Field: "project.id", Kind: ProjectIDs},
		{Field: "configId", Kind: ConfigurationIDs},
	}
)

// NewGraph returns the reference graph of the production database.
func NewGraph(cfg GraphConfig) Graph {
	createdIn := func(w Window) bson.M { return bson.M{"createdAt": w.Range()} }
	return Graph{
		Seeds: []Seed{{
			Name:       "counters",
			Collection: countersC,
			Filter:     func(w Window) bson.M { return bson.M{"updatedAt": w.Range()} },
			Write:      InsertNew,
		}, {
			Name:       "allocations",
			Collection: allocationsC,
			Filter:     createdIn,
			Write:      InsertNew,
		}, {
			Name:       "notifications",
			Collection: notificationsC,
			Filter:     createdIn,
			Write:      InsertNew,
		}, {
			// Reviews hold running aggregates, so they are always replaced.
			Name:       "reviews",
			Collection: reviewsC,
			Filter: func(w Window) bson.M {
				since := w.Start
				if cfg.ReviewsLookback > 0 {
					since = w.End.Add(-cfg.ReviewsLookback)
				}
				return bson.M{"$or": []bson.M{
					{"_id": "average"},
					{"updatedAt": bson.M{"$gte": since}},
				}}
			},
			Write: ReplaceByID,
		}, {
			Name:       "requests",
			Collection: requestsC,
			Filter:     createdIn,
			Write:      InsertNew,
			Refs:       requestRefs,
		}, {
			Name:       "raw units",
			Collection: rawUnitsC,
			Filter: func(w Window) bson.M {
				return bson.M{"createdAt": w.Widen(cfg.RawUnitWindowFactor).Range()}
			},
			Write: DiscoverOnly,
			Refs:  rawUnitRefs,
		}, {
			Name:       "in-flight raw units",
			Collection: rawUnitsC,
			Filter: func(Window) bson.M {
				return bson.M{
					"assignedTo.userId":     bson.M{"$in": []any{""}},
					"cancellation.flag":     false,
					"customer.phone.0":      bson.M{"$exists": true},
					"processDetails.status": bson.M{"$in": []any{"init", "pending", "groupAssociated"}},
				}
			},
			Limit: cfg.InFlightLimit,
			Write: DiscoverOnly,
			Refs:  rawUnitRefs,
		}, {
			Name:       "units",
			Collection: unitsC,
			Filter:     createdIn,
			Write:      DiscoverOnly,
			Refs:       []Ref{{Field: "_id", Kind: UnitIDs}},
		}, {
			Name:       "buyers",
			Collection: groupsC,
			Filter: func(w Window) bson.M {
				return bson.M{"relationship": "buyer", "createdAt": w.Range()}
			},
			Write: DiscoverOnly,
			Refs:  []Ref{{Field: "_id", Kind: GroupIDs}},
		}, {
			Name:       "internal users",
			Collection: usersC,
			Filter:     func(Window) bson.M { return bson.M{"internal": true} },
			Write:      ReplaceByID,
		}},
		Edges: []Edge{
			{Collection: conversationsC, From: RequestIDs, Field: "request.id", Write: InsertNew},
			{Collection: incentivesC, From: RequestIDs, Field: "doc.id", Write: InsertNew},

			{Collection: assigneesC, From: GroupIDs, Field: "doc.id", Match: bson.M{"doc.collection": "buyers"}, Write: InsertNew},
			{Collection: groupsC, From: GroupIDs, Field: "_id", Write: InsertNew, Refs: []Ref{{Field: "members.id", Kind: IndividualIDs}}},
			{Collection: buyerUnitListC, From: GroupIDs, Field: "buyer.id", Write: InsertNew},
			{Collection: buyerUnitsC, From: GroupIDs, Field: "group.id", Write: InsertNew, Refs: []Ref{
				{Field: "_id", Kind: BuyerUnitIDs},
				{Field: "unit.id", Kind: UnitIDs},
			}},
			{Collection: requirementsC, From: GroupIDs, Field: "for.id", Write: InsertNew},
			{Collection: conversationsC, From: GroupIDs, Field: "group.id", Write: ReplaceByID},
			{Collection: sellerProjectsC, From: GroupIDs, Field: "group.id", Write: InsertNew},
			{Collection: incentivesC, From: GroupIDs, Field: "doc.id", Write: InsertNew},

			{Collection: dealsC, From: BuyerUnitIDs, Field: "_id", Write: InsertNew},
			{Collection: dealActionsC, From: BuyerUnitIDs, Field: "dealId", Write: InsertNew},
			{Collection: dealDocumentsC, From: BuyerUnitIDs, Field: "dealId", Write: InsertNew},
			{Collection: dialogsC, From: BuyerUnitIDs, Field: "buyerUnitId", Write: InsertNew},
			{Collection: visitsC, From: BuyerUnitIDs, Field: "buyerUnitId", Write: InsertNew},
			{Collection: incentivesC, From: BuyerUnitIDs, Field: "doc.id", Write: InsertNew},
			{Collection: invoicesC, From: BuyerUnitIDs, Field: "buyerUnitId", Write: InsertNew, Refs: []Ref{{Field: "_id", Kind: InvoiceIDs}}},

			{Collection: incentivesC, From: InvoiceIDs, Field: "doc.id", Write: InsertNew},

			{Collection: sellerUnitsC, From: UnitIDs, Field: "unit.id", Write: InsertNew},
			{Collection: sellerUnitListC, From: UnitIDs, Field: "unit._id", Write: InsertNew},
			{Collection: unitsC, From: UnitIDs, Field: "_id", Write: InsertNew, Refs: unitRefs},
			{Collection: incentivesC, From: UnitIDs, Field: "doc.id", Write: InsertNew},
			{Collection: visitsC, From: UnitIDs, Field: "unitId", Match: bson.M{"relationship": "seller"}, Write: InsertNew},
			{Collection: listingsC, From: UnitIDs, Field: "doc.id", Match: bson.M{"doc.collection": "units"}, Write: InsertNew},
			// Child units may be reached again as units in their own right.
			{Collection: unitsC, From: UnitIDs, Field: "parentUnitId", Write: ReplaceByID, Refs: unitRefs},
			{Collection: verifiedFieldsC, From: UnitIDs, Field: "for._id", Match: bson.M{"for.collection": "units"}, Write: InsertNew},
			{Collection: feedbacksC, From: UnitIDs, Field: "unitId", Write: InsertNew},

			{Collection: rawUnitsC, From: RawUnitIDs, Field: "_id", Write: InsertNew},
			{Collection: incentivesC, From: RawUnitIDs, Field: "doc.id", Write: InsertNew},

			{Collection: usersC, From: IndividualIDs, Field: "_id", Write: ReplaceByID},

			{Collection: projectsC, From: ProjectIDs, Field: "_id", Write: InsertNew},
			{Collection: assigneesC, From: ProjectIDs, Field: "doc.id", Match: bson.M{"doc.collection": "projects"}, Write: InsertNew},
			{Collection: incentivesC, From: ProjectIDs, Field: "doc.id", Write: InsertNew},

			{Collection: configurationsC, From: ConfigurationIDs, Field: "_id", Write: InsertNew},
		},
	}
}
