// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Strategy describes how a collection is written to the backup database.
type Strategy int

const (
	// Windowed collections only receive documents that are inside the run
	// window or reachable from one that is. Writes are inserts.
	Windowed Strategy = iota

	// Mirror collections are copied in full on every run. Writes are
	// upsert-replaces keyed by _id.
	Mirror
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case Windowed:
		return "windowed"
	case Mirror:
		return "mirror"
	}
	return "unknown"
}

// CollectionDescriptor declares a single collection taking part in a backup.
type CollectionDescriptor struct {
	Name           string
	Strategy       Strategy
	ResetBeforeRun bool
}

// Registry is the ordered list of every collection that is backed up.
// Removing a descriptor silently drops that collection from all future
// backups.
type Registry []CollectionDescriptor

// Validate returns an error if any descriptor is unnamed or declared twice.
func (r Registry) Validate() error {
	if len(r) == 0 {
		return errors.NotValidf("empty registry")
	}
	seen := set.NewStrings()
	for _, d := range r {
		if d.Name == "" {
			return errors.NotValidf("unnamed collection descriptor")
		}
		if seen.Contains(d.Name) {
			return errors.NotValidf("duplicate collection %q", d.Name)
		}
		seen.Add(d.Name)
	}
	return nil
}

// Names returns the set of registered collection names.
func (r Registry) Names() set.Strings {
	names := set.NewStrings()
	for _, d := range r {
		names.Add(d.Name)
	}
	return names
}

// Lookup returns the descriptor for the named collection.
func (r Registry) Lookup(name string) (CollectionDescriptor, bool) {
	for _, d := range r {
		if d.Name == name {
			return d, true
		}
	}
	return CollectionDescriptor{}, false
}

func windowed(name string) CollectionDescriptor {
	return CollectionDescriptor{Name: name, Strategy: Windowed, ResetBeforeRun: true}
}

func mirror(name string) CollectionDescriptor {
	return CollectionDescriptor{Name: name, Strategy: Mirror}
}

func mirrorReset(name string) CollectionDescriptor {
	return CollectionDescriptor{Name: name, Strategy: Mirror, ResetBeforeRun: true}
}

// DefaultRegistry returns the collections of the production database.
func DefaultRegistry() Registry {
	return Registry{
		windowed(allocationsC),
		mirror("areas"),
		windowed(assigneesC),
		windowed(buyerUnitListC),
		windowed(buyerUnitsC),
		mirror("cities"),
		mirrorReset("compensation.structures"),
		windowed(configurationsC),
		windowed(conversationsC),
		windowed(countersC),
		mirrorReset("databaseMigrations"),
		windowed(dealActionsC),
		windowed(dealDocumentsC),
		windowed("dealProcesses"),
		windowed(dealsC),
		mirror("demandDrafts"),
		windowed(dialogsC),
		mirror("documents"),
		windowed(feedbacksC),
		windowed(groupsC),
		windowed(incentivesC),
		windowed(invoicesC),
		mirror("jurisdictions"),
		windowed(listingsC),
		mirror("listingDestinations"),
		mirror("locationMaps"),
		mirror("locations"),
		windowed(notificationsC),
		windowed(projectsC),
		windowed("projectMaps"),
		windowed(rawUnitsC),
		mirror("reports.buyers.visitCounts"),
		windowed(requestsC),
		windowed(requirementsC),
		windowed(reviewsC),
		mirror("roads"),
		mirror("role-assignment"),
		mirror("roles"),
		windowed(sellerProjectsC),
		windowed(sellerUnitListC),
		windowed(sellerUnitsC),
		mirror("settings"),
		mirror("sros"),
		mirror("subTeams"),
		mirror("templates"),
		windowed(unitsC),
		windowed(usersC),
		windowed(verifiedFieldsC),
		windowed(visitsC),
	}
}
