// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups_test

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/mgo/v3/bson"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus"
	gc "gopkg.in/check.v1"

	"github.com/juju/dbbackup/backups"
	"github.com/juju/dbbackup/backups/backupstest"
	coretesting "github.com/juju/dbbackup/testing"
)

const day = 24 * time.Hour

type runnerSuite struct {
	testing.IsolationSuite

	db      *backupstest.MemDB
	clock   *testclock.Clock
	now     time.Time
	metrics *backups.Collector
}

var _ = gc.Suite(&runnerSuite{})

func (s *runnerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.db = backupstest.NewMemDB()
	s.now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.clock = testclock.NewClock(s.now)
	s.metrics = backups.NewMetricsCollector()
}

func (s *runnerSuite) ago(d time.Duration) time.Time {
	return s.now.Add(-d)
}

func (s *runnerSuite) config(c *gc.C) backups.RunnerConfig {
	return backups.RunnerConfig{
		Connector: s.db,
		Registry:  backups.DefaultRegistry(),
		Graph:     backups.NewGraph(backups.DefaultGraphConfig()),
		Clock:     s.clock,
		Logger:    coretesting.NewCheckLogger(c),
		Metrics:   s.metrics,
	}
}

func (s *runnerSuite) newRunner(c *gc.C) *backups.Runner {
	r, err := backups.NewRunner(s.config(c))
	c.Assert(err, jc.ErrorIsNil)
	return r
}

func (s *runnerSuite) run(c *gc.C, window time.Duration) backups.Result {
	result, err := s.newRunner(c).Run(context.Background(), backups.RunArgs{Date: s.now, Window: window})
	c.Assert(err, jc.ErrorIsNil)
	return result
}

func (s *runnerSuite) TestConfigValidate(c *gc.C) {
	cfg := s.config(c)
	cfg.Connector = nil
	_, err := backups.NewRunner(cfg)
	c.Check(err, gc.ErrorMatches, "nil Connector not valid")

	cfg = s.config(c)
	cfg.Clock = nil
	_, err = backups.NewRunner(cfg)
	c.Check(err, gc.ErrorMatches, "nil Clock not valid")

	cfg = s.config(c)
	cfg.Logger = nil
	_, err = backups.NewRunner(cfg)
	c.Check(err, gc.ErrorMatches, "nil Logger not valid")

	cfg = s.config(c)
	cfg.CommitConcurrency = -1
	_, err = backups.NewRunner(cfg)
	c.Check(err, gc.ErrorMatches, "negative CommitConcurrency not valid")

	cfg = s.config(c)
	cfg.Registry = backups.Registry{{Name: "requests"}}
	_, err = backups.NewRunner(cfg)
	c.Check(err, jc.Satisfies, errors.IsNotFound)
}

func (s *runnerSuite) TestRequestPullsPreExistingUnit(c *gc.C) {
	s.db.AddSource("requests", bson.M{
		"_id":       "R1",
		"createdAt": s.ago(time.Hour),
		"info":      bson.M{"unit": bson.M{"id": "U1"}},
	})
	s.db.AddSource("units", bson.M{
		"_id":       "U1",
		"createdAt": s.ago(400 * day),
		"saleInfo":  bson.M{"group": bson.M{"id": "G1"}},
	})
	s.db.AddSource("sellerUnits",
		bson.M{"_id": "SU1", "unit": bson.M{"id": "U1"}},
		bson.M{"_id": "SU2", "unit": bson.M{"id": "U9"}},
	)
	s.db.AddSource("groups", bson.M{
		"_id":       "G1",
		"createdAt": s.ago(500 * day),
		"members":   []any{bson.M{"id": "I1"}},
	})
	s.db.AddSource("users", bson.M{"_id": "I1"}, bson.M{"_id": "I2"})

	s.run(c, day)

	c.Check(s.db.BackupIDs("requests"), jc.SameContents, []any{"R1"})
	c.Check(s.db.BackupIDs("units"), jc.SameContents, []any{"U1"})
	c.Check(s.db.BackupIDs("sellerUnits"), jc.SameContents, []any{"SU1"})
	// Reached through the unit, then its members through the group.
	c.Check(s.db.BackupIDs("groups"), jc.SameContents, []any{"G1"})
	c.Check(s.db.BackupIDs("users"), jc.SameContents, []any{"I1"})
}

func (s *runnerSuite) TestRequestsPullManyUnits(c *gc.C) {
	s.db.AddSource("requests",
		bson.M{"_id": "R1", "createdAt": s.ago(time.Hour), "info": bson.M{"unit": bson.M{"id": "U1"}}},
		bson.M{"_id": "R2", "createdAt": s.ago(2 * time.Hour), "info": bson.M{"unit": bson.M{"id": "U2"}}},
		bson.M{"_id": "R3", "createdAt": s.ago(3 * time.Hour), "info": bson.M{"unit": bson.M{"id": "U3"}}},
	)
	s.db.AddSource("units",
		bson.M{"_id": "U1", "createdAt": s.ago(400 * day)},
		bson.M{"_id": "U2", "createdAt": s.ago(400 * day)},
		bson.M{"_id": "U3", "createdAt": s.ago(400 * day)},
		bson.M{"_id": "U4", "createdAt": s.ago(400 * day)},
	)
	s.db.AddSource("sellerUnits",
		bson.M{"_id": "SU1", "unit": bson.M{"id": "U1"}},
		bson.M{"_id": "SU2", "unit": bson.M{"id": "U2"}},
		bson.M{"_id": "SU3", "unit": bson.M{"id": "U3"}},
		bson.M{"_id": "SU4", "unit": bson.M{"id": "U4"}},
	)

	s.run(c, day)

	c.Check(s.db.BackupIDs("requests"), jc.SameContents, []any{"R1", "R2", "R3"})
	c.Check(s.db.BackupIDs("units"), jc.SameContents, []any{"U1", "U2", "U3"})
	c.Check(s.db.BackupIDs("sellerUnits"), jc.SameContents, []any{"SU1", "SU2", "SU3"})
}

func (s *runnerSuite) TestUnitBackReferencesClosed(c *gc.C) {
	s.db.AddSource("units", bson.M{
		"_id":       "U1",
		"createdAt": s.ago(time.Hour),
		"rawUnitId": "RU1",
		"project":   bson.M{"id": "P1"},
		"configId":  "C1",
	})
	s.db.AddSource("units", bson.M{"_id": "U2", "parentUnitId": "U1", "configId": "C2"})
	s.db.AddSource("rawUnits", bson.M{"_id": "RU1", "createdAt": s.ago(300 * day)})
	s.db.AddSource("projects", bson.M{"_id": "P1"}, bson.M{"_id": "P2"})
	s.db.AddSource("configurations", bson.M{"_id": "C1"}, bson.M{"_id": "C2"}, bson.M{"_id": "C3"})
	s.db.AddSource("assignees",
		bson.M{"_id": "A1", "doc": bson.M{"collection": "projects", "id": "P1"}},
		bson.M{"_id": "A2", "doc": bson.M{"collection": "buyers", "id": "P1"}},
	)
	s.db.AddSource("incentives",
		bson.M{"_id": "IN1", "doc": bson.M{"id": "RU1"}},
		bson.M{"_id": "IN2", "doc": bson.M{"id": "P1"}},
		bson.M{"_id": "IN3", "doc": bson.M{"id": "U1"}},
		bson.M{"_id": "IN4", "doc": bson.M{"id": "elsewhere"}},
	)
	s.db.AddSource("listings",
		bson.M{"_id": "L1", "doc": bson.M{"collection": "units", "id": "U1"}},
		bson.M{"_id": "L2", "doc": bson.M{"collection": "projects", "id": "U1"}},
	)
	s.db.AddSource("verifiedFields", bson.M{"_id": "VF1", "for": bson.M{"collection": "units", "_id": "U1"}})
	s.db.AddSource("feedbacks", bson.M{"_id": "F1", "unitId": "U1"})

	s.run(c, day)

	c.Check(s.db.BackupIDs("units"), jc.SameContents, []any{"U1", "U2"})
	c.Check(s.db.BackupIDs("rawUnits"), jc.SameContents, []any{"RU1"})
	c.Check(s.db.BackupIDs("projects"), jc.SameContents, []any{"P1"})
	c.Check(s.db.BackupIDs("configurations"), jc.SameContents, []any{"C1", "C2"})
	c.Check(s.db.BackupIDs("assignees"), jc.SameContents, []any{"A1"})
	c.Check(s.db.BackupIDs("incentives"), jc.SameContents, []any{"IN1", "IN2", "IN3"})
	c.Check(s.db.BackupIDs("listings"), jc.SameContents, []any{"L1"})
	c.Check(s.db.BackupIDs("verifiedFields"), jc.SameContents, []any{"VF1"})
	c.Check(s.db.BackupIDs("feedbacks"), jc.SameContents, []any{"F1"})
}

func (s *runnerSuite) TestBuyerChain(c *gc.C) {
	s.db.AddSource("groups",
		bson.M{"_id": "G2", "relationship": "buyer", "createdAt": s.ago(time.Hour), "members": []any{}},
		bson.M{"_id": "G3", "relationship": "seller", "createdAt": s.ago(time.Hour)},
	)
	s.db.AddSource("assignees", bson.M{"_id": "A1", "doc": bson.M{"collection": "buyers", "id": "G2"}})
	s.db.AddSource("buyerUnitList", bson.M{"_id": "BL1", "buyer": bson.M{"id": "G2"}})
	s.db.AddSource("buyerUnits", bson.M{"_id": "BU1", "group": bson.M{"id": "G2"}, "unit": bson.M{"id": "U2"}})
	s.db.AddSource("units", bson.M{"_id": "U2", "createdAt": s.ago(900 * day)})
	s.db.AddSource("deals", bson.M{"_id": "BU1"})
	s.db.AddSource("dealActions", bson.M{"_id": "DA1", "dealId": "BU1"})
	s.db.AddSource("dealDocuments", bson.M{"_id": "DD1", "dealId": "BU1"})
	s.db.AddSource("dialogs", bson.M{"_id": "D1", "buyerUnitId": "BU1"})
	s.db.AddSource("invoices", bson.M{"_id": "INV1", "buyerUnitId": "BU1"})
	s.db.AddSource("incentives", bson.M{"_id": "IN1", "doc": bson.M{"id": "INV1"}})
	s.db.AddSource("conversations", bson.M{"_id": "CV1", "group": bson.M{"id": "G2"}})
	// Reachable both as a buyer-unit visit and as a seller visit of U2.
	s.db.AddSource("visits", bson.M{"_id": "V1", "buyerUnitId": "BU1", "unitId": "U2", "relationship": "seller"})

	result := s.run(c, day)

	c.Check(s.db.BackupIDs("groups"), jc.SameContents, []any{"G2"})
	c.Check(s.db.BackupIDs("assignees"), jc.SameContents, []any{"A1"})
	c.Check(s.db.BackupIDs("buyerUnitList"), jc.SameContents, []any{"BL1"})
	c.Check(s.db.BackupIDs("buyerUnits"), jc.SameContents, []any{"BU1"})
	c.Check(s.db.BackupIDs("units"), jc.SameContents, []any{"U2"})
	c.Check(s.db.BackupIDs("deals"), jc.SameContents, []any{"BU1"})
	c.Check(s.db.BackupIDs("dealActions"), jc.SameContents, []any{"DA1"})
	c.Check(s.db.BackupIDs("dealDocuments"), jc.SameContents, []any{"DD1"})
	c.Check(s.db.BackupIDs("dialogs"), jc.SameContents, []any{"D1"})
	c.Check(s.db.BackupIDs("invoices"), jc.SameContents, []any{"INV1"})
	c.Check(s.db.BackupIDs("incentives"), jc.SameContents, []any{"IN1"})
	c.Check(s.db.BackupIDs("conversations"), jc.SameContents, []any{"CV1"})
	c.Check(s.db.BackupIDs("visits"), jc.SameContents, []any{"V1"})

	visits, ok := result.Collection("visits")
	c.Assert(ok, jc.IsTrue)
	c.Check(visits.Operations, gc.Equals, 1)
	c.Check(visits.SkippedInserts, gc.Equals, 1)
	c.Check(visits.CommitErr, jc.ErrorIsNil)
}

func (s *runnerSuite) TestInternalUserAlwaysBackedUp(c *gc.C) {
	s.db.AddSource("users",
		bson.M{"_id": "admin", "internal": true, "createdAt": s.ago(730 * day)},
		bson.M{"_id": "someone", "internal": false, "createdAt": s.ago(730 * day)},
	)

	s.run(c, day)
	c.Check(s.db.BackupIDs("users"), jc.SameContents, []any{"admin"})

	s.clock.Advance(day)
	s.now = s.clock.Now()
	s.run(c, day)
	c.Check(s.db.BackupIDs("users"), jc.SameContents, []any{"admin"})
}

func inFlightRawUnit(id string, created time.Time, status string) bson.M {
	return bson.M{
		"_id":            id,
		"createdAt":      created,
		"assignedTo":     bson.M{"userId": ""},
		"cancellation":   bson.M{"flag": false},
		"customer":       bson.M{"phone": []any{"9999999999"}},
		"processDetails": bson.M{"status": status},
	}
}

func (s *runnerSuite) TestStaleInFlightRawUnit(c *gc.C) {
	s.db.AddSource("rawUnits",
		inFlightRawUnit("RU1", s.ago(30*day), "pending"),
		inFlightRawUnit("RU2", s.ago(30*day), "processed"),
		bson.M{"_id": "RU3", "createdAt": s.ago(6 * day), "processedUnit": bson.M{"id": "U3"}},
		bson.M{"_id": "RU4", "createdAt": s.ago(8 * day)},
	)
	s.db.AddSource("units", bson.M{"_id": "U3", "createdAt": s.ago(5 * day)})

	s.run(c, day)

	// RU3 is inside the widened window, RU4 is not.
	c.Check(s.db.BackupIDs("rawUnits"), jc.SameContents, []any{"RU1", "RU3"})
	c.Check(s.db.BackupIDs("units"), jc.SameContents, []any{"U3"})
}

func (s *runnerSuite) TestInFlightRawUnitsCapped(c *gc.C) {
	for i := 0; i < 600; i++ {
		s.db.AddSource("rawUnits", inFlightRawUnit(fmt.Sprintf("RU%03d", i), s.ago(30*day), "init"))
	}

	s.run(c, day)

	c.Check(s.db.BackupIDs("rawUnits"), gc.HasLen, 500)
	var limited []backupstest.Query
	for _, q := range s.db.Queries() {
		if q.Collection == "rawUnits" && q.Limit > 0 {
			limited = append(limited, q)
		}
	}
	c.Assert(limited, gc.HasLen, 1)
	c.Check(limited[0].Limit, gc.Equals, 500)
}

func (s *runnerSuite) TestWindowBoundsInclusive(c *gc.C) {
	s.db.AddSource("requests",
		bson.M{"_id": "start", "createdAt": s.ago(day)},
		bson.M{"_id": "end", "createdAt": s.now},
		bson.M{"_id": "before", "createdAt": s.ago(day + time.Second)},
		bson.M{"_id": "after", "createdAt": s.now.Add(time.Second)},
	)

	s.run(c, day)

	c.Check(s.db.BackupIDs("requests"), jc.SameContents, []any{"start", "end"})
}

func (s *runnerSuite) TestMirrorCompleteness(c *gc.C) {
	s.db.AddSource("cities",
		bson.M{"_id": "c1", "name": "Pune"},
		bson.M{"_id": "c2", "name": "Mumbai"},
	)
	s.db.AddBackup("cities", bson.M{"_id": "c1", "name": "Poona"})

	check := func() {
		c.Check(s.db.BackupIDs("cities"), jc.SameContents, []any{"c1", "c2"})
		for _, doc := range s.db.Backup("cities") {
			if doc["_id"] == "c1" {
				c.Check(doc["name"], gc.Equals, "Pune")
			}
		}
	}
	result := s.run(c, day)
	check()
	cities, _ := result.Collection("cities")
	c.Check(cities.Strategy, gc.Equals, backups.Mirror)
	c.Check(cities.DropErr, jc.ErrorIsNil)

	s.run(c, day)
	check()
	for _, name := range s.db.Drops() {
		c.Check(name, gc.Not(gc.Equals), "cities")
	}
}

func (s *runnerSuite) TestMirrorDropsDeletedDocuments(c *gc.C) {
	s.db.AddSource("cities",
		bson.M{"_id": "c1", "name": "Pune"},
		bson.M{"_id": "c2", "name": "Mumbai"},
	)
	s.db.AddBackup("cities", bson.M{"_id": "c3", "name": "Bombay"})
	s.db.AddBackup("roads", bson.M{"_id": "r1"})

	result := s.run(c, day)

	c.Check(s.db.BackupIDs("cities"), jc.SameContents, []any{"c1", "c2"})
	// Gone from the source, so gone from the backup.
	c.Check(s.db.BackupIDs("roads"), gc.HasLen, 0)
	c.Check(result.Failures(), gc.HasLen, 0)
	for _, name := range s.db.Drops() {
		c.Check(name, gc.Not(gc.Equals), "cities")
	}
}

func (s *runnerSuite) TestResetIsolation(c *gc.C) {
	s.db.AddBackup("requests", bson.M{"_id": "R0"})
	s.db.AddSource("requests", bson.M{"_id": "R1", "createdAt": s.ago(time.Hour)})

	result := s.run(c, day)

	c.Check(s.db.BackupIDs("requests"), jc.SameContents, []any{"R1"})
	requests, _ := result.Collection("requests")
	c.Check(requests.DropErr, jc.ErrorIsNil)
	// Never backed up before, so there is nothing to drop.
	deals, _ := result.Collection("deals")
	c.Check(deals.DropErr, gc.ErrorMatches, "ns not found")
	c.Check(result.Failures(), gc.HasLen, 0)
}

func (s *runnerSuite) TestEmptyBatchIssuesNoWrite(c *gc.C) {
	s.db.AddSource("requests", bson.M{"_id": "R1", "createdAt": s.ago(time.Hour)})

	result := s.run(c, day)

	c.Check(s.db.Applies("requests"), gc.Equals, 1)
	c.Check(s.db.Applies("deals"), gc.Equals, 0)
	deals, _ := result.Collection("deals")
	c.Check(deals.Operations, gc.Equals, 0)
	c.Check(deals.CommitErr, jc.ErrorIsNil)
}

func (s *runnerSuite) TestCommitFailureIsolated(c *gc.C) {
	s.db.AddSource("requests", bson.M{
		"_id":       "R1",
		"createdAt": s.ago(time.Hour),
		"info":      bson.M{"unit": bson.M{"id": "U1"}},
	})
	s.db.AddSource("units", bson.M{"_id": "U1"})
	s.db.SetApplyError("units", errors.New("disk full"))

	result := s.run(c, day)

	failures := result.Failures()
	c.Assert(failures, gc.HasLen, 1)
	c.Check(failures[0].Name, gc.Equals, "units")
	c.Check(failures[0].CommitErr, gc.ErrorMatches, `committing 1 operations to "units": disk full`)
	c.Check(s.db.BackupIDs("requests"), jc.SameContents, []any{"R1"})
	c.Check(s.failedRuns(c), gc.Equals, 0.0)
	c.Check(s.commitFailures(c, "units"), gc.Equals, 1.0)
}

func (s *runnerSuite) TestMissingDestinationAborts(c *gc.C) {
	s.db.AddBackup("requests", bson.M{"_id": "R0"})
	s.db.SetMissing("visits")

	_, err := s.newRunner(c).Run(context.Background(), backups.RunArgs{Date: s.now})
	c.Assert(err, gc.ErrorMatches, `opening visits: collection "visits" not found`)
	c.Check(err, jc.Satisfies, errors.IsNotFound)

	c.Check(s.db.Drops(), gc.HasLen, 0)
	c.Check(s.db.BackupIDs("requests"), jc.SameContents, []any{"R0"})
	opened, closed := s.db.Connects()
	c.Check(opened, gc.Equals, 1)
	c.Check(closed, gc.Equals, 1)
	c.Check(s.failedRuns(c), gc.Equals, 1.0)
}

func (s *runnerSuite) TestReadErrorAborts(c *gc.C) {
	s.db.AddSource("counters", bson.M{"_id": "K1", "updatedAt": s.ago(time.Hour)})
	s.db.SetFindError("requests", errors.New("boom"))

	_, err := s.newRunner(c).Run(context.Background(), backups.RunArgs{Date: s.now})
	c.Assert(err, gc.ErrorMatches, `reading requests: boom`)

	c.Check(s.db.Applies("counters"), gc.Equals, 0)
	_, closed := s.db.Connects()
	c.Check(closed, gc.Equals, 1)
}

func (s *runnerSuite) TestCancelledContext(c *gc.C) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.newRunner(c).Run(ctx, backups.RunArgs{Date: s.now})
	c.Assert(err, gc.ErrorMatches, `context canceled`)
	_, closed := s.db.Connects()
	c.Check(closed, gc.Equals, 1)
}

func (s *runnerSuite) TestReviews(c *gc.C) {
	s.db.AddSource("reviews",
		bson.M{"_id": "average", "updatedAt": s.ago(1000 * day)},
		bson.M{"_id": "r1", "updatedAt": s.ago(50 * day)},
		bson.M{"_id": "r2", "updatedAt": s.ago(200 * day)},
	)

	result := s.run(c, day)

	c.Check(s.db.BackupIDs("reviews"), jc.SameContents, []any{"average", "r1"})
	reviews, _ := result.Collection("reviews")
	c.Check(reviews.Operations, gc.Equals, 2)
}

func (s *runnerSuite) TestReviewsLookbackFromRunDate(c *gc.C) {
	s.db.AddSource("reviews",
		bson.M{"_id": "r1", "updatedAt": s.ago(250 * day)},
		bson.M{"_id": "r2", "updatedAt": s.ago(350 * day)},
	)

	// 250 days before now is within the lookback of a run dated 200 days
	// ago, although it is not within the lookback of now.
	_, err := s.newRunner(c).Run(context.Background(), backups.RunArgs{Date: s.ago(200 * day), Window: day})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.db.BackupIDs("reviews"), jc.SameContents, []any{"r1"})
}

func (s *runnerSuite) TestDefaultDateAndWindow(c *gc.C) {
	result, err := s.newRunner(c).Run(context.Background(), backups.RunArgs{})
	c.Assert(err, jc.ErrorIsNil)

	c.Check(result.Window.End, gc.Equals, s.now)
	c.Check(result.Window.Length(), gc.Equals, backups.DefaultWindow)
	c.Check(result.RunID, gc.Not(gc.Equals), "")
	c.Check(result.TimeTakenSeconds(), gc.Equals, 0.0)
	opened, closed := s.db.Connects()
	c.Check(opened, gc.Equals, 1)
	c.Check(closed, gc.Equals, 1)
	c.Check(s.completedRuns(c), gc.Equals, 1.0)
}

func (s *runnerSuite) TestInChunkSize(c *gc.C) {
	for i := 0; i < 5; i++ {
		s.db.AddSource("units", bson.M{"_id": fmt.Sprintf("U%d", i), "createdAt": s.ago(time.Hour)})
	}
	cfg := s.config(c)
	cfg.InChunkSize = 2
	r, err := backups.NewRunner(cfg)
	c.Assert(err, jc.ErrorIsNil)

	_, err = r.Run(context.Background(), backups.RunArgs{Date: s.now, Window: day})
	c.Assert(err, jc.ErrorIsNil)

	var n int
	for _, q := range s.db.Queries() {
		if q.Collection == "sellerUnits" {
			n++
		}
	}
	c.Check(n, gc.Equals, 3)
	c.Check(s.db.BackupIDs("units"), gc.HasLen, 5)
}

func (s *runnerSuite) TestCommitConcurrencyLimited(c *gc.C) {
	s.db.AddSource("requests", bson.M{"_id": "R1", "createdAt": s.ago(time.Hour)})
	s.db.AddSource("cities", bson.M{"_id": "c1"})
	cfg := s.config(c)
	cfg.CommitConcurrency = 1
	r, err := backups.NewRunner(cfg)
	c.Assert(err, jc.ErrorIsNil)

	result, err := r.Run(context.Background(), backups.RunArgs{Date: s.now, Window: day})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Operations(), gc.Equals, 2)
	c.Check(s.db.BackupIDs("requests"), jc.SameContents, []any{"R1"})
	c.Check(s.db.BackupIDs("cities"), jc.SameContents, []any{"c1"})
}

func (s *runnerSuite) gather(c *gc.C, name, label, value string) float64 {
	reg := prometheus.NewPedanticRegistry()
	c.Assert(reg.Register(s.metrics), jc.ErrorIsNil)
	families, err := reg.Gather()
	c.Assert(err, jc.ErrorIsNil)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == label && l.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (s *runnerSuite) completedRuns(c *gc.C) float64 {
	return s.gather(c, "dbbackup_runs_total", "outcome", "completed")
}

func (s *runnerSuite) failedRuns(c *gc.C) float64 {
	return s.gather(c, "dbbackup_runs_total", "outcome", "failed")
}

func (s *runnerSuite) commitFailures(c *gc.C, collection string) float64 {
	return s.gather(c, "dbbackup_commit_failures_total", "collection", collection)
}
