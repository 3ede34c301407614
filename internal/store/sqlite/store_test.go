package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"qms/lane-service/internal/models"
	"qms/lane-service/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lanes.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLaneLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	lane, err := s.CreateLane(ctx, store.CreateLaneInput{Name: "Billing", Description: "Payments", IsActive: true})
	if err != nil {
		t.Fatalf("create lane: %v", err)
	}
	if lane.Type != models.LaneTypeRegular {
		t.Fatalf("expected default lane type REGULAR, got %s", lane.Type)
	}
	if _, err := s.CreateLane(ctx, store.CreateLaneInput{Name: "Billing"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate name, got %v", err)
	}

	if err := s.SetCurrentNumber(ctx, lane.LaneID, 7); err != nil {
		t.Fatalf("set current: %v", err)
	}
	if err := s.SetLastServed(ctx, lane.LaneID, 6); err != nil {
		t.Fatalf("set last served: %v", err)
	}
	if err := s.SetActive(ctx, lane.LaneID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	got, err := s.GetLane(ctx, lane.LaneID)
	if err != nil {
		t.Fatalf("get lane: %v", err)
	}
	if got.CurrentNumber != 7 || got.LastServedNumber != 6 || got.IsActive {
		t.Fatalf("unexpected lane state: %+v", got)
	}
	if got.Version <= lane.Version {
		t.Fatalf("expected version to advance, got %d", got.Version)
	}

	active, err := s.ListLanes(ctx, true)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active lanes, got %d", len(active))
	}

	desc := "Cash and card"
	updated, err := s.UpdateLane(ctx, store.UpdateLaneInput{LaneID: lane.LaneID, Description: &desc})
	if err != nil {
		t.Fatalf("update lane: %v", err)
	}
	if updated.Description != desc || updated.Name != "Billing" {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	if _, err := s.GetLane(ctx, "missing"); !errors.Is(err, store.ErrLaneNotFound) {
		t.Fatalf("expected ErrLaneNotFound, got %v", err)
	}
	if err := s.SetCurrentNumber(ctx, "missing", 1); !errors.Is(err, store.ErrLaneNotFound) {
		t.Fatalf("expected ErrLaneNotFound, got %v", err)
	}
}

func TestQueueItemsAndStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	lane, err := s.CreateLane(ctx, store.CreateLaneInput{Name: "Records", IsActive: true})
	if err != nil {
		t.Fatalf("create lane: %v", err)
	}
	day := "2026-03-01"
	for n := 1; n <= 3; n++ {
		if _, err := s.InsertQueueItem(ctx, models.QueueItem{LaneID: lane.LaneID, Number: n, ServiceDay: day}); err != nil {
			t.Fatalf("insert %d: %v", n, err)
		}
	}
	if _, err := s.InsertQueueItem(ctx, models.QueueItem{LaneID: lane.LaneID, Number: 2, ServiceDay: day}); !errors.Is(err, store.ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber, got %v", err)
	}
	if _, err := s.InsertQueueItem(ctx, models.QueueItem{LaneID: lane.LaneID, Number: 1, ServiceDay: "2026-02-28"}); err != nil {
		t.Fatalf("previous day insert: %v", err)
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		item, found, err := tx.FindQueueItem(ctx, lane.LaneID, day, 1)
		if err != nil || !found {
			t.Fatalf("find item: %v %v", found, err)
		}
		return tx.MarkQueueItem(ctx, item.ID, models.StatusCalled, time.Now())
	})
	if err != nil {
		t.Fatalf("mark called: %v", err)
	}

	stats, err := s.LaneDayStats(ctx, day)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	entry := stats[lane.LaneID]
	if entry.WaitingCount != 2 || entry.CalledCount != 1 || entry.MaxNumber != 3 {
		t.Fatalf("unexpected stats: %+v", entry)
	}

	waiting, err := s.CountWaitingBefore(ctx, lane.LaneID, day, 3)
	if err != nil || waiting != 1 {
		t.Fatalf("expected 1 waiting before #3, got %d (%v)", waiting, err)
	}

	called, err := s.ListQueueItems(ctx, lane.LaneID, day, models.StatusCalled)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(called) != 1 || called[0].Number != 1 || called[0].CalledAt == nil {
		t.Fatalf("unexpected called items: %+v", called)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	lane, err := s.CreateLane(ctx, store.CreateLaneInput{Name: "Pharmacy", IsActive: true})
	if err != nil {
		t.Fatalf("create lane: %v", err)
	}

	boom := errors.New("boom")
	err = s.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetLane(ctx, lane.LaneID)
		if err != nil {
			return err
		}
		current.CurrentNumber = 9
		if err := tx.UpdateLanePointers(ctx, current); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.GetLane(ctx, lane.LaneID)
	if err != nil {
		t.Fatalf("get lane: %v", err)
	}
	if got.CurrentNumber != 0 {
		t.Fatalf("expected rollback, current number is %d", got.CurrentNumber)
	}

	stale := got
	if err := s.SetCurrentNumber(ctx, lane.LaneID, 2); err != nil {
		t.Fatalf("set current: %v", err)
	}
	err = s.InTx(ctx, func(tx store.Tx) error {
		stale.CurrentNumber = 3
		return tx.UpdateLanePointers(ctx, stale)
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}
}

func TestAssignmentsAndSettings(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	regular, _ := s.CreateLane(ctx, store.CreateLaneInput{Name: "Regular 1", Type: models.LaneTypeRegular, IsActive: true})
	regular2, _ := s.CreateLane(ctx, store.CreateLaneInput{Name: "Regular 2", Type: models.LaneTypeRegular, IsActive: true})
	priority, _ := s.CreateLane(ctx, store.CreateLaneInput{Name: "Priority", Type: models.LaneTypePriority, IsActive: true})

	staff, err := s.CreateActor(ctx, store.CreateActorInput{Username: "ana", Name: "Ana", Role: models.RoleStaff})
	if err != nil {
		t.Fatalf("create actor: %v", err)
	}
	if _, err := s.AssignLane(ctx, staff.ActorID, regular.LaneID); err != nil {
		t.Fatalf("assign regular: %v", err)
	}
	if _, err := s.AssignLane(ctx, staff.ActorID, priority.LaneID); err != nil {
		t.Fatalf("assign priority: %v", err)
	}
	if _, err := s.AssignLane(ctx, staff.ActorID, regular2.LaneID); !errors.Is(err, store.ErrAssignmentExists) {
		t.Fatalf("expected ErrAssignmentExists, got %v", err)
	}
	if _, err := s.AssignLane(ctx, "nobody", regular.LaneID); !errors.Is(err, store.ErrActorNotFound) {
		t.Fatalf("expected ErrActorNotFound, got %v", err)
	}

	lanes, err := s.ListAssignedLanes(ctx, staff.ActorID)
	if err != nil {
		t.Fatalf("list assigned: %v", err)
	}
	if len(lanes) != 2 {
		t.Fatalf("expected 2 assigned lanes, got %d", len(lanes))
	}

	if err := s.UpsertSetting(ctx, models.SettingLastLaneReset, "2026-03-01"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertSetting(ctx, models.SettingLastLaneReset, "2026-03-02"); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	value, found, err := s.GetSetting(ctx, models.SettingLastLaneReset)
	if err != nil || !found || value != "2026-03-02" {
		t.Fatalf("unexpected setting %q %v (%v)", value, found, err)
	}
}

func TestUpdateActor(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	actor, err := s.CreateActor(ctx, store.CreateActorInput{Username: "dana", Name: "Dana", Role: models.RoleStaff})
	if err != nil {
		t.Fatalf("create actor: %v", err)
	}
	inactive := false
	updated, err := s.UpdateActor(ctx, store.UpdateActorInput{ActorID: actor.ActorID, IsActive: &inactive})
	if err != nil {
		t.Fatalf("update actor: %v", err)
	}
	if updated.IsActive || updated.Name != "Dana" || updated.Role != models.RoleStaff {
		t.Fatalf("unexpected actor: %+v", updated)
	}

	role := models.RoleDisplay
	updated, err = s.UpdateActor(ctx, store.UpdateActorInput{ActorID: actor.ActorID, Role: &role})
	if err != nil {
		t.Fatalf("update role: %v", err)
	}
	if updated.Role != models.RoleDisplay || updated.IsActive {
		t.Fatalf("unexpected actor after role change: %+v", updated)
	}

	if _, err := s.UpdateActor(ctx, store.UpdateActorInput{ActorID: "missing", IsActive: &inactive}); !errors.Is(err, store.ErrActorNotFound) {
		t.Fatalf("expected ErrActorNotFound, got %v", err)
	}
}
