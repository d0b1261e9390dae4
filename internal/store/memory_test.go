package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
)

func TestTaskRoundTripAndSnapshot(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	task := models.NewTask("t", "", 1000, "e1", nil)
	if err := m.PutTask(ctx, task); err != nil {
		t.Fatalf("PutTask: %v", err)
	}

	got, err := m.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	// Mutating the returned copy must not leak into the arena.
	got.State = models.TaskPaid
	again, _ := m.GetTask(ctx, task.ID)
	if again.State != models.TaskDraft {
		t.Errorf("arena mutated through returned copy: %s", again.State)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetTask(context.Background(), uuid.New())
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestEventIDsMonotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	taskID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.AppendEvent(ctx, &models.EscrowEvent{EventType: models.EventTaskCreated, TaskID: &taskID})
		}()
	}
	wg.Wait()

	events, err := m.ListEventsByTask(ctx, taskID)
	if err != nil {
		t.Fatalf("ListEventsByTask: %v", err)
	}
	if len(events) != 20 {
		t.Fatalf("events: got %d, want 20", len(events))
	}
	seen := make(map[int64]bool)
	for _, e := range events {
		if e.ID <= 0 {
			t.Errorf("event id %d not assigned", e.ID)
		}
		if seen[e.ID] {
			t.Errorf("duplicate event id %d", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestListTasksByPubkey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	asEmployer := models.NewTask("a", "", 1, "alice", nil)
	asWorker := models.NewTask("b", "", 1, "bob", nil)
	asWorker.WorkerPubkey = "alice"
	other := models.NewTask("c", "", 1, "carol", nil)
	for _, task := range []*models.Task{asEmployer, asWorker, other} {
		if err := m.PutTask(ctx, task); err != nil {
			t.Fatalf("PutTask: %v", err)
		}
	}

	got, err := m.ListTasksByPubkey(ctx, "alice")
	if err != nil {
		t.Fatalf("ListTasksByPubkey: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("tasks for alice: got %d, want 2", len(got))
	}
}

func TestReputationBadgesCopied(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	r := models.NewReputation("pk", 500)
	r.Badges = []string{"first_task"}
	if err := m.PutReputation(ctx, r); err != nil {
		t.Fatalf("PutReputation: %v", err)
	}

	got, _ := m.GetReputation(ctx, "pk")
	got.Badges[0] = "tampered"
	again, _ := m.GetReputation(ctx, "pk")
	if again.Badges[0] != "first_task" {
		t.Error("badge slice aliased between arena and caller")
	}
}
