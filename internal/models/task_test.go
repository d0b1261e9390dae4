package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/errs"
)

var allStates = []TaskState{
	TaskDraft, TaskPendingFunding, TaskFunded, TaskClaimed, TaskVerified,
	TaskPaid, TaskRefunded, TaskDisputed, TaskExpired,
}

// legalPairs mirrors the lifecycle section of the design doc; the test
// enumerates every from/to pair against it.
var legalPairs = map[TaskState]map[TaskState]bool{
	TaskDraft:          {TaskPendingFunding: true, TaskExpired: true},
	TaskPendingFunding: {TaskFunded: true, TaskExpired: true, TaskDraft: true},
	TaskFunded:         {TaskClaimed: true, TaskRefunded: true, TaskExpired: true},
	TaskClaimed:        {TaskVerified: true, TaskDisputed: true, TaskExpired: true},
	TaskVerified:       {TaskPaid: true, TaskDisputed: true},
	TaskDisputed:       {TaskPaid: true, TaskRefunded: true},
}

func TestTransitionTableExhaustive(t *testing.T) {
	for _, from := range allStates {
		for _, to := range allStates {
			want := legalPairs[from][to]
			task := NewTask("t", "", 1000, "employer", nil)
			task.State = from

			err := task.Transition(to)
			if want && err != nil {
				t.Errorf("%s -> %s: expected legal, got %v", from, to, err)
			}
			if !want {
				if err == nil {
					t.Errorf("%s -> %s: expected illegal, transition succeeded", from, to)
					continue
				}
				if !errors.Is(err, errs.ErrStateTransition) {
					t.Errorf("%s -> %s: wrong error kind: %v", from, to, err)
				}
				var e *errs.Error
				errors.As(err, &e)
				if e.From != string(from) || e.To != string(to) {
					t.Errorf("%s -> %s: error pair %q -> %q does not match attempt", from, to, e.From, e.To)
				}
				if task.State != from {
					t.Errorf("%s -> %s: failed transition mutated state to %s", from, to, task.State)
				}
			}
		}
	}
}

func TestTerminalStates(t *testing.T) {
	terminals := map[TaskState]bool{TaskPaid: true, TaskRefunded: true, TaskExpired: true}
	for _, s := range allStates {
		if s.IsTerminal() != terminals[s] {
			t.Errorf("IsTerminal(%s): got %v, want %v", s, s.IsTerminal(), terminals[s])
		}
	}
}

func TestCapabilityPredicatesDeriveFromTable(t *testing.T) {
	for _, s := range allStates {
		if s.CanFund() != CanTransition(s, TaskPendingFunding) {
			t.Errorf("CanFund(%s) disagrees with table", s)
		}
		if s.CanClaim() != CanTransition(s, TaskClaimed) {
			t.Errorf("CanClaim(%s) disagrees with table", s)
		}
		if s.CanSettle() != (s == TaskVerified) {
			t.Errorf("CanSettle(%s): got %v", s, s.CanSettle())
		}
		if s.CanDispute() != (s == TaskClaimed || s == TaskVerified) {
			t.Errorf("CanDispute(%s): got %v", s, s.CanDispute())
		}
	}
}

func TestNewTaskDefaults(t *testing.T) {
	deadline := time.Now().Add(24 * time.Hour)
	task := NewTask("Build a relay", "desc", 50000, "e1", &deadline)

	if task.State != TaskDraft {
		t.Errorf("new task state: got %s, want draft", task.State)
	}
	if task.RewardSats != 50000 || task.EmployerPubkey != "e1" {
		t.Error("reward or employer not set")
	}
	if task.WorkerPubkey != "" || task.ClaimedAt != nil || task.FundingID != nil {
		t.Error("worker/claim/funding fields must be unset in draft")
	}
	if task.ID == uuid.Nil {
		t.Error("task id not assigned")
	}
}
