package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satwork/backend/internal/errs"
	"github.com/satwork/backend/internal/models"
)

// Memory is the in-process arena: one RWMutex per collection, values copied
// on the way in and out so readers always observe a consistent snapshot.
type Memory struct {
	tasksMu sync.RWMutex
	tasks   map[uuid.UUID]models.Task

	fundingMu sync.RWMutex
	funding   map[uuid.UUID]models.Funding

	eventsMu sync.RWMutex
	events   []models.EscrowEvent
	nextID   int64

	repMu sync.RWMutex
	reps  map[string]models.Reputation

	disputesMu sync.RWMutex
	disputes   map[uuid.UUID]models.Dispute
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty arena.
func NewMemory() *Memory {
	return &Memory{
		tasks:    make(map[uuid.UUID]models.Task),
		funding:  make(map[uuid.UUID]models.Funding),
		reps:     make(map[string]models.Reputation),
		disputes: make(map[uuid.UUID]models.Dispute),
		nextID:   1,
	}
}

func (m *Memory) GetTask(_ context.Context, id uuid.UUID) (*models.Task, error) {
	m.tasksMu.RLock()
	defer m.tasksMu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, errs.NotFound("task %s", id)
	}
	cp := t
	return &cp, nil
}

func (m *Memory) PutTask(_ context.Context, t *models.Task) error {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	m.tasks[t.ID] = *t
	return nil
}

func (m *Memory) ListTasksByPubkey(_ context.Context, pubkey string) ([]*models.Task, error) {
	m.tasksMu.RLock()
	defer m.tasksMu.RUnlock()
	var out []*models.Task
	for _, t := range m.tasks {
		if t.EmployerPubkey == pubkey || t.WorkerPubkey == pubkey {
			cp := t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListTasks(_ context.Context) ([]*models.Task, error) {
	m.tasksMu.RLock()
	defer m.tasksMu.RUnlock()
	out := make([]*models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetFunding(_ context.Context, id uuid.UUID) (*models.Funding, error) {
	m.fundingMu.RLock()
	defer m.fundingMu.RUnlock()
	f, ok := m.funding[id]
	if !ok {
		return nil, errs.NotFound("funding %s", id)
	}
	cp := f
	return &cp, nil
}

func (m *Memory) PutFunding(_ context.Context, f *models.Funding) error {
	m.fundingMu.Lock()
	defer m.fundingMu.Unlock()
	m.funding[f.ID] = *f
	return nil
}

func (m *Memory) ListFunding(_ context.Context) ([]*models.Funding, error) {
	m.fundingMu.RLock()
	defer m.fundingMu.RUnlock()
	out := make([]*models.Funding, 0, len(m.funding))
	for _, f := range m.funding {
		cp := f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AppendEvent(_ context.Context, e *models.EscrowEvent) error {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	e.ID = m.nextID
	m.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *Memory) ListEventsByTask(_ context.Context, taskID uuid.UUID) ([]*models.EscrowEvent, error) {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	var out []*models.EscrowEvent
	for i := range m.events {
		if m.events[i].TaskID != nil && *m.events[i].TaskID == taskID {
			cp := m.events[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) GetReputation(_ context.Context, pubkey string) (*models.Reputation, error) {
	m.repMu.RLock()
	defer m.repMu.RUnlock()
	r, ok := m.reps[pubkey]
	if !ok {
		return nil, errs.NotFound("reputation %s", pubkey)
	}
	cp := r
	cp.Badges = append([]string(nil), r.Badges...)
	return &cp, nil
}

func (m *Memory) PutReputation(_ context.Context, r *models.Reputation) error {
	m.repMu.Lock()
	defer m.repMu.Unlock()
	cp := *r
	cp.Badges = append([]string(nil), r.Badges...)
	m.reps[r.Pubkey] = cp
	return nil
}

func (m *Memory) ListReputation(_ context.Context) ([]*models.Reputation, error) {
	m.repMu.RLock()
	defer m.repMu.RUnlock()
	out := make([]*models.Reputation, 0, len(m.reps))
	for _, r := range m.reps {
		cp := r
		cp.Badges = append([]string(nil), r.Badges...)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) GetDispute(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	m.disputesMu.RLock()
	defer m.disputesMu.RUnlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, errs.NotFound("dispute %s", id)
	}
	cp := d
	return &cp, nil
}

func (m *Memory) PutDispute(_ context.Context, d *models.Dispute) error {
	m.disputesMu.Lock()
	defer m.disputesMu.Unlock()
	m.disputes[d.ID] = *d
	return nil
}

func (m *Memory) ListDisputesByTask(_ context.Context, taskID uuid.UUID) ([]*models.Dispute, error) {
	m.disputesMu.RLock()
	defer m.disputesMu.RUnlock()
	var out []*models.Dispute
	for _, d := range m.disputes {
		if d.TaskID == taskID {
			cp := d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
