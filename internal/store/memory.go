package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/models"
)

type Memory struct {
	mu     sync.RWMutex
	events map[string]*models.Event
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]*models.Event),
		now:    time.Now,
	}
}

func (m *Memory) Create(_ context.Context, event *models.Event) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkNew(event); err != nil {
		return nil, err
	}
	return m.insert(event), nil
}

func (m *Memory) CreateBatch(_ context.Context, events []*models.Event) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range events {
		if err := m.checkNew(e); err != nil {
			return nil, err
		}
	}
	out := make([]*models.Event, len(events))
	for i, e := range events {
		out[i] = m.insert(e)
	}
	return out, nil
}

func (m *Memory) checkNew(e *models.Event) error {
	if e.ID != "" {
		if _, exists := m.events[e.ID]; exists {
			return apperr.Validation("event %s already exists", e.ID)
		}
	}
	return Validate(e)
}

func (m *Memory) insert(e *models.Event) *models.Event {
	c := e.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.events[c.ID] = c
	return c.Clone()
}

func (m *Memory) Get(_ context.Context, id string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return nil, apperr.NotFound("event %s not found", id)
	}
	return e.Clone(), nil
}

func (m *Memory) List(_ context.Context, r models.TimeRange, keyword string) ([]*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Event
	for _, e := range m.events {
		if e.Intersects(r.Start, r.End) && e.Matches(keyword) {
			out = append(out, e.Clone())
		}
	}
	models.SortByStart(out)
	return out, nil
}

func (m *Memory) Update(_ context.Context, id string, patch models.EventPatch) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return nil, apperr.NotFound("event %s not found", id)
	}
	merged := patch.Apply(e)
	if err := Validate(merged); err != nil {
		return nil, err
	}
	m.events[id] = merged
	return merged.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[id]; !ok {
		return apperr.NotFound("event %s not found", id)
	}
	delete(m.events, id)
	return nil
}

func (m *Memory) DeleteSeries(_ context.Context, parentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[parentID]; !ok {
		return 0, apperr.NotFound("event %s not found", parentID)
	}
	n := 0
	for id, e := range m.events {
		if id == parentID || e.ParentID == parentID {
			delete(m.events, id)
			n++
		}
	}
	return n, nil
}

// Validate enforces the invariants every stored event holds.
func Validate(e *models.Event) error {
	if e.Title == "" {
		return apperr.Validation("title must not be empty")
	}
	if !e.End.After(e.Start) {
		return apperr.Validation("end %s must be after start %s",
			e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	return nil
}
