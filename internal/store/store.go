// Package store defines the calendar store contract and an in-memory
// implementation.
package store

import (
	"context"

	"github.com/hray3182/calpilot/internal/models"
)

// Store is the calendar backend. Each call is atomic; List observes a
// consistent snapshot. Missing ids yield an apperr not_found error.
type Store interface {
	Create(ctx context.Context, event *models.Event) (*models.Event, error)
	// CreateBatch stores all events or none of them.
	CreateBatch(ctx context.Context, events []*models.Event) ([]*models.Event, error)
	Get(ctx context.Context, id string) (*models.Event, error)
	// List returns events intersecting r, optionally filtered by a
	// case-insensitive keyword on title and description, ordered by start.
	List(ctx context.Context, r models.TimeRange, keyword string) ([]*models.Event, error)
	// Update merges patch and rejects a result whose end is not after its start.
	Update(ctx context.Context, id string, patch models.EventPatch) (*models.Event, error)
	Delete(ctx context.Context, id string) error
	// DeleteSeries removes a parent event and all its children.
	DeleteSeries(ctx context.Context, parentID string) (int, error)
}
