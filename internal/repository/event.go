package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hray3182/calpilot/internal/apperr"
	"github.com/hray3182/calpilot/internal/database"
	"github.com/hray3182/calpilot/internal/models"
	"github.com/hray3182/calpilot/internal/rrule"
	"github.com/hray3182/calpilot/internal/store"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, title, description, location, start_time, end_time, all_day,
	recurrence_rule, parent_id, created_at`

// EventRepository is the Postgres calendar store.
type EventRepository struct {
	db *database.DB
}

var _ store.Store = (*EventRepository)(nil)

func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *EventRepository) Create(ctx context.Context, event *models.Event) (*models.Event, error) {
	if err := store.Validate(event); err != nil {
		return nil, err
	}
	return r.insert(ctx, r.db.Pool, event)
}

func (r *EventRepository) CreateBatch(ctx context.Context, events []*models.Event) ([]*models.Event, error) {
	for _, e := range events {
		if err := store.Validate(e); err != nil {
			return nil, err
		}
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	out := make([]*models.Event, 0, len(events))
	for _, e := range events {
		created, err := r.insert(ctx, tx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit events: %w", err)
	}
	return out, nil
}

func (r *EventRepository) insert(ctx context.Context, q querier, event *models.Event) (*models.Event, error) {
	e := event.Clone()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	var recurrence string
	if e.Recurrence != nil {
		recurrence = rrule.String(e.Recurrence, e.Start)
	}

	err := q.QueryRow(ctx,
		`INSERT INTO event (id, title, description, location, start_time, end_time, all_day,
		 recurrence_rule, parent_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at`,
		e.ID, e.Title, e.Description, e.Location, e.Start, e.End, e.AllDay,
		recurrence, nullable(e.ParentID),
	).Scan(&e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	return e, nil
}

func (r *EventRepository) Get(ctx context.Context, id string) (*models.Event, error) {
	return r.get(ctx, r.db.Pool, id, "")
}

func (r *EventRepository) get(ctx context.Context, q querier, id, suffix string) (*models.Event, error) {
	row := q.QueryRow(ctx, `SELECT `+eventColumns+` FROM event WHERE id = $1`+suffix, id)
	event, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("event %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

func (r *EventRepository) List(ctx context.Context, tr models.TimeRange, keyword string) ([]*models.Event, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM event
		 WHERE start_time < $2 AND end_time > $1
		 AND ($3 = '' OR title ILIKE $4 OR description ILIKE $4)
		 ORDER BY start_time ASC, end_time ASC, id ASC`,
		tr.Start, tr.End, keyword, "%"+escapeLike(keyword)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *EventRepository) Update(ctx context.Context, id string, patch models.EventPatch) (*models.Event, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := r.get(ctx, tx, id, " FOR UPDATE")
	if err != nil {
		return nil, err
	}
	merged := patch.Apply(current)
	if err := store.Validate(merged); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE event SET title = $1, description = $2, location = $3, start_time = $4, end_time = $5
		 WHERE id = $6`,
		merged.Title, merged.Description, merged.Location, merged.Start, merged.End, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return merged, nil
}

func (r *EventRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM event WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("event %s not found", id)
	}
	return nil
}

func (r *EventRepository) DeleteSeries(ctx context.Context, parentID string) (int, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM event WHERE id = $1 OR parent_id = $1`,
		parentID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete series: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, apperr.NotFound("event %s not found", parentID)
	}
	return int(tag.RowsAffected()), nil
}

// MarkNotified records that the scheduler announced an event. It returns
// false if the event was already recorded.
func (r *EventRepository) MarkNotified(ctx context.Context, eventID string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`INSERT INTO notified_event (event_id) VALUES ($1) ON CONFLICT DO NOTHING`,
		eventID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var (
		event      models.Event
		recurrence string
		parentID   *string
	)
	if err := row.Scan(&event.ID, &event.Title, &event.Description, &event.Location,
		&event.Start, &event.End, &event.AllDay, &recurrence, &parentID, &event.CreatedAt); err != nil {
		return nil, err
	}
	if recurrence != "" {
		rule, err := rrule.Parse(recurrence)
		if err != nil {
			return nil, err
		}
		event.Recurrence = rule
	}
	if parentID != nil {
		event.ParentID = *parentID
	}
	return &event, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
