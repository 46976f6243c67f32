// Package eventstore keeps the append-only history of loan and book
// transitions. Events are written through the caller's transaction so the
// history and the read model commit together.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Aggregate types.
const (
	AggregateLoan = "loan"
	AggregateBook = "book"
)

// Event is one recorded transition of an aggregate.
type Event struct {
	ID            int64             `json:"id" db:"id"`
	AggregateID   uuid.UUID         `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string            `json:"aggregate_type" db:"aggregate_type"`
	EventType     string            `json:"event_type" db:"event_type"`
	EventData     []byte            `json:"event_data" db:"event_data"`
	Metadata      map[string]string `json:"metadata" db:"-"`
	Version       int               `json:"version" db:"version"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// NewEvent marshals data into an event of the given type.
func NewEvent(eventType string, data any, metadata map[string]string) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: raw, Metadata: metadata}, nil
}

// Store appends and loads events.
type Store struct {
	tracer trace.Tracer
	now    func() time.Time
}

// New creates a store using the global tracer provider.
func New() *Store {
	return &Store{
		tracer: otel.Tracer("booknet/eventstore"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append writes events after expectedVersion. It fails with
// ErrConcurrencyConflict when the aggregate has moved on.
func (s *Store) Append(ctx context.Context, tx sqlx.ExtContext, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := s.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	var currentVersion int
	err := sqlx.GetContext(ctx, tx, &currentVersion, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	for i, event := range events {
		version := expectedVersion + i + 1
		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}

		var eventID int64
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`,
			aggregateID,
			aggregateType,
			event.EventType,
			event.EventData,
			metadataJSON,
			version,
			s.now(),
		).Scan(&eventID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// Load returns all events of an aggregate in version order.
func (s *Store) Load(ctx context.Context, q sqlx.QueryerContext, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	rows, err := q.QueryxContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var metadataJSON []byte
		err := rows.Scan(
			&event.ID,
			&event.AggregateID,
			&event.AggregateType,
			&event.EventType,
			&event.EventData,
			&metadataJSON,
			&event.Version,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
