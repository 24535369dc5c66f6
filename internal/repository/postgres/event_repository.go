package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/ledger"
)

// EventRepository is the Postgres-backed event ledger
type EventRepository struct {
	db *DB
}

func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

var _ ledger.Ledger = (*EventRepository)(nil)

func (r *EventRepository) Append(ctx context.Context, event *domain.InventoryEvent) error {
	return r.AppendBatch(ctx, []*domain.InventoryEvent{event})
}

func (r *EventRepository) AppendBatch(ctx context.Context, events []*domain.InventoryEvent) error {
	if err := ledger.PrepareBatch(events, time.Now().UTC()); err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO inventory_events (
				id, time, sku_id, warehouse_id, event_type, quantity, recorded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, e := range events {
			_, err := stmt.ExecContext(ctx,
				e.ID, e.Time, e.SKUID, e.WarehouseID, string(e.Type), e.Quantity, e.RecordedAt,
			)
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: event id %s already recorded", domain.ErrDuplicate, e.ID)
			}
			if err != nil {
				return fmt.Errorf("failed to insert event %s: %w", e.ID, err)
			}
		}

		return nil
	})
}

func (r *EventRepository) Fetch(ctx context.Context, key domain.InventoryKey, eventType domain.EventType, window domain.TimeWindow) ([]domain.InventoryEvent, error) {
	conditions := []string{"sku_id = $1", "warehouse_id = $2", "event_type = $3"}
	args := []interface{}{key.SKUID, key.WarehouseID, string(eventType)}

	if !window.Since.IsZero() {
		args = append(args, window.Since)
		conditions = append(conditions, fmt.Sprintf("time > $%d", len(args)))
	}
	if !window.Until.IsZero() {
		args = append(args, window.Until)
		conditions = append(conditions, fmt.Sprintf("time <= $%d", len(args)))
	}

	query := `
		SELECT id, time, sku_id, warehouse_id, event_type, quantity, recorded_at
		FROM inventory_events
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY time ASC, id ASC
	`

	events := []domain.InventoryEvent{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("fetch %s events for %s: %w", eventType, key, err)
	}
	for i := range events {
		events[i].Time = events[i].Time.UTC()
		events[i].RecordedAt = events[i].RecordedAt.UTC()
	}
	return events, nil
}

func (r *EventRepository) Keys(ctx context.Context) ([]domain.InventoryKey, error) {
	query := `
		SELECT DISTINCT sku_id, warehouse_id
		FROM inventory_events
		ORDER BY sku_id, warehouse_id
	`

	keys := []domain.InventoryKey{}
	if err := r.db.SelectContext(ctx, &keys, query); err != nil {
		return nil, fmt.Errorf("list ledger keys: %w", err)
	}
	return keys, nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (r *EventRepository) Close() error {
	return nil
}
