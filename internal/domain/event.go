package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Event times must fit in int64 nanoseconds since the Unix epoch, roughly
// the years 1678 to 2262.
var (
	MinEventTime = time.Unix(0, math.MinInt64).UTC()
	MaxEventTime = time.Unix(0, math.MaxInt64).UTC()
)

// EventType is the direction of an inventory movement.
type EventType string

const (
	EventShipment  EventType = "shipment"
	EventDepletion EventType = "depletion"
)

var eventTypes = map[string]EventType{
	"shipment":  EventShipment,
	"depletion": EventDepletion,
}

// ParseEventType returns the event type for a given label (case-insensitive).
func ParseEventType(label string) (EventType, bool) {
	t, ok := eventTypes[strings.ToLower(strings.TrimSpace(label))]
	return t, ok
}

// Valid reports whether t is a recognized event type.
func (t EventType) Valid() bool {
	_, ok := eventTypes[string(t)]
	return ok
}

// InventoryEvent is a single immutable ledger entry. Quantity is always a
// positive magnitude; the direction comes from Type.
type InventoryEvent struct {
	ID          string          `json:"id" db:"id"`
	Time        time.Time       `json:"time" db:"time"`
	SKUID       string          `json:"sku_id" db:"sku_id"`
	WarehouseID string          `json:"warehouse_id" db:"warehouse_id"`
	Type        EventType       `json:"event_type" db:"event_type"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	RecordedAt  time.Time       `json:"recorded_at" db:"recorded_at"`
}

// Key returns the (sku, warehouse) pair the event belongs to.
func (e *InventoryEvent) Key() InventoryKey {
	return InventoryKey{SKUID: e.SKUID, WarehouseID: e.WarehouseID}
}

// Validate checks the append contract of the ledger.
func (e *InventoryEvent) Validate() error {
	if err := validateIdentifier("sku_id", e.SKUID); err != nil {
		return err
	}
	if err := validateIdentifier("warehouse_id", e.WarehouseID); err != nil {
		return err
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unrecognized event_type %q", ErrValidation, e.Type)
	}
	if !e.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be greater than zero, got %s", ErrValidation, e.Quantity)
	}
	if e.Time.IsZero() {
		return fmt.Errorf("%w: time is required", ErrValidation)
	}
	if e.Time.Before(MinEventTime) || e.Time.After(MaxEventTime) {
		return fmt.Errorf("%w: time %s is outside %d-%d", ErrValidation,
			e.Time.Format(time.RFC3339), MinEventTime.Year(), MaxEventTime.Year())
	}
	return nil
}

func validateIdentifier(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	// NUL separates key segments in the embedded ledgers
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%w: %s contains a NUL byte", ErrValidation, field)
	}
	return nil
}

// InventoryKey identifies one SKU stocked in one warehouse.
type InventoryKey struct {
	SKUID       string `json:"sku_id" db:"sku_id"`
	WarehouseID string `json:"warehouse_id" db:"warehouse_id"`
}

func (k InventoryKey) String() string {
	return k.SKUID + "@" + k.WarehouseID
}

// Less orders keys by sku, then warehouse.
func (k InventoryKey) Less(other InventoryKey) bool {
	if k.SKUID != other.SKUID {
		return k.SKUID < other.SKUID
	}
	return k.WarehouseID < other.WarehouseID
}

// TimeWindow is the half-open interval (Since, Until]. A zero Since means
// "since the first event".
type TimeWindow struct {
	Since time.Time
	Until time.Time
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Since.IsZero() && !t.After(w.Since) {
		return false
	}
	if !w.Until.IsZero() && t.After(w.Until) {
		return false
	}
	return true
}

// TrailingWindow returns the window of the given number of days ending at asOf.
func TrailingWindow(asOf time.Time, days int) TimeWindow {
	return TimeWindow{
		Since: asOf.Add(-time.Duration(days) * 24 * time.Hour),
		Until: asOf,
	}
}
