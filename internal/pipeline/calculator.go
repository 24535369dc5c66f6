package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/ledger"
)

// Calculator computes the metrics row of one (sku, warehouse) key.
type Calculator struct {
	ledger ledger.Ledger
}

// NewCalculator creates a calculator reading from l
func NewCalculator(l ledger.Ledger) *Calculator {
	return &Calculator{ledger: l}
}

// Compute reads every event of key up to asOf and derives its metrics.
func (c *Calculator) Compute(ctx context.Context, key domain.InventoryKey, asOf time.Time) (domain.Metrics, error) {
	window := domain.TimeWindow{Until: asOf}

	shipments, err := c.ledger.Fetch(ctx, key, domain.EventShipment, window)
	if err != nil {
		return domain.Metrics{}, fmt.Errorf("fetch shipments for %s: %w", key, err)
	}
	depletions, err := c.ledger.Fetch(ctx, key, domain.EventDepletion, window)
	if err != nil {
		return domain.Metrics{}, fmt.Errorf("fetch depletions for %s: %w", key, err)
	}

	return ComputeMetrics(key, shipments, depletions, asOf), nil
}

// ComputeMetrics derives a metrics row from the full shipment and depletion
// history of a key. Events after asOf are ignored.
func ComputeMetrics(key domain.InventoryKey, shipments, depletions []domain.InventoryEvent, asOf time.Time) domain.Metrics {
	inception := domain.TimeWindow{Until: asOf}
	short := domain.TrailingWindow(asOf, domain.WindowShort)
	long := domain.TrailingWindow(asOf, domain.WindowLong)

	m := domain.Metrics{
		SKUID:         key.SKUID,
		WarehouseID:   key.WarehouseID,
		Shipments30d:  sumWindow(shipments, short),
		Depletions30d: sumWindow(depletions, short),
		Shipments90d:  sumWindow(shipments, long),
		Depletions90d: sumWindow(depletions, long),
		CalculatedAt:  asOf,
	}
	m.CurrentInventory = sumWindow(shipments, inception).Sub(sumWindow(depletions, inception))
	m.Derive()

	return m
}

func sumWindow(events []domain.InventoryEvent, window domain.TimeWindow) decimal.Decimal {
	total := decimal.Zero
	for _, e := range events {
		if window.Contains(e.Time) {
			total = total.Add(e.Quantity)
		}
	}
	return total
}
