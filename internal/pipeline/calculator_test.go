package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/ledger"
)

var asOf = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time {
	return asOf.Add(-time.Duration(d) * 24 * time.Hour)
}

func ev(sku, wh string, typ domain.EventType, qty int64, at time.Time) *domain.InventoryEvent {
	return &domain.InventoryEvent{
		Time:        at,
		SKUID:       sku,
		WarehouseID: wh,
		Type:        typ,
		Quantity:    decimal.NewFromInt(qty),
	}
}

func seed(t *testing.T, l ledger.Ledger, events ...*domain.InventoryEvent) {
	t.Helper()
	require.NoError(t, l.AppendBatch(context.Background(), events))
}

func TestCalculatorWarningScenario(t *testing.T) {
	l := ledger.NewMemoryLedger()
	seed(t, l,
		ev("SKU-1", "WH-1", domain.EventShipment, 500, daysAgo(40)),
		ev("SKU-1", "WH-1", domain.EventDepletion, 300, daysAgo(10)),
	)

	m, err := NewCalculator(l).Compute(context.Background(), domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-1"}, asOf)
	require.NoError(t, err)

	assert.Equal(t, "200", m.CurrentInventory.String())
	assert.Equal(t, "0", m.Shipments30d.String())
	assert.Equal(t, "300", m.Depletions30d.String())
	assert.Equal(t, "500", m.Shipments90d.String())
	require.True(t, m.DOHT30.Valid)
	assert.Equal(t, "20", m.DOHT30.Decimal.String())
	assert.Equal(t, "60", m.DOHT90.Decimal.String())
	assert.Equal(t, domain.DOHWarning, domain.ClassifyDOH(m.DOHT30))
	assert.Equal(t, domain.BalanceUndersupply, domain.ClassifyBalance(m.A30Ratio))
	assert.Equal(t, asOf, m.CalculatedAt)
}

func TestComputeMetricsWindowBounds(t *testing.T) {
	key := domain.InventoryKey{SKUID: "SKU-1", WarehouseID: "WH-1"}
	shipments := []domain.InventoryEvent{
		*ev("SKU-1", "WH-1", domain.EventShipment, 1000, daysAgo(120)),
	}
	depletions := []domain.InventoryEvent{
		*ev("SKU-1", "WH-1", domain.EventDepletion, 7, daysAgo(90)),          // outside 90d, left edge is open
		*ev("SKU-1", "WH-1", domain.EventDepletion, 11, daysAgo(30)),         // outside 30d, inside 90d
		*ev("SKU-1", "WH-1", domain.EventDepletion, 13, asOf),                // right edge is closed
		*ev("SKU-1", "WH-1", domain.EventDepletion, 17, asOf.Add(time.Hour)), // future
	}

	m := ComputeMetrics(key, shipments, depletions, asOf)

	assert.Equal(t, "13", m.Depletions30d.String())
	assert.Equal(t, "24", m.Depletions90d.String())
	assert.Equal(t, "969", m.CurrentInventory.String())
}

func TestComputeMetricsNoSales(t *testing.T) {
	key := domain.InventoryKey{SKUID: "SKU-9", WarehouseID: "WH-1"}
	shipments := []domain.InventoryEvent{*ev("SKU-9", "WH-1", domain.EventShipment, 40, daysAgo(5))}

	m := ComputeMetrics(key, shipments, nil, asOf)

	assert.Equal(t, "40", m.CurrentInventory.String())
	assert.False(t, m.A30Ratio.Valid)
	assert.False(t, m.A90Ratio.Valid)
	assert.False(t, m.DOHT30.Valid)
	assert.False(t, m.DOHT90.Valid)
	c := domain.Classify(m)
	assert.Equal(t, domain.DOHNoSales, c.DOH30)
	assert.Equal(t, domain.BalanceNoSales, c.Balance90)
}

func TestComputeMetricsNegativeInventory(t *testing.T) {
	key := domain.InventoryKey{SKUID: "SKU-2", WarehouseID: "WH-1"}
	depletions := []domain.InventoryEvent{*ev("SKU-2", "WH-1", domain.EventDepletion, 30, daysAgo(1))}

	m := ComputeMetrics(key, nil, depletions, asOf)

	assert.Equal(t, "-30", m.CurrentInventory.String())
	assert.True(t, m.DOHT30.Decimal.IsNegative())
	assert.Equal(t, domain.DOHCritical, domain.ClassifyDOH(m.DOHT30))
}
