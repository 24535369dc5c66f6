package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Trailing window lengths in days.
const (
	WindowShort = 30
	WindowLong  = 90
)

// RollupWarehouse is the warehouse_id carried by SKU-level rollup rows.
const RollupWarehouse = "*"

var (
	shortDays = decimal.NewFromInt(WindowShort)
	longDays  = decimal.NewFromInt(WindowLong)
)

// Metrics is one row of a snapshot: the balance of one SKU in one warehouse.
type Metrics struct {
	SKUID            string              `json:"sku_id" db:"sku_id"`
	WarehouseID      string              `json:"warehouse_id" db:"warehouse_id"`
	CurrentInventory decimal.Decimal     `json:"current_inventory" db:"current_inventory"`
	Shipments30d     decimal.Decimal     `json:"shipments_30d" db:"shipments_30d"`
	Depletions30d    decimal.Decimal     `json:"depletions_30d" db:"depletions_30d"`
	Shipments90d     decimal.Decimal     `json:"shipments_90d" db:"shipments_90d"`
	Depletions90d    decimal.Decimal     `json:"depletions_90d" db:"depletions_90d"`
	A30Ratio         decimal.NullDecimal `json:"a30_ratio" db:"a30_ratio"`
	A90Ratio         decimal.NullDecimal `json:"a90_ratio" db:"a90_ratio"`
	DOHT30           decimal.NullDecimal `json:"doh_t30" db:"doh_t30"`
	DOHT90           decimal.NullDecimal `json:"doh_t90" db:"doh_t90"`
	CalculatedAt     time.Time           `json:"calculated_at" db:"calculated_at"`
}

// Key returns the (sku, warehouse) pair of the row.
func (m *Metrics) Key() InventoryKey {
	return InventoryKey{SKUID: m.SKUID, WarehouseID: m.WarehouseID}
}

// Derive fills the ratio and DOH fields from the window sums and the current
// inventory. DOH is inventory / (depletions / days), computed as
// inventory * days / depletions to avoid rounding the daily rate.
func (m *Metrics) Derive() {
	m.A30Ratio = SafeDiv(m.Shipments30d, m.Depletions30d)
	m.A90Ratio = SafeDiv(m.Shipments90d, m.Depletions90d)
	m.DOHT30 = SafeDiv(m.CurrentInventory.Mul(shortDays), m.Depletions30d)
	m.DOHT90 = SafeDiv(m.CurrentInventory.Mul(longDays), m.Depletions90d)
}

// DOH returns the DOH value for the given window length.
func (m *Metrics) DOH(window int) decimal.NullDecimal {
	if window == WindowLong {
		return m.DOHT90
	}
	return m.DOHT30
}

// Ratio returns the shipment:depletion ratio for the given window length.
func (m *Metrics) Ratio(window int) decimal.NullDecimal {
	if window == WindowLong {
		return m.A90Ratio
	}
	return m.A30Ratio
}

// Snapshot is the immutable result of one aggregator run. It is never
// modified after construction; a new run builds a new Snapshot.
type Snapshot struct {
	CalculatedAt time.Time
	rows         []Metrics
	index        map[InventoryKey]int
}

// NewSnapshot builds a snapshot from rows. Rows are copied, stamped with
// calculatedAt and ordered by key.
func NewSnapshot(calculatedAt time.Time, rows []Metrics) *Snapshot {
	copied := make([]Metrics, len(rows))
	copy(copied, rows)
	sort.Slice(copied, func(i, j int) bool {
		return copied[i].Key().Less(copied[j].Key())
	})

	index := make(map[InventoryKey]int, len(copied))
	for i := range copied {
		copied[i].CalculatedAt = calculatedAt
		index[copied[i].Key()] = i
	}

	return &Snapshot{
		CalculatedAt: calculatedAt,
		rows:         copied,
		index:        index,
	}
}

// Len returns the number of rows.
func (s *Snapshot) Len() int {
	return len(s.rows)
}

// Rows returns a copy of the snapshot rows ordered by key.
func (s *Snapshot) Rows() []Metrics {
	out := make([]Metrics, len(s.rows))
	copy(out, s.rows)
	return out
}

// Get returns the row for key.
func (s *Snapshot) Get(key InventoryKey) (Metrics, bool) {
	i, ok := s.index[key]
	if !ok {
		return Metrics{}, false
	}
	return s.rows[i], true
}

// ForSKU returns the per-warehouse rows of one SKU.
func (s *Snapshot) ForSKU(skuID string) []Metrics {
	var out []Metrics
	for _, row := range s.rows {
		if row.SKUID == skuID {
			out = append(out, row)
		}
	}
	return out
}

// Rollup sums the per-warehouse rows of every SKU into one row per SKU and
// derives ratios and DOH from the summed quantities.
func (s *Snapshot) Rollup() []Metrics {
	var out []Metrics
	for _, row := range s.rows {
		// rows are sorted by sku first, so a SKU's rows are contiguous
		if n := len(out); n > 0 && out[n-1].SKUID == row.SKUID {
			addQuantities(&out[n-1], row)
			continue
		}
		out = append(out, Metrics{
			SKUID:            row.SKUID,
			WarehouseID:      RollupWarehouse,
			CurrentInventory: row.CurrentInventory,
			Shipments30d:     row.Shipments30d,
			Depletions30d:    row.Depletions30d,
			Shipments90d:     row.Shipments90d,
			Depletions90d:    row.Depletions90d,
			CalculatedAt:     s.CalculatedAt,
		})
	}
	for i := range out {
		out[i].Derive()
	}
	return out
}

func addQuantities(dst *Metrics, src Metrics) {
	dst.CurrentInventory = dst.CurrentInventory.Add(src.CurrentInventory)
	dst.Shipments30d = dst.Shipments30d.Add(src.Shipments30d)
	dst.Depletions30d = dst.Depletions30d.Add(src.Depletions30d)
	dst.Shipments90d = dst.Shipments90d.Add(src.Shipments90d)
	dst.Depletions90d = dst.Depletions90d.Add(src.Depletions90d)
}
