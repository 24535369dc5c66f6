package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricsFilter represents filters for metrics queries
type MetricsFilter struct {
	SKUIDs        []string       `json:"sku_ids"`
	WarehouseIDs  []string       `json:"warehouse_ids"`
	DOHStates     []DOHState     `json:"doh_states"`
	BalanceStates []BalanceState `json:"balance_states"`
	Window        int            `json:"window"` // 30 or 90, selects the axis used for states and sorting
	Page          int            `json:"page"`
	PageSize      int            `json:"page_size"`
}

// EffectiveWindow returns the window length the filter applies to.
func (f MetricsFilter) EffectiveWindow() int {
	if f.Window == WindowLong {
		return WindowLong
	}
	return WindowShort
}

// MetricsView is a snapshot row together with its classification
type MetricsView struct {
	Metrics
	Status Classification `json:"status"`
}

// SnapshotInfo describes the freshness of the data a response was built from
type SnapshotInfo struct {
	CalculatedAt       time.Time `json:"calculated_at"`
	SnapshotAgeSeconds float64   `json:"snapshot_age_seconds"`
	Stale              bool      `json:"stale"`
}

// MetricsPage represents the paginated response for metrics rows
type MetricsPage struct {
	SnapshotInfo
	Items      []MetricsView `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// AlertList is the DOH alert feed consumed by the alerts view
type AlertList struct {
	SnapshotInfo
	Threshold decimal.Decimal `json:"threshold"`
	Window    int             `json:"window"`
	Items     []MetricsView   `json:"items"`
}

// StateCount is the number of rows in one state
type StateCount struct {
	State string `json:"state"`
	Count int    `json:"count"`
}

// StatusSummary aggregates state counts for the dashboard cards
type StatusSummary struct {
	SnapshotInfo
	Window  int          `json:"window"`
	Total   int          `json:"total"`
	DOH     []StateCount `json:"doh"`
	Balance []StateCount `json:"balance"`
}

// SKUOverview joins a SKU's metrics with its current forecast. Forecast is nil
// when no forecast run exists for the SKU.
type SKUOverview struct {
	SnapshotInfo
	Rollup     MetricsView   `json:"rollup"`
	Warehouses []MetricsView `json:"warehouses"`
	Forecast   *ForecastRun  `json:"forecast"`
}
