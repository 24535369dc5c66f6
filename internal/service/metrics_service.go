package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/supplybalance/internal/cache"
	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/forecast"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// SnapshotSource returns the currently published snapshot, nil before the
// first publish.
type SnapshotSource interface {
	Current() *domain.Snapshot
}

type MetricsOptions struct {
	StaleAfter     time.Duration
	AlertThreshold decimal.Decimal
	Clock          func() time.Time
}

// MetricsService answers every read from the published snapshot. It never
// recomputes metrics from the ledger.
type MetricsService struct {
	snapshots  SnapshotSource
	forecasts  forecast.Store
	cache      cache.SummaryCache
	staleAfter time.Duration
	threshold  decimal.Decimal
	clock      func() time.Time
}

func NewMetricsService(snapshots SnapshotSource, forecasts forecast.Store, cacheImpl cache.SummaryCache, opts MetricsOptions) *MetricsService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopSummaryCache()
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if !opts.AlertThreshold.IsPositive() {
		opts.AlertThreshold = decimal.NewFromInt(30)
	}
	return &MetricsService{
		snapshots:  snapshots,
		forecasts:  forecasts,
		cache:      cacheImpl,
		staleAfter: opts.StaleAfter,
		threshold:  opts.AlertThreshold,
		clock:      opts.Clock,
	}
}

func (s *MetricsService) current() (*domain.Snapshot, domain.SnapshotInfo, error) {
	snap := s.snapshots.Current()
	if snap == nil {
		return nil, domain.SnapshotInfo{}, domain.ErrNoSnapshot
	}
	return snap, s.info(snap), nil
}

func (s *MetricsService) info(snap *domain.Snapshot) domain.SnapshotInfo {
	age := s.clock().Sub(snap.CalculatedAt)
	if age < 0 {
		age = 0
	}
	return domain.SnapshotInfo{
		CalculatedAt:       snap.CalculatedAt,
		SnapshotAgeSeconds: age.Seconds(),
		Stale:              s.staleAfter > 0 && age > s.staleAfter,
	}
}

// SnapshotInfo reports the freshness of the published snapshot.
func (s *MetricsService) SnapshotInfo() (domain.SnapshotInfo, error) {
	_, info, err := s.current()
	return info, err
}

// ListMetrics returns classified per-warehouse rows, most urgent first.
func (s *MetricsService) ListMetrics(ctx context.Context, filter domain.MetricsFilter) (*domain.MetricsPage, error) {
	snap, info, err := s.current()
	if err != nil {
		return nil, err
	}

	views := filterViews(classifyRows(snap.Rows()), filter)
	sortViews(views, filter.EffectiveWindow())
	return paginate(info, views, filter), nil
}

// Rollup returns SKU-level rows summed over the warehouses matching filter.
func (s *MetricsService) Rollup(ctx context.Context, filter domain.MetricsFilter) (*domain.MetricsPage, error) {
	snap, info, err := s.current()
	if err != nil {
		return nil, err
	}

	scoped := rowsFilter(filter)
	var rows []domain.Metrics
	for _, row := range snap.Rows() {
		if scoped.matchKey(row) {
			rows = append(rows, row)
		}
	}
	rolled := domain.NewSnapshot(snap.CalculatedAt, rows).Rollup()

	stateOnly := filter
	stateOnly.WarehouseIDs = nil
	views := filterViews(classifyRows(rolled), stateOnly)
	sortViews(views, filter.EffectiveWindow())
	return paginate(info, views, filter), nil
}

// ListAlerts returns rows whose DOH is defined and below threshold. A nil
// threshold uses the configured default.
func (s *MetricsService) ListAlerts(ctx context.Context, threshold *decimal.Decimal, window int) (*domain.AlertList, error) {
	snap, info, err := s.current()
	if err != nil {
		return nil, err
	}

	limit := s.threshold
	if threshold != nil {
		limit = *threshold
	}
	window = domain.MetricsFilter{Window: window}.EffectiveWindow()

	items := []domain.MetricsView{}
	for _, view := range classifyRows(snap.Rows()) {
		doh := view.DOH(window)
		if doh.Valid && doh.Decimal.LessThan(limit) {
			items = append(items, view)
		}
	}
	sortViews(items, window)

	return &domain.AlertList{
		SnapshotInfo: info,
		Threshold:    limit,
		Window:       window,
		Items:        items,
	}, nil
}

// Summary counts rows per DOH state and per balance state.
func (s *MetricsService) Summary(ctx context.Context, filter domain.MetricsFilter) (*domain.StatusSummary, error) {
	snap, info, err := s.current()
	if err != nil {
		return nil, err
	}

	if summary, ok, err := s.cache.GetSummary(ctx, snap.CalculatedAt, filter); err == nil && ok {
		summary.SnapshotInfo = info
		return summary, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("metrics: cache get summary failed")
	}

	window := filter.EffectiveWindow()
	views := filterViews(classifyRows(snap.Rows()), filter)
	summary := &domain.StatusSummary{
		SnapshotInfo: info,
		Window:       window,
		Total:        len(views),
		DOH:          countStates(views, domain.DOHStates(), func(v domain.MetricsView) domain.DOHState { return v.Status.DOH(window) }),
		Balance:      countStates(views, domain.BalanceStates(), func(v domain.MetricsView) domain.BalanceState { return v.Status.Balance(window) }),
	}

	if err := s.cache.SetSummary(ctx, snap.CalculatedAt, filter, summary); err != nil {
		log.Warn().Err(err).Msg("metrics: cache set summary failed")
	}

	return summary, nil
}

// SKUOverview joins a SKU's rollup and warehouse rows with its current
// forecast. A SKU without a forecast gets a nil Forecast.
func (s *MetricsService) SKUOverview(ctx context.Context, skuID string) (*domain.SKUOverview, error) {
	snap, info, err := s.current()
	if err != nil {
		return nil, err
	}

	rows := snap.ForSKU(skuID)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no metrics for sku %s", domain.ErrNotFound, skuID)
	}
	rollup := domain.NewSnapshot(snap.CalculatedAt, rows).Rollup()[0]

	warehouses := classifyRows(rows)
	sortViews(warehouses, domain.WindowShort)

	overview := &domain.SKUOverview{
		SnapshotInfo: info,
		Rollup:       domain.MetricsView{Metrics: rollup, Status: domain.Classify(rollup)},
		Warehouses:   warehouses,
	}

	if s.forecasts != nil {
		run, err := s.forecasts.SelectCurrent(ctx, skuID, s.clock())
		switch {
		case err == nil:
			overview.Forecast = run
		case errors.Is(err, domain.ErrNotFound):
		default:
			log.Warn().Err(err).Str("sku_id", skuID).Msg("metrics: forecast lookup failed, serving overview without forecast")
		}
	}

	return overview, nil
}

func classifyRows(rows []domain.Metrics) []domain.MetricsView {
	views := make([]domain.MetricsView, len(rows))
	for i, row := range rows {
		views[i] = domain.MetricsView{Metrics: row, Status: domain.Classify(row)}
	}
	return views
}

// sortViews orders by DOH state rank, then DOH ascending with undefined
// values last, then sku and warehouse.
func sortViews(views []domain.MetricsView, window int) {
	slices.SortStableFunc(views, func(a, b domain.MetricsView) int {
		if c := cmp.Compare(a.Status.DOH(window).Rank(), b.Status.DOH(window).Rank()); c != 0 {
			return c
		}
		da, db := a.DOH(window), b.DOH(window)
		switch {
		case da.Valid && db.Valid:
			if c := da.Decimal.Cmp(db.Decimal); c != 0 {
				return c
			}
		case da.Valid:
			return -1
		case db.Valid:
			return 1
		}
		if c := cmp.Compare(a.SKUID, b.SKUID); c != 0 {
			return c
		}
		return cmp.Compare(a.WarehouseID, b.WarehouseID)
	})
}

type viewFilter struct {
	skus       map[string]struct{}
	warehouses map[string]struct{}
	doh        map[domain.DOHState]struct{}
	balance    map[domain.BalanceState]struct{}
	window     int
}

func toSet[T comparable](values []T) map[T]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[T]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func contains[T comparable](set map[T]struct{}, v T) bool {
	if set == nil {
		return true
	}
	_, ok := set[v]
	return ok
}

func rowsFilter(filter domain.MetricsFilter) viewFilter {
	return viewFilter{
		skus:       toSet(filter.SKUIDs),
		warehouses: toSet(filter.WarehouseIDs),
		doh:        toSet(filter.DOHStates),
		balance:    toSet(filter.BalanceStates),
		window:     filter.EffectiveWindow(),
	}
}

func (f viewFilter) matchKey(m domain.Metrics) bool {
	return contains(f.skus, m.SKUID) && contains(f.warehouses, m.WarehouseID)
}

func (f viewFilter) match(v domain.MetricsView) bool {
	return f.matchKey(v.Metrics) &&
		contains(f.doh, v.Status.DOH(f.window)) &&
		contains(f.balance, v.Status.Balance(f.window))
}

func filterViews(views []domain.MetricsView, filter domain.MetricsFilter) []domain.MetricsView {
	f := rowsFilter(filter)
	out := make([]domain.MetricsView, 0, len(views))
	for _, v := range views {
		if f.match(v) {
			out = append(out, v)
		}
	}
	return out
}

func paginate(info domain.SnapshotInfo, views []domain.MetricsView, filter domain.MetricsFilter) *domain.MetricsPage {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	total := len(views)
	start := min((page-1)*size, total)
	end := min(start+size, total)

	return &domain.MetricsPage{
		SnapshotInfo: info,
		Items:        views[start:end],
		Total:        total,
		Page:         page,
		PageSize:     size,
		TotalPages:   (total + size - 1) / size,
	}
}

func countStates[S ~string](views []domain.MetricsView, states []S, stateOf func(domain.MetricsView) S) []domain.StateCount {
	counts := make(map[S]int, len(states))
	for _, v := range views {
		counts[stateOf(v)]++
	}
	out := make([]domain.StateCount, len(states))
	for i, state := range states {
		out[i] = domain.StateCount{State: string(state), Count: counts[state]}
	}
	return out
}
