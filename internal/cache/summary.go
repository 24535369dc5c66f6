package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/supplybalance/internal/config"
	"github.com/andresuchdata/supplybalance/internal/domain"
)

const (
	summaryKeyPrefix = "metrics:summary"
	scanBatchSize    = 100
)

// SummaryCache caches state-count summaries per snapshot. Entries are keyed
// by the snapshot's calculated_at, so a new snapshot never reads old counts.
type SummaryCache interface {
	GetSummary(ctx context.Context, calculatedAt time.Time, filter domain.MetricsFilter) (*domain.StatusSummary, bool, error)
	SetSummary(ctx context.Context, calculatedAt time.Time, filter domain.MetricsFilter, summary *domain.StatusSummary) error
	InvalidateAll(ctx context.Context) error
	OnSnapshot(ctx context.Context, snap *domain.Snapshot) error
}

type redisSummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopSummaryCache struct{}

// NewSummaryCache returns a Redis-backed cache, or a no-op cache when
// caching is disabled.
func NewSummaryCache(ctx context.Context, cfg config.CacheConfig) (SummaryCache, error) {
	if !cfg.Enabled {
		return &noopSummaryCache{}, nil
	}

	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &redisSummaryCache{
		client: client,
		ttl:    summaryTTL(cfg),
	}, nil
}

func NewNoopSummaryCache() SummaryCache {
	return &noopSummaryCache{}
}

func (c *redisSummaryCache) GetSummary(ctx context.Context, calculatedAt time.Time, filter domain.MetricsFilter) (*domain.StatusSummary, bool, error) {
	key := buildSummaryKey(calculatedAt, filter)

	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var summary domain.StatusSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, false, fmt.Errorf("decode status summary cache: %w", err)
	}

	return &summary, true, nil
}

func (c *redisSummaryCache) SetSummary(ctx context.Context, calculatedAt time.Time, filter domain.MetricsFilter, summary *domain.StatusSummary) error {
	key := buildSummaryKey(calculatedAt, filter)
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode status summary cache: %w", err)
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

func (c *redisSummaryCache) InvalidateAll(ctx context.Context) error {
	_, err := unlinkMatching(ctx, c.client, summaryKeyPrefix+":*", scanBatchSize)
	return err
}

// OnSnapshot drops the summaries of earlier snapshots once a new one is
// published.
func (c *redisSummaryCache) OnSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return c.InvalidateAll(ctx)
}

func (n *noopSummaryCache) GetSummary(ctx context.Context, calculatedAt time.Time, filter domain.MetricsFilter) (*domain.StatusSummary, bool, error) {
	return nil, false, nil
}

func (n *noopSummaryCache) SetSummary(ctx context.Context, calculatedAt time.Time, filter domain.MetricsFilter, summary *domain.StatusSummary) error {
	return nil
}

func (n *noopSummaryCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func (n *noopSummaryCache) OnSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return nil
}

// buildSummaryKey ignores pagination and the order of filter values.
func buildSummaryKey(calculatedAt time.Time, filter domain.MetricsFilter) string {
	stamp := strconv.FormatInt(calculatedAt.UnixNano(), 10)

	var parts []string
	addSorted := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		sorted := slices.Clone(values)
		slices.Sort(sorted)
		sorted = slices.Compact(sorted)
		parts = append(parts, name+"="+strings.Join(sorted, ","))
	}

	addSorted("sku", filter.SKUIDs)
	addSorted("warehouse", filter.WarehouseIDs)
	addSorted("doh", statesToStrings(filter.DOHStates))
	addSorted("balance", statesToStrings(filter.BalanceStates))
	parts = append(parts, "window="+strconv.Itoa(filter.EffectiveWindow()))

	raw := strings.Join(parts, "|")
	hash := sha1.Sum([]byte(raw))
	return fmt.Sprintf("%s:%s:%s", summaryKeyPrefix, stamp, hex.EncodeToString(hash[:]))
}

func statesToStrings[S ~string](states []S) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
