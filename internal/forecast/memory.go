package forecast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

type skuRuns struct {
	runs    []*domain.ForecastRun // ascending by model_trained_at
	current *domain.ForecastRun
}

// MemoryStore is an in-process Store. Appends are serialized; reads run
// concurrently.
type MemoryStore struct {
	mu   sync.RWMutex
	skus map[string]*skuRuns
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{skus: make(map[string]*skuRuns)}
}

func (s *MemoryStore) Append(ctx context.Context, run *domain.ForecastRun) error {
	stored := cloneRun(run)
	stored.Normalize()
	if err := stored.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.skus[stored.SKUID]
	if !ok {
		entry = &skuRuns{}
		s.skus[stored.SKUID] = entry
	}
	if entry.current != nil && !stored.ModelTrainedAt.After(entry.current.ModelTrainedAt) {
		return fmt.Errorf("%w: run trained at %s is not newer than %s for sku %s",
			domain.ErrOutOfOrder, stored.ModelTrainedAt.Format(time.RFC3339Nano),
			entry.current.ModelTrainedAt.Format(time.RFC3339Nano), stored.SKUID)
	}

	entry.runs = append(entry.runs, stored)
	entry.current = stored
	return nil
}

func (s *MemoryStore) SelectCurrent(ctx context.Context, skuID string, now time.Time) (*domain.ForecastRun, error) {
	skuID = domain.NormalizeSKU(skuID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.skus[skuID]
	if !ok || entry.current == nil {
		return nil, fmt.Errorf("%w: no forecast for sku %s", domain.ErrNotFound, skuID)
	}
	return entry.current.From(now), nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, skuID string) ([]domain.ForecastRunSummary, error) {
	skuID = domain.NormalizeSKU(skuID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.skus[skuID]
	if !ok {
		return []domain.ForecastRunSummary{}, nil
	}

	out := make([]domain.ForecastRunSummary, 0, len(entry.runs))
	for i := len(entry.runs) - 1; i >= 0; i-- {
		summary := entry.runs[i].Summary()
		summary.Current = entry.runs[i] == entry.current
		out = append(out, summary)
	}
	return out, nil
}
