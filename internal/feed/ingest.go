package feed

import (
	"context"
	"errors"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/forecast"
	"github.com/andresuchdata/supplybalance/internal/ledger"
)

const DefaultBatchSize = 500

// Result counts what a load did with the rows it was given.
type Result struct {
	Appended   int `json:"appended"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// LoadEvents appends events in batches. A batch that hits an already
// recorded ID is retried event by event so only the duplicates are skipped.
// progress, when set, receives the number of events handled after each batch.
func LoadEvents(ctx context.Context, l ledger.Ledger, events []*domain.InventoryEvent, batchSize int, progress func(int)) (Result, error) {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	var res Result
	for start := 0; start < len(events); start += batchSize {
		batch := events[start:min(start+batchSize, len(events))]

		err := l.AppendBatch(ctx, batch)
		switch {
		case err == nil:
			res.Appended += len(batch)
		case errors.Is(err, domain.ErrDuplicate):
			for _, e := range batch {
				err := l.Append(ctx, e)
				switch {
				case err == nil:
					res.Appended++
				case errors.Is(err, domain.ErrDuplicate):
					res.Duplicates++
				default:
					return res, err
				}
			}
		default:
			return res, err
		}

		if progress != nil {
			progress(len(batch))
		}
	}
	return res, nil
}

// LoadForecasts appends runs in order. Runs older than the stored current run
// of their SKU are counted as rejected rather than failing the load.
func LoadForecasts(ctx context.Context, store forecast.Store, runs []*domain.ForecastRun, progress func(int)) (Result, error) {
	var res Result
	for _, run := range runs {
		err := store.Append(ctx, run)
		switch {
		case err == nil:
			res.Appended++
		case errors.Is(err, domain.ErrOutOfOrder):
			res.Rejected++
		default:
			return res, err
		}
		if progress != nil {
			progress(1)
		}
	}
	return res, nil
}
