package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/ledger"
)

// EventService records inventory events in the ledger. Recorded events show
// up in metrics after the next aggregator run.
type EventService struct {
	ledger ledger.Ledger
}

func NewEventService(l ledger.Ledger) *EventService {
	return &EventService{ledger: l}
}

// Record appends events as one batch and returns them with their assigned
// IDs. One invalid event rejects the whole batch.
func (s *EventService) Record(ctx context.Context, events []*domain.InventoryEvent) ([]*domain.InventoryEvent, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no events in request", domain.ErrValidation)
	}
	if err := s.ledger.AppendBatch(ctx, events); err != nil {
		return nil, err
	}
	log.Debug().Int("count", len(events)).Msg("events: batch recorded")
	return events, nil
}
