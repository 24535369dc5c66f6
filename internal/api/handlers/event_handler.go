package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/service"
)

const maxEventsBody = 8 << 20

type EventHandler struct {
	service *service.EventService
}

func NewEventHandler(service *service.EventService) *EventHandler {
	return &EventHandler{service: service}
}

// Record accepts a single event object, an array of events, or
// {"events": [...]}.
func (h *EventHandler) Record(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventsBody))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	events, err := decodeEvents(body)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	recorded, err := h.service.Record(c.Request.Context(), events)
	if err != nil {
		respondError(c, "failed to record events", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"count":  len(recorded),
		"events": recorded,
	})
}

func decodeEvents(body []byte) ([]*domain.InventoryEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty request body")
	}

	var events []*domain.InventoryEvent
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, err
		}
	case '{':
		var envelope struct {
			Events []*domain.InventoryEvent `json:"events"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Events != nil {
			return envelope.Events, nil
		}
		var single domain.InventoryEvent
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, err
		}
		events = append(events, &single)
	default:
		return nil, fmt.Errorf("expected a JSON object or array")
	}

	for i, e := range events {
		if e == nil {
			return nil, fmt.Errorf("event %d is null", i)
		}
	}
	return events, nil
}
