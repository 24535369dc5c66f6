// Package feed parses CSV and XLSX inventory feeds and loads them into the
// ledger and forecast store.
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

// feedNamespace derives stable event IDs for feed rows without an id column.
// The ID depends on the row's content and how many identical rows precede
// it, never on its line, so a revision that inserts or removes rows keeps
// the IDs of the rows it did not touch.
var feedNamespace = uuid.MustParse("6f1c2a8e-4b7d-4e0a-9d3f-2c5b8e1a7f40")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

var eventColumns = []string{"time", "sku_id", "warehouse_id", "event_type", "quantity"}

// ParseEvents reads an events CSV with a header row. Required columns are
// time, sku_id, warehouse_id, event_type and quantity; id is optional.
// source names the feed and seeds the derived IDs.
func ParseEvents(r io.Reader, source string) ([]*domain.InventoryEvent, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	colMap, err := readHeader(reader, eventColumns)
	if err != nil {
		return nil, err
	}

	var events []*domain.InventoryEvent
	seen := make(map[string]int)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if blankRecord(record) {
			continue
		}

		event, err := parseEventRow(record, colMap)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrValidation, line, err)
		}
		if event.ID == "" {
			content := eventContent(event)
			event.ID = rowID(source, content, seen[content])
			seen[content]++
		}
		events = append(events, event)
	}

	return events, nil
}

func parseEventRow(record []string, colMap map[string]int) (*domain.InventoryEvent, error) {
	get := valueGetter(record, colMap)

	at, err := parseTime(get("time"))
	if err != nil {
		return nil, err
	}
	eventType, ok := domain.ParseEventType(get("event_type"))
	if !ok {
		return nil, fmt.Errorf("unrecognized event_type %q", get("event_type"))
	}
	qty, err := decimal.NewFromString(get("quantity"))
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %q", get("quantity"))
	}

	return &domain.InventoryEvent{
		ID:          get("id"),
		Time:        at,
		SKUID:       get("sku_id"),
		WarehouseID: get("warehouse_id"),
		Type:        eventType,
		Quantity:    qty,
	}, nil
}

// eventContent is the normalized form of a row, independent of column
// order, spacing and number formatting.
func eventContent(e *domain.InventoryEvent) string {
	return strings.Join([]string{
		e.Time.UTC().Format(time.RFC3339Nano),
		e.SKUID,
		e.WarehouseID,
		string(e.Type),
		e.Quantity.String(),
	}, "\x00")
}

func rowID(source, content string, occurrence int) string {
	name := source + "\x00" + content + "\x00" + strconv.Itoa(occurrence)
	return uuid.NewSHA1(feedNamespace, []byte(name)).String()
}

func readHeader(reader *csv.Reader, required []string) (map[string]int, error) {
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	colMap := make(map[string]int, len(header))
	for i, col := range header {
		colMap[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))] = i
	}
	for _, col := range required {
		if _, ok := colMap[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column: %s", domain.ErrValidation, col)
		}
	}
	return colMap, nil
}

func valueGetter(record []string, colMap map[string]int) func(string) string {
	return func(colName string) string {
		if idx, ok := colMap[colName]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", v)
}
