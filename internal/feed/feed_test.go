package feed

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/forecast"
	"github.com/andresuchdata/supplybalance/internal/ledger"
)

const eventsCSV = `time,sku_id,warehouse_id,event_type,quantity
2026-09-01T08:00:00Z,SKU-1,WH-1,shipment,500
2026-09-20,SKU-1,WH-1,Depletion,120.5

2026-09-21 10:30:00,SKU-2,WH-1,shipment,40
`

func TestParseEvents(t *testing.T) {
	events, err := ParseEvents(strings.NewReader(eventsCSV), "events.csv")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC), events[0].Time)
	assert.Equal(t, domain.EventDepletion, events[1].Type)
	assert.Equal(t, "120.5", events[1].Quantity.String())
	assert.Equal(t, time.Date(2026, 9, 21, 10, 30, 0, 0, time.UTC), events[2].Time)

	again, err := ParseEvents(strings.NewReader(eventsCSV), "events.csv")
	require.NoError(t, err)
	for i := range events {
		assert.Equal(t, events[i].ID, again[i].ID, "ids are stable across reads")
	}
	other, err := ParseEvents(strings.NewReader(eventsCSV), "other.csv")
	require.NoError(t, err)
	assert.NotEqual(t, events[0].ID, other[0].ID)
}

func TestParseEventsIDsSurviveInsertedRows(t *testing.T) {
	before, err := ParseEvents(strings.NewReader(eventsCSV), "events.csv")
	require.NoError(t, err)

	revised := "quantity,event_type,sku_id,warehouse_id,time\n" +
		"9,shipment,SKU-9,WH-1,2026-08-30\n" +
		"500.0,shipment,SKU-1,WH-1,2026-09-01T08:00:00Z\n" +
		"120.5,depletion,SKU-1,WH-1,2026-09-20\n" +
		"40,shipment,SKU-2,WH-1,2026-09-21 10:30:00\n"
	after, err := ParseEvents(strings.NewReader(revised), "events.csv")
	require.NoError(t, err)
	require.Len(t, after, 4)

	for i := range before {
		assert.Equal(t, before[i].ID, after[i+1].ID, "row %d", i)
	}
}

func TestParseEventsIdenticalRowsGetDistinctIDs(t *testing.T) {
	csv := "time,sku_id,warehouse_id,event_type,quantity\n" +
		"2026-09-01,SKU-1,WH-1,shipment,10\n" +
		"2026-09-01,SKU-1,WH-1,shipment,10\n"
	events, err := ParseEvents(strings.NewReader(csv), "events.csv")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	extended, err := ParseEvents(strings.NewReader(csv+"2026-09-02,SKU-1,WH-1,shipment,10\n"), "events.csv")
	require.NoError(t, err)
	assert.Equal(t, events[0].ID, extended[0].ID)
	assert.Equal(t, events[1].ID, extended[1].ID)
}

func TestParseEventsKeepsExplicitID(t *testing.T) {
	events, err := ParseEvents(strings.NewReader("id,time,sku_id,warehouse_id,event_type,quantity\nevt-1,2026-09-01,S,W,shipment,1\n"), "x")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", events[0].ID)
}

func TestParseEventsErrors(t *testing.T) {
	cases := map[string]string{
		"missing column": "time,sku_id,event_type,quantity\n2026-09-01,S,shipment,1\n",
		"bad time":       "time,sku_id,warehouse_id,event_type,quantity\nyesterday,S,W,shipment,1\n",
		"bad type":       "time,sku_id,warehouse_id,event_type,quantity\n2026-09-01,S,W,transfer,1\n",
		"bad quantity":   "time,sku_id,warehouse_id,event_type,quantity\n2026-09-01,S,W,shipment,lots\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvents(strings.NewReader(body), "x")
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

const forecastsCSV = `sku_id,model_trained_at,forecast_date,yhat,yhat_lower,yhat_upper,mape,interval_width
SKU-1,2026-09-08,2026-09-22,11,9,13,0.1,0.8
SKU-1,2026-09-08,2026-09-15,10,8,12,0.1,0.8
SKU-1,2026-09-01,2026-09-08,9,7,11,0.2,0.8
SKU-0,2026-09-01,2026-09-08,3,2,4,0.3,0.9
`

func TestParseForecasts(t *testing.T) {
	runs, err := ParseForecasts(strings.NewReader(forecastsCSV))
	require.NoError(t, err)
	require.Len(t, runs, 3)

	assert.Equal(t, "SKU-0", runs[0].SKUID)
	assert.Equal(t, "SKU-1", runs[1].SKUID)
	assert.True(t, runs[1].ModelTrainedAt.Before(runs[2].ModelTrainedAt))

	latest := runs[2]
	require.Len(t, latest.Points, 2)
	assert.True(t, latest.Points[0].ForecastDate.Before(latest.Points[1].ForecastDate))
	require.NoError(t, latest.Validate())
}

func TestParseForecastsRejectsBadNumber(t *testing.T) {
	_, err := ParseForecasts(strings.NewReader(
		"sku_id,model_trained_at,forecast_date,yhat,yhat_lower,yhat_upper,mape,interval_width\nS,2026-09-01,2026-09-08,x,1,2,0.1,0.8\n"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoadEventsSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()

	events, err := ParseEvents(strings.NewReader(eventsCSV), "events.csv")
	require.NoError(t, err)
	var handled int
	res, err := LoadEvents(ctx, l, events, 2, func(n int) { handled += n })
	require.NoError(t, err)
	assert.Equal(t, Result{Appended: 3}, res)
	assert.Equal(t, 3, handled)

	// re-ingesting the same file appends nothing
	again, err := ParseEvents(strings.NewReader(eventsCSV), "events.csv")
	require.NoError(t, err)
	res, err = LoadEvents(ctx, l, again, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Duplicates: 3}, res)

	keys, err := l.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestLoadForecastsCountsOutOfOrder(t *testing.T) {
	ctx := context.Background()
	store := forecast.NewMemoryStore()

	runs, err := ParseForecasts(strings.NewReader(forecastsCSV))
	require.NoError(t, err)
	res, err := LoadForecasts(ctx, store, runs, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Appended: 3}, res)

	res, err = LoadForecasts(ctx, store, runs, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Rejected: 3}, res)
}

func TestXLSXToCSV(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	rows := [][]interface{}{
		{"time", "sku_id", "warehouse_id", "event_type", "quantity", "id"},
		{"2026-09-01", "SKU-1", "WH-1", "shipment", "25"},
		{},
		{"2026-09-02", "SKU-1", "WH-1", "depletion", "5", "evt-2"},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow(sheet, cell, &r))
	}
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, XLSXToCSV(buf, &out))

	events, err := ParseEvents(&out, "book.xlsx")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "25", events[0].Quantity.String())
	assert.Equal(t, "evt-2", events[1].ID)
}
