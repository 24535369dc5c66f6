package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/andresuchdata/supplybalance/internal/domain"
)

var forecastColumns = []string{
	"sku_id", "model_trained_at", "forecast_date",
	"yhat", "yhat_lower", "yhat_upper", "mape", "interval_width",
}

type runKey struct {
	sku     string
	trained time.Time
}

// ParseForecasts reads a forecast CSV with one point per row and groups the
// points into runs. Runs come back ordered by sku, then model_trained_at, so
// appending them in order respects the per-SKU ordering rule.
func ParseForecasts(r io.Reader) ([]*domain.ForecastRun, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	colMap, err := readHeader(reader, forecastColumns)
	if err != nil {
		return nil, err
	}

	runs := make(map[runKey]*domain.ForecastRun)
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

		key, point, err := parseForecastRow(record, colMap)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrValidation, line, err)
		}
		run, ok := runs[key]
		if !ok {
			run = &domain.ForecastRun{SKUID: key.sku, ModelTrainedAt: key.trained}
			runs[key] = run
		}
		run.Points = append(run.Points, point)
	}

	out := make([]*domain.ForecastRun, 0, len(runs))
	for _, run := range runs {
		sort.SliceStable(run.Points, func(i, j int) bool {
			return run.Points[i].ForecastDate.Before(run.Points[j].ForecastDate)
		})
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SKUID != out[j].SKUID {
			return out[i].SKUID < out[j].SKUID
		}
		return out[i].ModelTrainedAt.Before(out[j].ModelTrainedAt)
	})
	return out, nil
}

func parseForecastRow(record []string, colMap map[string]int) (runKey, domain.ForecastPoint, error) {
	get := valueGetter(record, colMap)

	trained, err := parseTime(get("model_trained_at"))
	if err != nil {
		return runKey{}, domain.ForecastPoint{}, err
	}
	date, err := parseTime(get("forecast_date"))
	if err != nil {
		return runKey{}, domain.ForecastPoint{}, err
	}

	point := domain.ForecastPoint{ForecastDate: date}
	fields := []struct {
		col string
		dst *float64
	}{
		{"yhat", &point.YHat},
		{"yhat_lower", &point.YHatLower},
		{"yhat_upper", &point.YHatUpper},
		{"mape", &point.MAPE},
		{"interval_width", &point.IntervalWidth},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(get(f.col), 64)
		if err != nil {
			return runKey{}, domain.ForecastPoint{}, fmt.Errorf("invalid %s %q", f.col, get(f.col))
		}
		*f.dst = v
	}

	return runKey{sku: get("sku_id"), trained: trained}, point, nil
}
