package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ForecastPoint is one date in a forecast horizon.
type ForecastPoint struct {
	ForecastDate  time.Time `json:"forecast_date" db:"forecast_date"`
	YHat          float64   `json:"yhat" db:"yhat"`
	YHatLower     float64   `json:"yhat_lower" db:"yhat_lower"`
	YHatUpper     float64   `json:"yhat_upper" db:"yhat_upper"`
	MAPE          float64   `json:"mape" db:"mape"`
	IntervalWidth float64   `json:"interval_width" db:"interval_width"`
}

// ForecastRun is one immutable output of the upstream forecasting process.
type ForecastRun struct {
	SKUID          string          `json:"sku_id" db:"sku_id"`
	ModelTrainedAt time.Time       `json:"model_trained_at" db:"model_trained_at"`
	Points         []ForecastPoint `json:"points"`
}

// ForecastRunSummary describes a stored run without its points.
type ForecastRunSummary struct {
	SKUID          string    `json:"sku_id" db:"sku_id"`
	ModelTrainedAt time.Time `json:"model_trained_at" db:"model_trained_at"`
	PointCount     int       `json:"point_count" db:"point_count"`
	HorizonStart   time.Time `json:"horizon_start" db:"horizon_start"`
	HorizonEnd     time.Time `json:"horizon_end" db:"horizon_end"`
	MeanMAPE       float64   `json:"mean_mape" db:"mean_mape"`
	Current        bool      `json:"current" db:"-"`
}

// Validate checks a run before it is appended to a forecast store.
func (r *ForecastRun) Validate() error {
	if err := validateIdentifier("sku_id", r.SKUID); err != nil {
		return err
	}
	if r.ModelTrainedAt.IsZero() {
		return fmt.Errorf("%w: model_trained_at is required", ErrValidation)
	}
	if len(r.Points) == 0 {
		return fmt.Errorf("%w: forecast run has no points", ErrValidation)
	}

	for i, p := range r.Points {
		if p.ForecastDate.IsZero() {
			return fmt.Errorf("%w: point %d has no forecast_date", ErrValidation, i)
		}
		if i > 0 && !p.ForecastDate.After(r.Points[i-1].ForecastDate) {
			return fmt.Errorf("%w: forecast dates must be strictly increasing (point %d)", ErrValidation, i)
		}
		for _, v := range []float64{p.YHat, p.YHatLower, p.YHatUpper, p.MAPE, p.IntervalWidth} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: point %d has a non-finite value", ErrValidation, i)
			}
		}
		if p.YHatLower > p.YHat || p.YHat > p.YHatUpper {
			return fmt.Errorf("%w: point %d must satisfy yhat_lower <= yhat <= yhat_upper", ErrValidation, i)
		}
		if p.MAPE < 0 {
			return fmt.Errorf("%w: point %d has a negative mape", ErrValidation, i)
		}
		if p.IntervalWidth <= 0 || p.IntervalWidth > 1 {
			return fmt.Errorf("%w: point %d interval_width must be in (0, 1]", ErrValidation, i)
		}
	}
	return nil
}

// Summary returns the run header.
func (r *ForecastRun) Summary() ForecastRunSummary {
	s := ForecastRunSummary{
		SKUID:          r.SKUID,
		ModelTrainedAt: r.ModelTrainedAt,
		PointCount:     len(r.Points),
	}
	if len(r.Points) == 0 {
		return s
	}

	s.HorizonStart = r.Points[0].ForecastDate
	s.HorizonEnd = r.Points[len(r.Points)-1].ForecastDate
	var total float64
	for _, p := range r.Points {
		total += p.MAPE
	}
	s.MeanMAPE = total / float64(len(r.Points))
	return s
}

// From returns a copy of the run restricted to points dated on or after the
// UTC calendar day of now.
func (r *ForecastRun) From(now time.Time) *ForecastRun {
	cutoff := StartOfDay(now)
	out := &ForecastRun{
		SKUID:          r.SKUID,
		ModelTrainedAt: r.ModelTrainedAt,
		Points:         make([]ForecastPoint, 0, len(r.Points)),
	}
	for _, p := range r.Points {
		if !p.ForecastDate.Before(cutoff) {
			out.Points = append(out.Points, p)
		}
	}
	return out
}

// NormalizeSKU is the form SKU IDs are stored and looked up in.
func NormalizeSKU(skuID string) string {
	return strings.TrimSpace(skuID)
}

// Normalize trims identifiers and moves timestamps to UTC.
func (r *ForecastRun) Normalize() {
	r.SKUID = NormalizeSKU(r.SKUID)
	r.ModelTrainedAt = r.ModelTrainedAt.UTC()
	for i := range r.Points {
		r.Points[i].ForecastDate = r.Points[i].ForecastDate.UTC()
	}
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
