package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/pipeline"
	"github.com/andresuchdata/supplybalance/internal/repository/postgres"
	"github.com/andresuchdata/supplybalance/internal/service"
)

const (
	defaultMaxRun  = 10 * time.Minute
	snapshotRetain = 24
)

// runAggregate computes one snapshot outside the server and prints its state
// counts and alerts.
func runAggregate(c *cli.Context) error {
	l, err := openLedger(c)
	if err != nil {
		return err
	}
	defer l.Close()

	var opts []pipeline.Option
	if c.Bool("persist") {
		db, err := dbFrom(c)
		if err != nil {
			return err
		}
		opts = append(opts,
			pipeline.WithRecorder(pipeline.NewRepository(db.DB.DB)),
			pipeline.WithListeners(postgres.NewSnapshotRepository(db, snapshotRetain)),
		)
	}

	store := pipeline.NewSnapshotStore()
	aggregator := pipeline.NewAggregator(l, store, pipeline.Config{
		Interval:       time.Hour,
		MaxRunDuration: c.Duration("max-run"),
		WorkerCount:    c.Int("workers"),
	}, opts...)

	snap, err := aggregator.RunOnce(c.Context)
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	metrics := service.NewMetricsService(store, nil, nil, service.MetricsOptions{
		AlertThreshold: decimal.NewFromFloat(c.Float64("threshold")),
	})
	summary, err := metrics.Summary(c.Context, domain.MetricsFilter{})
	if err != nil {
		return err
	}
	alerts, err := metrics.ListAlerts(c.Context, nil, domain.WindowShort)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "calculated_at\t%s\n", snap.CalculatedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "keys\t%d\n\n", summary.Total)
	fmt.Fprintln(w, "DOH (30d)\tcount")
	for _, sc := range summary.DOH {
		fmt.Fprintf(w, "%s\t%d\n", sc.State, sc.Count)
	}
	fmt.Fprintln(w, "\nBALANCE (30d)\tcount")
	for _, sc := range summary.Balance {
		fmt.Fprintf(w, "%s\t%d\n", sc.State, sc.Count)
	}

	fmt.Fprintf(w, "\nALERTS (DOH < %s)\t\t\t\n", alerts.Threshold)
	fmt.Fprintln(w, "sku\twarehouse\tdoh_t30\tstate")
	for _, a := range alerts.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.SKUID, a.WarehouseID, a.DOHT30.Decimal.StringFixed(1), a.Status.DOH30)
	}
	return w.Flush()
}
