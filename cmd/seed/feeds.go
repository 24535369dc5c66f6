package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/supplybalance/internal/domain"
	"github.com/andresuchdata/supplybalance/internal/feed"
	"github.com/andresuchdata/supplybalance/internal/ledger"
	"github.com/andresuchdata/supplybalance/internal/repository/postgres"
)

// openLedger returns the ledger selected by --ledger.
func openLedger(c *cli.Context) (ledger.Ledger, error) {
	backend := ledger.BackendType(c.String("ledger"))
	switch backend {
	case ledger.BackendPostgres:
		db, err := dbFrom(c)
		if err != nil {
			return nil, err
		}
		return postgres.NewEventRepository(db), nil
	case ledger.BackendMemory:
		return nil, fmt.Errorf("the memory ledger does not outlive the command, use postgres, bolt or badger")
	default:
		return ledger.Open(backend, c.String("ledger-path"))
	}
}

func collectFeedFiles(c *cli.Context, exts ...string) ([]string, error) {
	files := append([]string(nil), c.Args().Slice()...)
	if root := c.String("dir"); root != "" {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			for _, want := range exts {
				if ext == want {
					files = append(files, path)
					break
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("error walking %s: %w", root, err)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no feed files given (pass files or --dir)")
	}
	sort.Strings(files)
	return files, nil
}

// readEventsFile parses one CSV or XLSX file. IDs derive from the file name,
// so importing the same file twice records nothing new.
func readEventsFile(path string) ([]*domain.InventoryEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		var buf bytes.Buffer
		if err := feed.XLSXToCSV(f, &buf); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		r = &buf
	}

	events, err := feed.ParseEvents(r, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}

func importEvents(c *cli.Context) error {
	files, err := collectFeedFiles(c, ".csv", ".xlsx")
	if err != nil {
		return err
	}

	l, err := openLedger(c)
	if err != nil {
		return err
	}
	defer l.Close()

	parsed := make([][]*domain.InventoryEvent, len(files))
	var g errgroup.Group
	g.SetLimit(max(c.Int("workers"), 1))
	for i, path := range files {
		g.Go(func() error {
			events, err := readEventsFile(path)
			if err != nil {
				return err
			}
			parsed[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := 0
	for _, events := range parsed {
		total += len(events)
	}
	log.Printf("Importing %d events from %d file(s)...", total, len(files))

	bar := progressbar.Default(int64(total), "events")
	var sum feed.Result
	for i, events := range parsed {
		res, err := feed.LoadEvents(c.Context, l, events, c.Int("batch-size"), func(n int) { _ = bar.Add(n) })
		if err != nil {
			return fmt.Errorf("error loading %s: %w", files[i], err)
		}
		sum.Appended += res.Appended
		sum.Duplicates += res.Duplicates
	}
	_ = bar.Finish()

	log.Printf("Events imported: %d appended, %d already recorded", sum.Appended, sum.Duplicates)
	return nil
}

func importForecasts(c *cli.Context) error {
	files, err := collectFeedFiles(c, ".csv")
	if err != nil {
		return err
	}
	db, err := dbFrom(c)
	if err != nil {
		return err
	}
	store := postgres.NewForecastRepository(db)

	var sum feed.Result
	for _, path := range files {
		res, err := importForecastFile(c.Context, store, path)
		if err != nil {
			return err
		}
		sum.Appended += res.Appended
		sum.Rejected += res.Rejected
	}

	log.Printf("Forecast runs imported: %d appended, %d not newer than the current run", sum.Appended, sum.Rejected)
	return nil
}

func importForecastFile(ctx context.Context, store *postgres.ForecastRepository, path string) (feed.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return feed.Result{}, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	runs, err := feed.ParseForecasts(f)
	if err != nil {
		return feed.Result{}, fmt.Errorf("%s: %w", path, err)
	}

	bar := progressbar.Default(int64(len(runs)), filepath.Base(path))
	res, err := feed.LoadForecasts(ctx, store, runs, func(n int) { _ = bar.Add(n) })
	_ = bar.Finish()
	if err != nil {
		return res, fmt.Errorf("error loading %s: %w", path, err)
	}
	return res, nil
}
