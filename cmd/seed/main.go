package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/supplybalance/internal/repository/postgres"
	"github.com/andresuchdata/supplybalance/pkg/logger"
)

type dbKey struct{}

func newDBURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "db-url",
		Usage:   "Database connection string (postgres://...)",
		EnvVars: []string{"DATABASE_URL"},
	}
}

func newLedgerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "ledger",
			Usage:   "Ledger backend: postgres, bolt or badger",
			Value:   "postgres",
			EnvVars: []string{"LEDGER_BACKEND"},
		},
		&cli.StringFlag{
			Name:    "ledger-path",
			Usage:   "File or directory of an embedded ledger",
			Value:   "./data/ledger",
			EnvVars: []string{"LEDGER_PATH"},
		},
	}
}

// initDB opens the database when a URL is given. Commands that need it call
// dbFrom, which fails when it was not opened.
func initDB(c *cli.Context) error {
	url := c.String("db-url")
	if url == "" {
		return nil
	}

	connCfg, err := pgx.ParseConfig(url)
	if err != nil {
		return fmt.Errorf("invalid database url: %w", err)
	}
	sqlDB := stdlib.OpenDB(*connCfg)
	if err := sqlDB.PingContext(c.Context); err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	db := postgres.Wrap(sqlx.NewDb(sqlDB, "pgx"), int64(c.Int("db-max-ops")))
	c.Context = context.WithValue(c.Context, dbKey{}, db)
	return nil
}

func closeDB(c *cli.Context) error {
	if db, ok := c.Context.Value(dbKey{}).(*postgres.DB); ok && db != nil {
		return db.Close()
	}
	return nil
}

func dbFrom(c *cli.Context) (*postgres.DB, error) {
	db, ok := c.Context.Value(dbKey{}).(*postgres.DB)
	if !ok || db == nil {
		return nil, fmt.Errorf("--db-url (or DATABASE_URL) is required for this command")
	}
	return db, nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("warning: could not load .env file: %v", err)
	}
	logger.Configure(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	app := &cli.App{
		Name:  "seed",
		Usage: "Load feeds into the ledger and forecast store, run offline aggregations",
		Flags: []cli.Flag{
			newDBURLFlag(),
			&cli.IntFlag{
				Name:  "db-max-ops",
				Usage: "Maximum concurrent database transactions",
				Value: 10,
			},
		},
		Before: initDB,
		After:  closeDB,
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Apply the database schema",
				Action: func(c *cli.Context) error {
					db, err := dbFrom(c)
					if err != nil {
						return err
					}
					return db.Migrate(c.Context)
				},
			},
			{
				Name:      "events",
				Usage:     "Import inventory events from CSV or XLSX feed files",
				ArgsUsage: "[file ...]",
				Flags: append(newLedgerFlags(),
					&cli.StringFlag{
						Name:    "dir",
						Usage:   "Directory walked for .csv and .xlsx feed files",
						EnvVars: []string{"EVENTS_DIR"},
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Events appended per batch",
						Value: 500,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Files parsed concurrently",
						Value: 4,
					},
				),
				Action: importEvents,
			},
			{
				Name:      "forecasts",
				Usage:     "Import forecast runs from CSV files",
				ArgsUsage: "[file ...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "dir",
						Usage:   "Directory walked for .csv forecast files",
						EnvVars: []string{"FORECASTS_DIR"},
					},
				},
				Action: importForecasts,
			},
			{
				Name:  "aggregate",
				Usage: "Run one aggregation over the ledger and print the status summary",
				Flags: append(newLedgerFlags(),
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Keys computed concurrently",
						Value: 4,
					},
					&cli.DurationFlag{
						Name:  "max-run",
						Usage: "Abandon the run after this long",
						Value: defaultMaxRun,
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "DOH alert threshold",
						Value: 30,
					},
					&cli.BoolFlag{
						Name:  "persist",
						Usage: "Save the snapshot and run record to Postgres",
					},
				),
				Action: runAggregate,
			},
			{
				Name:  "snapshots",
				Usage: "Manage archived snapshots in object storage",
				Subcommands: []*cli.Command{
					{
						Name:   "restore",
						Usage:  "Copy the newest archived snapshot into Postgres",
						Flags:  storageFlags(),
						Action: restoreArchivedSnapshot,
					},
					{
						Name:   "list",
						Usage:  "List archived snapshot objects",
						Flags:  storageFlags(),
						Action: listArchivedSnapshots,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
