// Package rundb logs acquisition runs to a ClickHouse database.
package rundb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/usnistgov/voltacq"
	"go.uber.org/zap"
)

const databaseName = "voltacq" // official SQL name of the database

const insertTimeout = 5 * time.Second

const createRunsTable = `CREATE TABLE IF NOT EXISTS acquisition_runs (
	id String,
	start DateTime64(6),
	end DateTime64(6),
	channels String,
	units String,
	sample_rate UInt32,
	batch_size UInt32,
	destination String,
	trigger Bool,
	samples Int64,
	error String
) ENGINE = ReplacingMergeTree(end) ORDER BY id`

const insertRun = `INSERT INTO acquisition_runs (id, start, end, channels, units, sample_rate, batch_size, destination, trigger, samples, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RunDB is a connection to the run database. Records are handed to a single goroutine that
// performs the inserts, in the order received. A run's finish row replaces its start row.
type RunDB struct {
	db      *sql.DB
	err     error
	runmsg  chan voltacq.RunRecord
	started atomic.Bool
	stopped chan struct{}
	logger  *zap.Logger
	sync.WaitGroup
}

// Options returns connection options from the environment: VOLTACQ_DB_ADDR (default
// localhost:9000), VOLTACQ_DB_USER and VOLTACQ_DB_PASSWORD.
func Options() *clickhouse.Options {
	addr := os.Getenv("VOLTACQ_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	return &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv("VOLTACQ_DB_USER"),
			Password: os.Getenv("VOLTACQ_DB_PASSWORD"),
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "voltacq", Version: voltacq.Build.Version},
			},
		},
	}
}

// Connect opens and pings the database and makes sure the runs table exists.
// On failure the returned RunDB is still usable but records nothing.
func Connect(ctx context.Context, opt *clickhouse.Options, logger *zap.Logger) *RunDB {
	r := New(clickhouse.OpenDB(opt), logger)
	if err := r.db.PingContext(ctx); err != nil {
		var exception *clickhouse.Exception
		if errors.As(err, &exception) {
			logger.Warn("ClickHouse exception", zap.Int32("code", exception.Code), zap.String("message", exception.Message))
		}
		r.err = err
		r.db.Close()
		return r
	}
	if err := r.EnsureSchema(ctx); err != nil {
		r.err = err
		r.db.Close()
	}
	return r
}

// New wraps an open database handle.
func New(db *sql.DB, logger *zap.Logger) *RunDB {
	return &RunDB{
		db:      db,
		runmsg:  make(chan voltacq.RunRecord),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// IsConnected says whether records will be stored.
func (r *RunDB) IsConnected() bool {
	return (r != nil) && (r.db != nil) && (r.err == nil)
}

// Err returns the connection error, if any.
func (r *RunDB) Err() error {
	return r.err
}

// EnsureSchema creates the runs table if it is missing.
func (r *RunDB) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, createRunsTable)
	return err
}

// Start launches the goroutine that stores records until abort is closed, then closes
// the database.
func (r *RunDB) Start(abort <-chan struct{}) {
	if !r.IsConnected() || r.started.Swap(true) {
		return
	}
	r.Add(1)
	go r.handleConnection(abort)
}

func (r *RunDB) handleConnection(abort <-chan struct{}) {
	defer r.Done()
	defer close(r.stopped)
	defer r.db.Close()
	for {
		select {
		case <-abort:
			return
		case rec := <-r.runmsg:
			if err := r.insert(rec); err != nil {
				r.logger.Warn("could not insert into acquisition_runs", zap.String("runID", rec.ID), zap.Error(err))
			}
		}
	}
}

// RecordStart stores the start of a run. It blocks until the record is accepted, so that a
// run's start row is always inserted before its finish row.
func (r *RunDB) RecordStart(rec voltacq.RunRecord) error {
	return r.send(rec)
}

// RecordFinish stores the end of a run.
func (r *RunDB) RecordFinish(rec voltacq.RunRecord) error {
	return r.send(rec)
}

func (r *RunDB) send(rec voltacq.RunRecord) error {
	if !r.IsConnected() {
		return fmt.Errorf("run database is not connected: %v", r.err)
	}
	if !r.started.Load() {
		return errors.New("run database is not started")
	}
	select {
	case r.runmsg <- rec:
		return nil
	case <-r.stopped:
		return errors.New("run database is closed")
	}
}

func (r *RunDB) insert(rec voltacq.RunRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	end := rec.End
	if end.IsZero() {
		end = rec.Start
	}
	_, err := r.db.ExecContext(ctx, insertRun,
		rec.ID, rec.Start, end,
		strings.Join(rec.Channels, ","), strings.Join(rec.Units, ","),
		rec.SampleRateHz, rec.BatchSize, rec.DestinationPath, rec.TriggerEnabled,
		rec.Samples, rec.Error,
	)
	return err
}
