// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package channel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/beacon/internal/log"
	"github.com/tombee/beacon/internal/pipeline"
	"github.com/tombee/beacon/pkg/telemetry"
)

// SQLiteChannelName labels the SQLite channel in logs and metrics.
const SQLiteChannelName = "sqlite"

// SQLiteConfig configures a SQLiteChannel.
type SQLiteConfig struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// Capacity bounds the in-memory staging buffer in front of the database.
	Capacity int

	// MaxBatch is the number of stored records transmitted per attempt.
	MaxBatch int

	// FlushInterval is the period of the background persist and transmit.
	FlushInterval time.Duration

	// MaxStored bounds the number of records kept on disk. The oldest
	// records are discarded first. Zero means unbounded.
	MaxStored int

	Transmitter Transmitter
	Counter     DropCounter
	Logger      *slog.Logger
}

// SQLiteChannel stages records in memory and persists them to SQLite
// before transmission, so records survive restarts and backend outages.
// Send never touches the database.
type SQLiteChannel struct {
	cfg         SQLiteConfig
	db          *sql.DB
	logger      *slog.Logger
	warn        *log.Limited
	staged      *buffer
	loop        *loop
	transmitter Transmitter

	developerMode atomic.Bool
	flushMu       sync.Mutex
	closeOnce     sync.Once
	closeErr      error
}

// NewSQLiteChannel opens the database and creates the schema.
func NewSQLiteChannel(cfg SQLiteConfig) (*SQLiteChannel, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	def := DefaultMemoryConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.Transmitter == nil {
		cfg.Transmitter = NewHTTPTransmitter("", nil)
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// writer lock contention.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger := log.WithComponent(log.OrDefault(cfg.Logger), "channel").With("channel", SQLiteChannelName)
	warn := log.NewLimited(logger, time.Minute, 1)
	c := &SQLiteChannel{
		cfg:         cfg,
		db:          db,
		logger:      logger,
		warn:        warn,
		staged:      newBuffer(SQLiteChannelName, cfg.Capacity, cfg.Counter, warn),
		transmitter: cfg.Transmitter,
	}
	c.loop = newLoop(cfg.FlushInterval, c.backgroundFlush)

	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return c, nil
}

func (c *SQLiteChannel) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			operation_id TEXT,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at)`,
	}
	for _, m := range migrations {
		if _, err := c.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Initialize starts the background loop.
func (c *SQLiteChannel) Initialize(*pipeline.Configuration) error {
	c.loop.start()
	return nil
}

// Send implements telemetry.Channel.
func (c *SQLiteChannel) Send(item telemetry.Item) {
	n, ok := c.staged.push(Encode(item))
	if !ok {
		return
	}
	if c.developerMode.Load() || n >= c.cfg.MaxBatch {
		c.loop.trigger()
	}
}

// persist moves staged records into the database.
func (c *SQLiteChannel) persist(ctx context.Context) error {
	recs := c.staged.take(0)
	if len(recs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.staged.requeue(recs)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO items (kind, operation_id, payload, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		c.staged.requeue(recs)
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for i := range recs {
		payload, err := json.Marshal(&recs[i])
		if err != nil {
			c.logger.Warn("dropping unencodable record", log.Error(err))
			continue
		}
		if _, err := stmt.ExecContext(ctx, string(recs[i].Kind), recs[i].OperationID, string(payload), now); err != nil {
			c.staged.requeue(recs)
			return fmt.Errorf("failed to store record: %w", err)
		}
	}

	if c.cfg.MaxStored > 0 {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM items WHERE id NOT IN (SELECT id FROM items ORDER BY id DESC LIMIT ?)",
			c.cfg.MaxStored); err != nil {
			c.staged.requeue(recs)
			return fmt.Errorf("failed to trim stored records: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		c.staged.requeue(recs)
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

// nextBatch loads the oldest stored batch.
func (c *SQLiteChannel) nextBatch(ctx context.Context) ([]int64, []Record, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, payload FROM items ORDER BY id LIMIT ?", c.cfg.MaxBatch)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var (
		ids  []int64
		recs []Record
	)
	for rows.Next() {
		var (
			id      int64
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, nil, fmt.Errorf("failed to scan record: %w", err)
		}
		ids = append(ids, id)
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// Kept in ids so the corrupt row is deleted with the batch.
			c.logger.Warn("discarding corrupt stored record", "id", id, log.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	return ids, recs, rows.Err()
}

func (c *SQLiteChannel) deleteIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := c.db.ExecContext(ctx, "DELETE FROM items WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to delete transmitted records: %w", err)
	}
	return nil
}

// Flush implements telemetry.Channel. Stored records are deleted only
// after their batch was transmitted.
func (c *SQLiteChannel) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	if err := c.persist(ctx); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, recs, err := c.nextBatch(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if len(recs) > 0 {
			if err := c.transmitter.Transmit(ctx, recs); err != nil {
				return err
			}
		}
		if err := c.deleteIDs(ctx, ids); err != nil {
			return err
		}
		c.logger.Debug("transmitted stored batch", "records", len(recs))
	}
}

// Stored returns the number of records waiting in the database.
func (c *SQLiteChannel) Stored(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (c *SQLiteChannel) backgroundFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FlushInterval+30*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		c.warn.Warn("ChannelTransmitFailure", "failed to transmit stored telemetry", log.Error(err))
	}
}

// SetDeveloperMode implements telemetry.Channel.
func (c *SQLiteChannel) SetDeveloperMode(enabled bool) {
	c.developerMode.Store(enabled)
}

// SetEndpointAddress implements telemetry.Channel.
func (c *SQLiteChannel) SetEndpointAddress(address string) {
	if es, ok := c.transmitter.(endpointSetter); ok {
		es.SetEndpoint(address)
	}
}

// Close stops the loop, persists staged records, attempts a final
// transmission and closes the database. Records that could not be
// transmitted stay on disk.
func (c *SQLiteChannel) Close() error {
	c.closeOnce.Do(func() {
		c.loop.halt()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := c.Flush(ctx)
		if err != nil {
			// Keep what we have on disk even if the backend is down.
			err = errors.Join(err, c.persist(ctx))
		}
		if closer, ok := c.transmitter.(io.Closer); ok {
			err = errors.Join(err, closer.Close())
		}
		c.closeErr = errors.Join(err, c.db.Close())
	})
	return c.closeErr
}

var (
	_ telemetry.Channel = (*SQLiteChannel)(nil)
	_ pipeline.Module   = (*SQLiteChannel)(nil)
)
