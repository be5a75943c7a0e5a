package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// CatalogConfig selects the database that indexes capture events.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"` // sqlite or postgres
	DSN     string `yaml:"dsn"`
}

func (c CatalogConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("catalog driver must be sqlite or postgres, got %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("catalog dsn cannot be empty")
	}
	return nil
}

// EventRecord is one completed capture event as stored in the catalog.
type EventRecord struct {
	ID             string    `db:"id"`
	StartedAt      time.Time `db:"-"`
	EndedAt        time.Time `db:"-"`
	FrameCount     int       `db:"frame_count"`
	ClipPath       string    `db:"clip_path"`
	Verified       bool      `db:"verified"`
	VerifiedFrames int       `db:"verified_frames"`
	ArchiveKey     string    `db:"archive_key"`
}

type eventRow struct {
	EventRecord
	StartedMs int64 `db:"started_at"`
	EndedMs   int64 `db:"ended_at"`
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS capture_events (
	id              TEXT PRIMARY KEY,
	started_at      BIGINT NOT NULL,
	ended_at        BIGINT NOT NULL,
	frame_count     INTEGER NOT NULL,
	clip_path       TEXT NOT NULL,
	verified        BOOLEAN NOT NULL,
	verified_frames INTEGER NOT NULL,
	archive_key     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_capture_events_started_at ON capture_events(started_at);
`

// Catalog indexes capture events in SQLite or PostgreSQL. Timestamps are
// stored as Unix milliseconds so the schema is the same on both.
type Catalog struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// OpenCatalog connects and creates the schema if it does not exist.
func OpenCatalog(ctx context.Context, config CatalogConfig, logger *zap.Logger) (*Catalog, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.L().Named("catalog")
	}

	db, err := sqlx.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, &StorageError{Op: "open_catalog", Err: err}
	}
	if config.Driver == "sqlite" {
		// One writer; in-memory databases are per connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "ping_catalog", Err: err}
	}
	for _, stmt := range splitStatements(catalogSchema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, &StorageError{Op: "init_catalog", Err: fmt.Errorf("failed to initialize schema: %w", err)}
		}
	}

	logger.Info("Catalog opened", zap.String("driver", config.Driver))
	return &Catalog{db: db, logger: logger}, nil
}

// Record inserts or replaces the row for ev.
func (c *Catalog) Record(ctx context.Context, ev EventRecord) error {
	row := eventRow{
		EventRecord: ev,
		StartedMs:   ev.StartedAt.UnixMilli(),
		EndedMs:     ev.EndedAt.UnixMilli(),
	}
	query := `
		INSERT INTO capture_events
			(id, started_at, ended_at, frame_count, clip_path, verified, verified_frames, archive_key)
		VALUES
			(:id, :started_at, :ended_at, :frame_count, :clip_path, :verified, :verified_frames, :archive_key)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = excluded.ended_at,
			frame_count = excluded.frame_count,
			clip_path = excluded.clip_path,
			verified = excluded.verified,
			verified_frames = excluded.verified_frames,
			archive_key = excluded.archive_key`

	if _, err := c.db.NamedExecContext(ctx, query, row); err != nil {
		return &StorageError{Op: "record_event", Path: ev.ID, Err: err}
	}
	c.logger.Debug("Event recorded", zap.String("id", ev.ID), zap.Bool("verified", ev.Verified))
	return nil
}

// SetArchiveKey attaches the object key a clip was archived under.
func (c *Catalog) SetArchiveKey(ctx context.Context, id, key string) error {
	query := c.db.Rebind(`UPDATE capture_events SET archive_key = ? WHERE id = ?`)
	if _, err := c.db.ExecContext(ctx, query, key, id); err != nil {
		return &StorageError{Op: "set_archive_key", Path: id, Err: err}
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := c.db.Rebind(`
		SELECT id, started_at, ended_at, frame_count, clip_path, verified, verified_frames, archive_key
		FROM capture_events
		ORDER BY started_at DESC
		LIMIT ?`)

	var rows []eventRow
	if err := c.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, &StorageError{Op: "query_events", Err: err}
	}

	out := make([]EventRecord, len(rows))
	for i, r := range rows {
		out[i] = r.EventRecord
		out[i].StartedAt = time.UnixMilli(r.StartedMs)
		out[i].EndedAt = time.UnixMilli(r.EndedMs)
	}
	return out, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) != "" {
			out = append(out, stmt)
		}
	}
	return out
}
