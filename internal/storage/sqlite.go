// Package storage persists deals and the notification-dedup log. Two
// backends are provided: a file-backed SQLite store for standalone
// deployments and a Firestore store for Cloud Run. Both expose the
// same operations and treat a missing deal as (nil, nil).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"buyinggroup-monitor/internal/models"
)

// migrations are applied in order. The schema_version table records the
// last applied index so restarts skip completed steps.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS deals (
		deal_id          TEXT PRIMARY KEY,
		title            TEXT NOT NULL,
		store            TEXT NOT NULL,
		price            TEXT NOT NULL DEFAULT '0',
		max_quantity     INTEGER NOT NULL DEFAULT 0,
		current_quantity INTEGER NOT NULL DEFAULT 0,
		your_commitment  INTEGER NOT NULL DEFAULT 0,
		link             TEXT NOT NULL DEFAULT '',
		delivery_date    TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMP NOT NULL,
		updated_at       TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		event_key TEXT NOT NULL,
		kind      TEXT NOT NULL,
		sent_at   TIMESTAMP NOT NULL,
		PRIMARY KEY (event_key, kind)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_current_quantity ON deals (current_quantity)`,
}

const upsertDealSQL = `
	INSERT INTO deals (deal_id, title, store, price, max_quantity, current_quantity,
	                   your_commitment, link, delivery_date, created_at, updated_at)
	VALUES (:deal_id, :title, :store, :price, :max_quantity, :current_quantity,
	        :your_commitment, :link, :delivery_date, :created_at, :updated_at)
	ON CONFLICT (deal_id) DO UPDATE SET
		title            = excluded.title,
		store            = excluded.store,
		price            = excluded.price,
		max_quantity     = excluded.max_quantity,
		current_quantity = excluded.current_quantity,
		your_commitment  = excluded.your_commitment,
		link             = excluded.link,
		delivery_date    = excluded.delivery_date,
		updated_at       = excluded.updated_at`

// SQLiteStore keeps state in a single SQLite database file.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (and creates if necessary) the database at path
// and brings the schema up to date. WAL mode keeps the status endpoint
// readable while a tick is writing.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	var version int
	err := s.db.GetContext(ctx, &version, `SELECT version FROM schema_version`)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("failed to seed schema_version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
		slog.Debug("Applied schema migration", "version", i+1)
	}
	return nil
}

// GetDeal returns the stored deal or (nil, nil) when the id is unknown.
func (s *SQLiteStore) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	var deal models.Deal
	err := s.db.GetContext(ctx, &deal, `SELECT * FROM deals WHERE deal_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deal %s: %w", id, err)
	}
	return &deal, nil
}

// UpsertDeal writes the deal and reports whether a new row was created.
// Timestamps are managed here: created_at is set once, updated_at on
// every write.
func (s *SQLiteStore) UpsertDeal(ctx context.Context, deal *models.Deal) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM deals WHERE deal_id = ?)`, deal.ID); err != nil {
		return false, fmt.Errorf("failed to check deal %s: %w", deal.ID, err)
	}

	now := time.Now().UTC()
	deal.UpdatedAt = now
	if !exists {
		deal.CreatedAt = now
	}

	if _, err := tx.NamedExecContext(ctx, upsertDealSQL, deal); err != nil {
		return false, fmt.Errorf("failed to upsert deal %s: %w", deal.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return !exists, nil
}

// ListDeals returns every stored deal, newest first.
func (s *SQLiteStore) ListDeals(ctx context.Context) ([]models.Deal, error) {
	var deals []models.Deal
	if err := s.db.SelectContext(ctx, &deals,
		`SELECT * FROM deals ORDER BY updated_at DESC`); err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	return deals, nil
}

// ListActiveDeals returns deals with committed purchasers.
func (s *SQLiteStore) ListActiveDeals(ctx context.Context) ([]models.Deal, error) {
	var deals []models.Deal
	if err := s.db.SelectContext(ctx, &deals,
		`SELECT * FROM deals WHERE current_quantity > 0 ORDER BY updated_at DESC`); err != nil {
		return nil, fmt.Errorf("failed to list active deals: %w", err)
	}
	return deals, nil
}

// Stats aggregates the persisted deal set for the status endpoint.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	stats := &models.StoreStats{}

	err := s.db.GetContext(ctx, &stats.TotalDeals, `SELECT COUNT(*) FROM deals`)
	if err != nil {
		return nil, fmt.Errorf("failed to count deals: %w", err)
	}
	err = s.db.GetContext(ctx, &stats.ActiveDeals,
		`SELECT COUNT(*) FROM deals WHERE current_quantity > 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to count active deals: %w", err)
	}
	err = s.db.GetContext(ctx, &stats.RecentDeals,
		`SELECT COUNT(*) FROM deals WHERE created_at >= ?`, time.Now().UTC().Add(-7*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent deals: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT price, your_commitment FROM deals WHERE your_commitment > 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to read commitments: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var row struct {
			Price          decimal.Decimal `db:"price"`
			YourCommitment int             `db:"your_commitment"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("failed to scan commitment row: %w", err)
		}
		total = total.Add(row.Price.Mul(decimal.NewFromInt(int64(row.YourCommitment))))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate commitments: %w", err)
	}
	stats.CommittedValue = total
	return stats, nil
}

// NotificationSeen reports whether a notification with this key and
// kind has already been sent.
func (s *SQLiteStore) NotificationSeen(ctx context.Context, key string, kind models.NotificationKind) (bool, error) {
	var seen bool
	err := s.db.GetContext(ctx, &seen,
		`SELECT EXISTS (SELECT 1 FROM notifications WHERE event_key = ? AND kind = ?)`, key, kind)
	if err != nil {
		return false, fmt.Errorf("failed to check notification %s/%s: %w", kind, key, err)
	}
	return seen, nil
}

// MarkNotificationSent records a delivered notification. Marking the
// same (key, kind) twice is a no-op.
func (s *SQLiteStore) MarkNotificationSent(ctx context.Context, key string, kind models.NotificationKind) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (event_key, kind, sent_at) VALUES (?, ?, ?)
		 ON CONFLICT (event_key, kind) DO NOTHING`,
		key, kind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record notification %s/%s: %w", kind, key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
