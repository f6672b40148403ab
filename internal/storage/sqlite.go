package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/internal/core/service"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS canvases (
	id     TEXT PRIMARY KEY,
	record BLOB NOT NULL
) WITHOUT ROWID`

// SQLiteCanvasRepository stores canvases in a SQLite database. Each row
// holds the same record encoding the KV repository uses.
type SQLiteCanvasRepository struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

var _ service.CanvasRepository = (*SQLiteCanvasRepository)(nil)

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string, sealer *Sealer, logger *slog.Logger) (*SQLiteCanvasRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	logger.Info("sqlite canvas store opened", "path", path)
	return &SQLiteCanvasRepository{db: db, sealer: sealer, logger: logger}, nil
}

// Get retrieves a canvas by id.
func (r *SQLiteCanvasRepository) Get(ctx context.Context, id string) (*domain.Canvas, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT record FROM canvases WHERE id = ?`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCanvasNotFound
		}
		return nil, fmt.Errorf("get canvas %s: %w", id, err)
	}
	return decodeRecord(id, data, r.sealer)
}

// Create stores a new canvas. Returns ErrCanvasConflict if the id is taken.
func (r *SQLiteCanvasRepository) Create(ctx context.Context, c *domain.Canvas) error {
	record, err := encodeRecord(c, r.sealer)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO canvases (id, record) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`, c.ID, record)
	if err != nil {
		return fmt.Errorf("create canvas %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCanvasConflict
	}
	return nil
}

// Update replaces a canvas if its stored version equals expectedVersion.
func (r *SQLiteCanvasRepository) Update(ctx context.Context, c *domain.Canvas, expectedVersion uint64) error {
	record, err := encodeRecord(c, r.sealer)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update canvas %s: begin: %w", c.ID, err)
	}
	defer tx.Rollback()

	var old []byte
	if err := tx.QueryRowContext(ctx, `SELECT record FROM canvases WHERE id = ?`, c.ID).Scan(&old); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrCanvasNotFound
		}
		return fmt.Errorf("update canvas %s: %w", c.ID, err)
	}
	version, err := recordVersion(old)
	if err != nil {
		return err
	}
	if version != expectedVersion {
		return domain.ErrCanvasConflict.WithDetails(
			fmt.Sprintf("stored version %d, expected %d", version, expectedVersion))
	}

	if _, err := tx.ExecContext(ctx, `UPDATE canvases SET record = ? WHERE id = ?`, record, c.ID); err != nil {
		return fmt.Errorf("update canvas %s: %w", c.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update canvas %s: commit: %w", c.ID, err)
	}
	return nil
}

// Delete removes a canvas.
func (r *SQLiteCanvasRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM canvases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete canvas %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCanvasNotFound
	}
	return nil
}

// List returns the page of canvases whose id starts with f.Prefix, in id
// order, and the total number of matches.
func (r *SQLiteCanvasRepository) List(ctx context.Context, f *service.CanvasFilter) ([]*domain.Canvas, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM canvases WHERE substr(id, 1, length(?1)) = ?1`, f.Prefix).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count canvases: %w", err)
	}

	start, end := f.Window(total)
	if start == end {
		return []*domain.Canvas{}, total, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, record FROM canvases WHERE substr(id, 1, length(?1)) = ?1 ORDER BY id LIMIT ?2 OFFSET ?3`,
		f.Prefix, end-start, start)
	if err != nil {
		return nil, 0, fmt.Errorf("list canvases: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Canvas, 0, end-start)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, 0, fmt.Errorf("list canvases: %w", err)
		}
		c, err := decodeRecord(id, data, r.sealer)
		if err != nil {
			return nil, 0, fmt.Errorf("decode canvas %s: %w", id, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list canvases: %w", err)
	}
	return out, total, nil
}

// Close closes the database.
func (r *SQLiteCanvasRepository) Close() error {
	return r.db.Close()
}
