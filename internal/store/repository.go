// Package store persists batch history and key/value settings in sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heimdex/heimdex-studio/internal/analysis"
)

type Repository interface {
	CreateBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context, limit int) ([]*Batch, error)
	DeleteBatch(ctx context.Context, id string) (bool, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// timeLayout has a fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const batchColumns = `id, kind, status, video_count, failed_count, grand_total_tokens, grand_total_cost,
	elapsed_ms, request_json, response_json, error, created_at`

func (r *SQLiteRepository) CreateBatch(ctx context.Context, b *Batch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Kind, b.Status, b.VideoCount, b.FailedCount, b.GrandTotalTokens, b.GrandTotalCost,
		b.ElapsedMs, rawOrEmpty(b.Request), rawOrEmpty(b.Response), nullString(b.Error),
		b.CreatedAt.UTC().Format(timeLayout))
	return err
}

func (r *SQLiteRepository) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (r *SQLiteRepository) ListBatches(ctx context.Context, limit int) ([]*Batch, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []*Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b.Summary())
	}
	return batches, rows.Err()
}

// DeleteBatch reports whether a row was removed.
func (r *SQLiteRepository) DeleteBatch(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM batches WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// RecordBatch stores a finished run handed over by the analysis service.
func (r *SQLiteRepository) RecordBatch(ctx context.Context, rec analysis.BatchRecord) error {
	request, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	response, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	b := &Batch{
		ID:               rec.ID,
		Kind:             rec.Kind,
		Status:           rec.Status,
		VideoCount:       rec.VideoCount,
		FailedCount:      rec.FailedCount,
		GrandTotalTokens: rec.GrandTotal.TotalTokens,
		GrandTotalCost:   rec.GrandTotal.EstimatedCost,
		ElapsedMs:        rec.ElapsedMs,
		Request:          request,
		Response:         response,
		CreatedAt:        rec.CreatedAt,
	}
	if rec.FailedCount > 0 {
		b.Error = fmt.Sprintf("%d of %d videos failed", rec.FailedCount, rec.VideoCount)
	}
	return r.CreateBatch(ctx, b)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	var b Batch
	var request, response, createdAt string
	var errMsg sql.NullString

	err := row.Scan(&b.ID, &b.Kind, &b.Status, &b.VideoCount, &b.FailedCount, &b.GrandTotalTokens,
		&b.GrandTotalCost, &b.ElapsedMs, &request, &response, &errMsg, &createdAt)
	if err != nil {
		return nil, err
	}

	b.Request = json.RawMessage(request)
	b.Response = json.RawMessage(response)
	b.Error = errMsg.String
	b.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &b, nil
}

func rawOrEmpty(m json.RawMessage) string {
	if len(m) == 0 {
		return "null"
	}
	return string(m)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
