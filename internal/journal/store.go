// Package journal keeps a local record of downloads, proposals and webhook
// deliveries. Proposal tokens are never written to it.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/automa-app/automa-go/internal/code"
	"github.com/automa-app/automa-go/internal/webhook"
)

// DownloadRecord is one row of the downloads table.
type DownloadRecord struct {
	ID            string
	TaskID        int64
	Dir           string
	ArchiveDigest string
	ArchiveBytes  int64
	Entries       int
	CreatedAt     time.Time
}

// ProposalRecord is one row of the proposals table.
type ProposalRecord struct {
	ID         string
	TaskID     int64
	Message    string
	DiffBytes  int
	StatusCode int
	LastError  string
	CreatedAt  time.Time
}

// DeliveryRecord is one row of the webhook_deliveries table.
type DeliveryRecord struct {
	ID         string
	Endpoint   string
	RequestID  string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Store writes and reads journal rows.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ code.Recorder   = (*Store)(nil)
	_ webhook.Handler = (*Store)(nil)
)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// RecordDownload implements code.Recorder.
func (s *Store) RecordDownload(ctx context.Context, ev code.DownloadEvent) error {
	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO downloads(id, task_id, dir, archive_digest, archive_bytes, entries, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), ev.TaskID, ev.Dir, ev.ArchiveDigest, ev.ArchiveBytes, ev.Entries, formatTime(at))
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}
	return nil
}

// RecordProposal implements code.Recorder.
func (s *Store) RecordProposal(ctx context.Context, ev code.ProposalEvent) error {
	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO proposals(id, task_id, message, diff_bytes, status_code, last_error, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), ev.TaskID, nullString(ev.Message), ev.DiffBytes, ev.StatusCode, nullString(ev.Error), formatTime(at))
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// RecordDelivery stores a verified webhook delivery.
func (s *Store) RecordDelivery(ctx context.Context, d webhook.Delivery) error {
	if d.ID == "" {
		return fmt.Errorf("delivery id is empty")
	}
	payload := d.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`null`)
	}
	at := d.ReceivedAt
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO webhook_deliveries(id, endpoint, request_id, payload, received_at)
VALUES(?, ?, ?, ?, ?);
`, d.ID, d.Endpoint, nullString(d.RequestID), string(payload), formatTime(at))
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// HandleDelivery lets the store act as the webhook server's handler.
func (s *Store) HandleDelivery(ctx context.Context, d webhook.Delivery) error {
	return s.RecordDelivery(ctx, d)
}

// RecentDownloads returns up to limit downloads, newest first.
func (s *Store) RecentDownloads(ctx context.Context, limit int) ([]DownloadRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task_id, dir, archive_digest, archive_bytes, entries, created_at
FROM downloads
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	defer rows.Close()

	var out []DownloadRecord
	for rows.Next() {
		var (
			rec     DownloadRecord
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.Dir, &rec.ArchiveDigest, &rec.ArchiveBytes, &rec.Entries, &created); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		if rec.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate downloads: %w", err)
	}
	return out, nil
}

// Proposals returns the proposals recorded for taskID, oldest first.
func (s *Store) Proposals(ctx context.Context, taskID int64) ([]ProposalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task_id, message, diff_bytes, status_code, last_error, created_at
FROM proposals
WHERE task_id = ?
ORDER BY created_at ASC, rowid ASC;
`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	var out []ProposalRecord
	for rows.Next() {
		var (
			rec       ProposalRecord
			message   sql.NullString
			lastError sql.NullString
			created   string
		)
		if err := rows.Scan(&rec.ID, &rec.TaskID, &message, &rec.DiffBytes, &rec.StatusCode, &lastError, &created); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		rec.Message = message.String
		rec.LastError = lastError.String
		if rec.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return out, nil
}

// Deliveries returns up to limit webhook deliveries, newest first.
func (s *Store) Deliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, endpoint, request_id, payload, received_at
FROM webhook_deliveries
ORDER BY received_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query webhook deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var (
			rec       DeliveryRecord
			requestID sql.NullString
			payload   string
			received  string
		)
		if err := rows.Scan(&rec.ID, &rec.Endpoint, &requestID, &payload, &received); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		rec.RequestID = requestID.String
		rec.Payload = json.RawMessage(payload)
		if rec.ReceivedAt, err = parseTime(received); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook deliveries: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
