package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	id "prism/pkg/domain"
	audit "prism/pkg/platform/audit"
	txcontext "prism/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store implements audit.Store with a transactional outbox. Every
// append writes the queryable audit_entries row and an audit_outbox
// row in one transaction; the relay drains the outbox to Kafka and
// marks rows published only after an acknowledged produce.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// entryPayload is the JSON structure published to Kafka. Field names
// are the wire contract with downstream consumers.
type entryPayload struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	UserID     string `json:"user_id,omitempty"`
	PipelineID string `json:"pipeline_id,omitempty"`
	ProfileKey string `json:"profile_key,omitempty"`
	Vendor     string `json:"vendor,omitempty"`
	CostCents  int64  `json:"cost_cents,omitempty"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`
	LegalBasis string `json:"legal_basis,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	ClientInfo string `json:"client_info,omitempty"`
}

// Append writes an entry, assigning an ID when the entry carries none.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	entryID := entry.ID
	if entryID.IsZero() {
		entryID = id.NewEntryID()
	}
	return s.AppendWithID(ctx, entryID, entry)
}

// AppendWithID writes an entry under a caller-chosen ID. Idempotent:
// a duplicate ID inserts nothing, including the outbox row.
func (s *Store) AppendWithID(ctx context.Context, entryID id.EntryID, entry audit.Entry) error {
	entry.ID = entryID

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		const insertEntry = `
			INSERT INTO audit_entries (
				id, category, timestamp, event, user_id, pipeline_id,
				profile_key, vendor, cost_cents, success, reason,
				legal_basis, request_id, actor_id, client_info
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO NOTHING
		`

		var userID, pipelineID *uuid.UUID
		if !entry.UserID.IsZero() {
			uid := uuid.UUID(entry.UserID)
			userID = &uid
		}
		if !entry.PipelineID.IsZero() {
			pid := uuid.UUID(entry.PipelineID)
			pipelineID = &pid
		}

		res, err := s.execer(ctx).ExecContext(ctx, insertEntry,
			uuid.UUID(entryID),
			string(entry.Category),
			entry.Timestamp,
			string(entry.Event),
			userID,
			pipelineID,
			entry.ProfileKey,
			entry.Vendor,
			int64(entry.Cost),
			entry.Success,
			entry.Reason,
			entry.LegalBasis,
			entry.RequestID,
			entry.ActorID,
			entry.ClientInfo,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("audit entry rows affected: %w", err)
		}
		if inserted == 0 {
			// Duplicate ID: the outbox row already exists too.
			return nil
		}

		payload, err := json.Marshal(payloadFor(entry))
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}

		// Records are keyed by user so per-user ordering survives
		// Kafka partitioning. Entries without a user key by entry ID.
		key := entry.ActorID
		if !entry.UserID.IsZero() {
			key = entry.UserID.String()
		}
		if key == "" {
			key = entryID.String()
		}

		const insertOutbox = `
			INSERT INTO audit_outbox (id, key, payload, created_at)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := s.execer(ctx).ExecContext(ctx, insertOutbox,
			uuid.UUID(entryID),
			[]byte(key),
			payload,
			time.Now(),
		); err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
		return nil
	})
}

func payloadFor(entry audit.Entry) entryPayload {
	p := entryPayload{
		ID:         entry.ID.String(),
		Category:   string(entry.Category),
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Event:      string(entry.Event),
		ProfileKey: entry.ProfileKey,
		Vendor:     entry.Vendor,
		CostCents:  int64(entry.Cost),
		Success:    entry.Success,
		Reason:     entry.Reason,
		LegalBasis: entry.LegalBasis,
		RequestID:  entry.RequestID,
		ActorID:    entry.ActorID,
		ClientInfo: entry.ClientInfo,
	}
	if !entry.UserID.IsZero() {
		p.UserID = entry.UserID.String()
	}
	if !entry.PipelineID.IsZero() {
		p.PipelineID = entry.PipelineID.String()
	}
	return p
}

const selectColumns = `
	id, category, timestamp, event, user_id, pipeline_id,
	profile_key, vendor, cost_cents, success, reason,
	legal_basis, request_id, actor_id, client_info
`

// Query returns entries matching q, newest first.
func (s *Store) Query(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM audit_entries`

	var (
		conds []string
		args  []any
	)
	if !q.UserID.IsZero() {
		args = append(args, uuid.UUID(q.UserID))
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conds = append(conds, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conds = append(conds, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY timestamp DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return s.scanEntries(rows)
}

// ListRecent returns the N most recent entries.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	return s.Query(ctx, audit.Query{Limit: limit})
}

// DeleteOlderThan removes entries strictly older than cutoff. Used by
// the retention worker; never called with a cutoff younger than the
// configured retention floor.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_entries WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired audit entries rows affected: %w", err)
	}
	return int(n), nil
}

func (s *Store) scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry

	for rows.Next() {
		var (
			entry      audit.Entry
			entryID    uuid.UUID
			category   string
			event      string
			userID     *uuid.UUID
			pipelineID *uuid.UUID
			costCents  int64
		)

		err := rows.Scan(
			&entryID,
			&category,
			&entry.Timestamp,
			&event,
			&userID,
			&pipelineID,
			&entry.ProfileKey,
			&entry.Vendor,
			&costCents,
			&entry.Success,
			&entry.Reason,
			&entry.LegalBasis,
			&entry.RequestID,
			&entry.ActorID,
			&entry.ClientInfo,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		entry.ID = id.EntryID(entryID)
		entry.Category = audit.EventCategory(category)
		entry.Event = audit.AuditEvent(event)
		entry.Cost = id.Cents(costCents)
		if userID != nil {
			entry.UserID = id.UserID(*userID)
		}
		if pipelineID != nil {
			entry.PipelineID = id.PipelineID(*pipelineID)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}

// -----------------------------------------------------------------------------
// Outbox surface, used by the Kafka relay
// -----------------------------------------------------------------------------

// ListOutboxPending returns up to limit unpublished outbox rows in
// creation order.
func (s *Store) ListOutboxPending(ctx context.Context, limit int) ([]audit.OutboxRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var records []audit.OutboxRecord
	for rows.Next() {
		var rec audit.OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox records: %w", err)
	}
	return records, nil
}

// MarkPublished stamps the given outbox rows as delivered. Only called
// after Kafka acknowledged the produce, so a crash between produce and
// mark re-sends rows (at-least-once; consumers dedupe by entry ID).
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE audit_outbox
		SET published_at = $1
		WHERE id = ANY($2)
	`, time.Now(), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// CountPending reports how many outbox rows await publication.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox: %w", err)
	}
	return n, nil
}
