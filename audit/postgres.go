package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrRetentionFloor is returned by Purge when the cutoff would delete
// entries still inside the retention window.
var ErrRetentionFloor = errors.New("purge cutoff violates audit retention floor")

// Schema is the audit_log DDL, applied by the migration path of the server
// binary.
const Schema = `
create table if not exists audit_log (
    id            uuid primary key,
    ts            timestamptz not null,
    actor_user_id text        not null default '',
    action        text        not null,
    resource_type text        not null default '',
    resource_id   text        not null default '',
    session_id    text        not null default '',
    ip_address    text        not null default '',
    status        text        not null,
    phi_accessed  boolean     not null default false,
    details       jsonb       not null default '{}'::jsonb
);
create index if not exists audit_log_actor_ts_idx on audit_log (actor_user_id, ts);
create index if not exists audit_log_phi_ts_idx on audit_log (ts) where phi_accessed;
`

// PGStore persists the audit trail in PostgreSQL through database/sql with
// the pgx stdlib driver.
type PGStore struct {
	db             *sql.DB
	retentionFloor time.Duration
}

// OpenPG opens a pooled connection for the audit store.
func OpenPG(dsn string, retentionFloorDays int) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	return NewPGStore(db, retentionFloorDays), nil
}

// NewPGStore wraps an existing pool. retentionFloorDays guards Purge; values
// below the HIPAA minimum are raised to it.
func NewPGStore(db *sql.DB, retentionFloorDays int) *PGStore {
	if retentionFloorDays < 2555 {
		retentionFloorDays = 2555
	}
	return &PGStore{
		db:             db,
		retentionFloor: time.Duration(retentionFloorDays) * 24 * time.Hour,
	}
}

// Close releases the pool.
func (s *PGStore) Close() error { return s.db.Close() }

// Append inserts the entry. Insert only — the table carries no update path.
func (s *PGStore) Append(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		insert into audit_log
			(id, ts, actor_user_id, action, resource_type, resource_id,
			 session_id, ip_address, status, phi_accessed, details)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		entry.ID, entry.Timestamp.UTC(), entry.ActorUserID, entry.Action,
		entry.ResourceType, entry.ResourceID, entry.SessionID, entry.IP,
		string(entry.Status), entry.PHIAccessed, details,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Query selects entries matching the filter, oldest first.
func (s *PGStore) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		select id, ts, actor_user_id, action, resource_type, resource_id,
		       session_id, ip_address, status, phi_accessed, details
		from audit_log where 1=1`
	var args []interface{}

	if filter.ActorUserID != "" {
		args = append(args, filter.ActorUserID)
		query += fmt.Sprintf(" and actor_user_id = $%d", len(args))
	}
	if filter.OnlyPHI {
		query += " and phi_accessed"
	}
	if !filter.Window.From.IsZero() {
		args = append(args, filter.Window.From.UTC())
		query += fmt.Sprintf(" and ts >= $%d", len(args))
	}
	if !filter.Window.To.IsZero() {
		args = append(args, filter.Window.To.UTC())
		query += fmt.Sprintf(" and ts <= $%d", len(args))
	}
	query += " order by ts asc"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			status  string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorUserID, &e.Action,
			&e.ResourceType, &e.ResourceID, &e.SessionID, &e.IP,
			&status, &e.PHIAccessed, &details); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge deletes entries older than cutoff. Administrative path only: it
// refuses any cutoff inside the retention floor, and nothing in the engine
// calls it.
func (s *PGStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	if time.Since(cutoff) < s.retentionFloor {
		return 0, ErrRetentionFloor
	}
	res, err := s.db.ExecContext(ctx, `delete from audit_log where ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res.RowsAffected()
}
