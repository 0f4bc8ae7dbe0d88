package audit

import (
	"context"
	"database/sql"

	"ivr-platform/pkg/utils"
)

// PostgresRepo appends events to audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.ExecAll(ctx, r.db, []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id            UUID        PRIMARY KEY,
			type          TEXT        NOT NULL,
			user_id       BIGINT      NOT NULL DEFAULT 0,
			call_id       TEXT        NOT NULL DEFAULT '',
			actor_user_id BIGINT      NOT NULL DEFAULT 0,
			actor_role    TEXT        NOT NULL DEFAULT '',
			ip_address    TEXT        NOT NULL DEFAULT '',
			message       TEXT        NOT NULL DEFAULT '',
			metadata      TEXT        NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_call ON audit_events(call_id)`,
	})
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, user_id, call_id, actor_user_id, actor_role, ip_address, message, metadata, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.UserID,
		e.CallID,
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
