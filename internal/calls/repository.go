package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ivr-platform/pkg/utils"
)

var (
	ErrAlreadyExists = errors.New("calls: session already exists")
	ErrNotFound      = errors.New("calls: session not found")
)

// Repository is the durable storage contract for sessions.
//
// FindByProviderCallID returns (nil, nil) when no row matches.
// Create returns ErrAlreadyExists when the provider call id is taken.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, s *Session) error
	FindByProviderCallID(ctx context.Context, providerCallID string) (*Session, error)
	List(ctx context.Context, f ListFilter) ([]*Session, error)
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	UserID   int64
	OpenOnly bool
	Limit    int
}

const defaultListLimit = 100

// PostgresRepo stores sessions in call_sessions with JSONB history/data.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.ExecAll(ctx, r.db, []string{
		`CREATE TABLE IF NOT EXISTS call_sessions (
			id               UUID        PRIMARY KEY,
			user_id          BIGINT      NOT NULL,
			provider_call_id TEXT        NOT NULL UNIQUE,
			phone            TEXT        NOT NULL DEFAULT '',
			history          JSONB       NOT NULL DEFAULT '[]',
			current_step     TEXT        NOT NULL,
			session_data     JSONB       NOT NULL DEFAULT '{}',
			is_open          BOOLEAN     NOT NULL DEFAULT TRUE,
			has_error        BOOLEAN     NOT NULL DEFAULT FALSE,
			error_message    TEXT        NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_sessions_user_open ON call_sessions(user_id, is_open)`,
	})
}

func (r *PostgresRepo) Create(ctx context.Context, s *Session) error {
	history, data, err := marshalDocs(s)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_sessions (
  id, user_id, provider_call_id, phone, history, current_step, session_data,
  is_open, has_error, error_message, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (provider_call_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.UserID,
		s.ProviderCallID,
		s.Phone,
		history,
		s.CurrentStep,
		data,
		s.IsOpen,
		s.HasError,
		s.ErrorMessage,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Update rewrites the mutable columns. user_id and provider_call_id are never touched.
func (r *PostgresRepo) Update(ctx context.Context, s *Session) error {
	history, data, err := marshalDocs(s)
	if err != nil {
		return err
	}
	const q = `
UPDATE call_sessions
SET history = $2, current_step = $3, session_data = $4,
    is_open = $5, has_error = $6, error_message = $7, updated_at = $8
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		s.ID,
		history,
		s.CurrentStep,
		data,
		s.IsOpen,
		s.HasError,
		s.ErrorMessage,
		s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `id, user_id, provider_call_id, phone, history, current_step, session_data,
       is_open, has_error, error_message, created_at, updated_at`

func (r *PostgresRepo) FindByProviderCallID(ctx context.Context, providerCallID string) (*Session, error) {
	q := `SELECT ` + selectColumns + ` FROM call_sessions WHERE provider_call_id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, providerCallID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]*Session, error) {
	where, args := []string{"1 = 1"}, []any{}
	if f.UserID != 0 {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.OpenOnly {
		where = append(where, "is_open")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	q := fmt.Sprintf(
		`SELECT %s FROM call_sessions WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		selectColumns, strings.Join(where, " AND "), len(args),
	)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s       Session
		history []byte
		data    []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ProviderCallID,
		&s.Phone,
		&history,
		&s.CurrentStep,
		&data,
		&s.IsOpen,
		&s.HasError,
		&s.ErrorMessage,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &s.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if err := json.Unmarshal(data, &s.Data); err != nil {
		return nil, fmt.Errorf("decode session data: %w", err)
	}
	return &s, nil
}

func marshalDocs(s *Session) (history, data []byte, err error) {
	steps := s.History
	if steps == nil {
		steps = []Step{}
	}
	if history, err = json.Marshal(steps); err != nil {
		return nil, nil, fmt.Errorf("encode history: %w", err)
	}
	if data, err = json.Marshal(s.Data); err != nil {
		return nil, nil, fmt.Errorf("encode session data: %w", err)
	}
	return history, data, nil
}
