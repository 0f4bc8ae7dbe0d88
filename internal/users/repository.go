package users

import (
	"context"
	"database/sql"
	"errors"

	"ivr-platform/pkg/utils"
)

// PostgresDirectory reads the users table.
// The table is owned by the account management side of the product; this
// subsystem only reads it.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	return utils.ExecAll(ctx, d.db, []string{
		`CREATE TABLE IF NOT EXISTS users (
			id           BIGSERIAL PRIMARY KEY,
			name         TEXT        NOT NULL DEFAULT '',
			phone_number TEXT        NOT NULL UNIQUE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	})
}

func (d *PostgresDirectory) FindByPhoneNumber(ctx context.Context, phone string) (User, error) {
	const q = `
SELECT id, name, phone_number, created_at
FROM users
WHERE phone_number = $1
`
	var u User
	if err := d.db.QueryRowContext(ctx, q, NormalizePhone(phone)).Scan(
		&u.ID,
		&u.Name,
		&u.PhoneNumber,
		&u.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}
