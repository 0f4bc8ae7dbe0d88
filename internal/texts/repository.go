package texts

import (
	"context"
	"database/sql"
	"errors"

	"ivr-platform/pkg/utils"
)

// PostgresRepo reads templates from text_templates.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.ExecAll(ctx, r.db, []string{
		`CREATE TABLE IF NOT EXISTS text_templates (
			user_id  BIGINT NOT NULL,
			name     TEXT   NOT NULL,
			value    TEXT   NOT NULL DEFAULT '',
			filepath TEXT   NOT NULL DEFAULT '',
			PRIMARY KEY (user_id, name)
		)`,
	})
}

func (r *PostgresRepo) Find(ctx context.Context, userID int64, name string) (Template, bool, error) {
	const q = `
SELECT user_id, name, value, filepath
FROM text_templates
WHERE user_id = $1 AND name = $2
`
	var t Template
	err := r.db.QueryRowContext(ctx, q, userID, name).Scan(
		&t.UserID,
		&t.Name,
		&t.Value,
		&t.Filepath,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, false, nil
		}
		return Template{}, false, err
	}
	return t, true, nil
}
