package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/tomd/internal/core/domain"
)

// SettingsRepository keeps engine settings in a single row so API and worker
// processes read the same credentials.
type SettingsRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db, now: time.Now}
}

func (r *SettingsRepository) Load(ctx context.Context) (domain.Settings, bool, error) {
	var s domain.Settings
	err := r.db.QueryRowContext(ctx, `SELECT api_key, base_url FROM engine_settings WHERE id = 1`).Scan(&s.APIKey, &s.BaseURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Settings{}, false, nil
		}
		return domain.Settings{}, false, fmt.Errorf("select engine settings: %w", err)
	}
	return s, true, nil
}

// Modify seeds the row when missing, then updates it under a row lock.
func (r *SettingsRepository) Modify(ctx context.Context, seed domain.Settings, mutate func(*domain.Settings)) (domain.Settings, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("begin settings tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now().UTC()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO engine_settings (id, api_key, base_url, updated_at)
VALUES (1, $1, $2, $3)
ON CONFLICT (id) DO NOTHING
`, seed.APIKey, seed.BaseURL, now); err != nil {
		return domain.Settings{}, fmt.Errorf("seed engine settings: %w", err)
	}

	var current domain.Settings
	row := tx.QueryRowContext(ctx, `SELECT api_key, base_url FROM engine_settings WHERE id = 1 FOR UPDATE`)
	if err := row.Scan(&current.APIKey, &current.BaseURL); err != nil {
		return domain.Settings{}, fmt.Errorf("lock engine settings: %w", err)
	}
	mutate(&current)

	if _, err := tx.ExecContext(ctx,
		`UPDATE engine_settings SET api_key = $1, base_url = $2, updated_at = $3 WHERE id = 1`,
		current.APIKey, current.BaseURL, now,
	); err != nil {
		return domain.Settings{}, fmt.Errorf("update engine settings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Settings{}, fmt.Errorf("commit settings update: %w", err)
	}
	return current, nil
}
