package postgres

import (
	"context"
	"database/sql"

	"towing/internal/repository"
)

// SettingsRepository reads operator-managed keys from configuracoes.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the raw value of key.
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT valor FROM configuracoes WHERE chave = $1`, key).Scan(&value)
	if err == sql.ErrNoRows || (err == nil && !value.Valid) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

var _ repository.SettingsRepository = (*SettingsRepository)(nil)
