package postgres

import (
	"context"
	"database/sql"

	"towing/internal/repository"
)

// Transactor runs units of work in a database transaction.
type Transactor struct {
	db *sql.DB
}

// NewTransactor creates a new Transactor.
func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx runs fn with transaction-scoped repositories.
func (t *Transactor) WithinTx(ctx context.Context, fn func(repos repository.TxRepositories) error) (err error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = fn(repository.TxRepositories{
		Requests:   NewRequestRepositoryWithTx(tx),
		Checklists: NewChecklistRepositoryWithTx(tx),
	})
	if err != nil {
		return err
	}

	return tx.Commit()
}

var _ repository.Transactor = (*Transactor)(nil)
