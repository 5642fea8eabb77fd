package repository

import "context"

// TxRepositories are the repositories bound to one transaction.
type TxRepositories struct {
	Requests   RequestRepository
	Checklists ChecklistRepository
}

// Transactor runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
