package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"towing/internal/domain"
	"towing/internal/repository"
)

// ChecklistRepository is a PostgreSQL implementation of repository.ChecklistRepository.
type ChecklistRepository struct {
	q Querier
}

// NewChecklistRepository creates a new PostgreSQL checklist repository.
func NewChecklistRepository(db *sql.DB) *ChecklistRepository {
	return &ChecklistRepository{q: db}
}

// NewChecklistRepositoryWithTx creates a checklist repository using a transaction.
func NewChecklistRepositoryWithTx(tx *sql.Tx) *ChecklistRepository {
	return &ChecklistRepository{q: tx}
}

// CreateIfAbsent persists a checklist unless the request already has one for
// the same phase. A conflict is resolved in the statement itself, so the
// enclosing transaction stays usable.
func (r *ChecklistRepository) CreateIfAbsent(ctx context.Context, c *domain.Checklist) (bool, error) {
	query := `
		INSERT INTO solicitacao_checklist (id, solicitacao_id, prestador_id, tipo, itens, fotos,
			foto_frente_url, foto_traseira_url, observacoes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (solicitacao_id, tipo) DO NOTHING
	`

	items, err := json.Marshal(c.Items)
	if err != nil {
		return false, err
	}

	photos := append([]string{c.FrontPhotoURL, c.RearPhotoURL}, c.PhotoURLs...)

	result, err := r.q.ExecContext(ctx, query,
		c.ID,
		c.RequestID,
		c.ProviderID,
		c.Phase,
		items,
		pq.Array(photos),
		c.FrontPhotoURL,
		c.RearPhotoURL,
		nullString(c.Notes),
		c.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetByRequestAndPhase retrieves the checklist of a phase.
func (r *ChecklistRepository) GetByRequestAndPhase(ctx context.Context, requestID string, phase domain.ChecklistPhase) (*domain.Checklist, error) {
	query := `
		SELECT id, solicitacao_id, prestador_id, tipo, itens, fotos, foto_frente_url, foto_traseira_url, observacoes, created_at
		FROM solicitacao_checklist
		WHERE solicitacao_id = $1 AND tipo = $2
	`

	var c domain.Checklist
	var items []byte
	var photos []string
	var front, rear, notes sql.NullString

	err := r.q.QueryRowContext(ctx, query, requestID, phase).Scan(
		&c.ID,
		&c.RequestID,
		&c.ProviderID,
		&c.Phase,
		&items,
		pq.Array(&photos),
		&front,
		&rear,
		&notes,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &c.Items); err != nil {
			return nil, err
		}
	}
	c.FrontPhotoURL = front.String
	c.RearPhotoURL = rear.String
	c.Notes = notes.String
	for _, p := range photos {
		if p != c.FrontPhotoURL && p != c.RearPhotoURL {
			c.PhotoURLs = append(c.PhotoURLs, p)
		}
	}
	return &c, nil
}

var _ repository.ChecklistRepository = (*ChecklistRepository)(nil)
