package postgres

import (
	"context"
	"database/sql"

	"towing/internal/domain"
	"towing/internal/repository"
)

// MessageRepository is a PostgreSQL implementation of repository.MessageRepository.
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// CountUnread counts unread messages sent by the given side.
func (r *MessageRepository) CountUnread(ctx context.Context, requestID string, from domain.SenderRole) (int, error) {
	query := `SELECT COUNT(*) FROM mensagens WHERE solicitacao_id = $1 AND remetente_tipo = $2 AND lido = FALSE`

	var n int
	if err := r.db.QueryRowContext(ctx, query, requestID, from).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MarkRead flags every message sent by the given side as read.
func (r *MessageRepository) MarkRead(ctx context.Context, requestID string, from domain.SenderRole) (int64, error) {
	query := `UPDATE mensagens SET lido = TRUE WHERE solicitacao_id = $1 AND remetente_tipo = $2 AND lido = FALSE`

	result, err := r.db.ExecContext(ctx, query, requestID, from)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

var _ repository.MessageRepository = (*MessageRepository)(nil)
