package repository

import (
	"context"

	"towing/internal/domain"
)

// ChecklistRepository defines the persistence operations for checklists.
type ChecklistRepository interface {
	// CreateIfAbsent persists a checklist. It reports false, without error,
	// when the request already has a checklist for the same phase.
	CreateIfAbsent(ctx context.Context, c *domain.Checklist) (bool, error)

	// GetByRequestAndPhase retrieves the checklist of a phase.
	GetByRequestAndPhase(ctx context.Context, requestID string, phase domain.ChecklistPhase) (*domain.Checklist, error)
}

// MessageRepository defines the operations behind unread badges.
type MessageRepository interface {
	// CountUnread counts unread messages sent by the given side.
	CountUnread(ctx context.Context, requestID string, from domain.SenderRole) (int, error)

	// MarkRead flags every message sent by the given side as read.
	MarkRead(ctx context.Context, requestID string, from domain.SenderRole) (int64, error)
}
