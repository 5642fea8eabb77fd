package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"towing/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationNewRequest    NotificationType = "NEW_REQUEST"
	NotificationDirected      NotificationType = "REQUEST_DIRECTED"
	NotificationAccepted      NotificationType = "REQUEST_ACCEPTED"
	NotificationStatusChanged NotificationType = "STATUS_CHANGED"
	NotificationCancelled     NotificationType = "REQUEST_CANCELLED"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string
	Type        NotificationType
	RecipientID string // client or provider ID
	Title       string
	Message     string
	Data        map[string]interface{}
	CreatedAt   time.Time
}

// Pusher delivers a notification to a device.
type Pusher interface {
	Push(ctx context.Context, n Notification) error
}

// LogPusher writes notifications to the log instead of a push gateway.
type LogPusher struct {
	logger *zap.Logger
}

// NewLogPusher creates a new LogPusher.
func NewLogPusher(logger *zap.Logger) *LogPusher {
	return &LogPusher{logger: logger}
}

// Push logs the notification.
func (p *LogPusher) Push(_ context.Context, n Notification) error {
	p.logger.Info("notification",
		zap.String("type", string(n.Type)),
		zap.String("recipient", n.RecipientID),
		zap.String("title", n.Title),
		zap.String("message", n.Message))
	return nil
}

var statusMessages = map[domain.RequestStatus]string{
	domain.RequestStatusInProgress: "O guincho está a caminho",
	domain.RequestStatusOnSite:     "O guincho chegou ao local",
	domain.RequestStatusEnRoute:    "Seu veículo está em transporte",
	domain.RequestStatusFinalized:  "Serviço finalizado",
}

// NotificationService handles notification delivery. Delivery is best
// effort: failures are logged and never fail the calling operation.
type NotificationService struct {
	pusher Pusher
	logger *zap.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(pusher Pusher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pusher == nil {
		pusher = NewLogPusher(logger)
	}
	return &NotificationService{pusher: pusher, logger: logger}
}

// NotifyNewRequest notifies nearby providers about a new request.
func (s *NotificationService) NotifyNewRequest(ctx context.Context, req *domain.Request, providerIDs []string) {
	for _, providerID := range providerIDs {
		s.send(ctx, Notification{
			Type:        NotificationNewRequest,
			RecipientID: providerID,
			Title:       "Novo chamado",
			Message:     fmt.Sprintf("Novo chamado próximo: %s", req.OriginAddress),
			Data: map[string]interface{}{
				"request_id": req.ID,
				"origin_lat": req.Origin.Lat,
				"origin_lng": req.Origin.Lng,
				"amount":     req.Amount,
			},
		})
	}
}

// NotifyDirected notifies a provider that an operator routed a request to them.
func (s *NotificationService) NotifyDirected(ctx context.Context, req *domain.Request) {
	if req.ProviderID == "" {
		return
	}
	s.send(ctx, Notification{
		Type:        NotificationDirected,
		RecipientID: req.ProviderID,
		Title:       "Chamado direcionado",
		Message:     "Um chamado foi direcionado para você",
		Data:        map[string]interface{}{"request_id": req.ID},
	})
}

// NotifyAccepted notifies the client that a provider took the request.
func (s *NotificationService) NotifyAccepted(ctx context.Context, req *domain.Request) {
	if req.ClientID == "" {
		return
	}
	s.send(ctx, Notification{
		Type:        NotificationAccepted,
		RecipientID: req.ClientID,
		Title:       "Chamado aceito",
		Message:     "Um guincho aceitou seu chamado",
		Data: map[string]interface{}{
			"request_id":  req.ID,
			"provider_id": req.ProviderID,
		},
	})
}

// NotifyStatusChanged notifies the client of a lifecycle step.
func (s *NotificationService) NotifyStatusChanged(ctx context.Context, req *domain.Request) {
	msg, ok := statusMessages[req.Status]
	if !ok || req.ClientID == "" {
		return
	}
	s.send(ctx, Notification{
		Type:        NotificationStatusChanged,
		RecipientID: req.ClientID,
		Title:       "Atualização do chamado",
		Message:     msg,
		Data: map[string]interface{}{
			"request_id": req.ID,
			"status":     req.Status,
		},
	})
}

// NotifyCancelled notifies the other party about a cancellation.
func (s *NotificationService) NotifyCancelled(ctx context.Context, req *domain.Request, by domain.Actor) {
	recipientID := req.ProviderID
	if by.Role == domain.RoleProvider {
		recipientID = req.ClientID
	}
	if recipientID == "" {
		return
	}
	s.send(ctx, Notification{
		Type:        NotificationCancelled,
		RecipientID: recipientID,
		Title:       "Chamado cancelado",
		Message:     "O chamado foi cancelado",
		Data: map[string]interface{}{
			"request_id": req.ID,
			"reason":     req.CancelReason,
		},
	})
}

func (s *NotificationService) send(ctx context.Context, n Notification) {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now()
	if err := s.pusher.Push(ctx, n); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("type", string(n.Type)),
			zap.String("recipient", n.RecipientID),
			zap.Error(err))
	}
}
