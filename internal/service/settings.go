package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"towing/internal/domain"
	"towing/internal/redis"
	"towing/internal/repository"
)

// Settings keys stored in the configuracoes table.
const (
	SettingChecklistStart = "checklist_itens_inicio"
	SettingChecklistEnd   = "checklist_itens_fim"
	SettingCommissionRate = "comissao_plataforma"
)

// SettingsService resolves operator-managed configuration with a read-through cache.
type SettingsService struct {
	repo              repository.SettingsRepository
	cache             redis.CacheStoreInterface
	defaultCommission float64
	logger            *zap.Logger
}

// NewSettingsService creates a new SettingsService. cache may be nil.
func NewSettingsService(
	repo repository.SettingsRepository,
	cache redis.CacheStoreInterface,
	defaultCommission float64,
	logger *zap.Logger,
) *SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{
		repo:              repo,
		cache:             cache,
		defaultCommission: defaultCommission,
		logger:            logger,
	}
}

// ChecklistTemplate returns the configured items of a phase, falling back to
// the built-in template when the setting is absent or malformed.
func (s *SettingsService) ChecklistTemplate(ctx context.Context, phase domain.ChecklistPhase) ([]domain.ChecklistItem, error) {
	if !phase.Valid() {
		return nil, ErrInvalidPhase
	}

	key := SettingChecklistStart
	if phase == domain.ChecklistPhaseEnd {
		key = SettingChecklistEnd
	}

	raw, ok, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return domain.DefaultChecklistItems(phase), nil
	}

	var items []domain.ChecklistItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil || len(items) == 0 {
		s.logger.Warn("malformed checklist template, using default",
			zap.String("key", key), zap.Error(err))
		return domain.DefaultChecklistItems(phase), nil
	}
	for i := range items {
		items[i].Checked = false
	}
	return items, nil
}

// CommissionRate returns the platform commission percentage.
func (s *SettingsService) CommissionRate(ctx context.Context) (float64, error) {
	raw, ok, err := s.get(ctx, SettingCommissionRate)
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.defaultCommission, nil
	}

	rate, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || rate < 0 || rate > 100 {
		s.logger.Warn("malformed commission rate, using default",
			zap.String("value", raw))
		return s.defaultCommission, nil
	}
	return rate, nil
}

func (s *SettingsService) get(ctx context.Context, key string) (string, bool, error) {
	if s.cache != nil {
		if v, ok, err := s.cache.GetSetting(ctx, key); err == nil && ok {
			return v, true, nil
		}
	}

	v, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	if s.cache != nil {
		if err := s.cache.SetSetting(ctx, key, v); err != nil {
			s.logger.Debug("setting cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, true, nil
}
