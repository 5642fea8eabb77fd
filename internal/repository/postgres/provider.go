package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"towing/internal/domain"
	"towing/internal/repository"
)

// ProviderRepository is a PostgreSQL implementation of repository.ProviderRepository.
type ProviderRepository struct {
	q Querier
}

// NewProviderRepository creates a new PostgreSQL provider repository.
func NewProviderRepository(db *sql.DB) *ProviderRepository {
	return &ProviderRepository{q: db}
}

// GetByID retrieves a provider by ID.
func (r *ProviderRepository) GetByID(ctx context.Context, id string) (*domain.Provider, error) {
	query := `
		SELECT id, COALESCE(nome, ''), COALESCE(telefone, ''), status, latitude, longitude, location_updated_at,
			COALESCE(preco_base, 0), COALESCE(valor_km, 0), COALESCE(valor_minuto, 0), COALESCE(retorno_base, 0),
			COALESCE(oferece_patins, FALSE), COALESCE(valor_patins, 0)
		FROM prestadores WHERE id = $1
	`

	var p domain.Provider
	var lat, lng sql.NullFloat64
	var locationUpdatedAt sql.NullTime

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Phone,
		&p.Status,
		&lat,
		&lng,
		&locationUpdatedAt,
		&p.Pricing.BasePrice,
		&p.Pricing.PerKm,
		&p.Pricing.PerMinute,
		&p.Pricing.ReturnBase,
		&p.Pricing.OffersSkates,
		&p.Pricing.SkatesPrice,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if lat.Valid && lng.Valid {
		p.Position = &domain.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
	}
	if locationUpdatedAt.Valid {
		p.LocationUpdatedAt = locationUpdatedAt.Time
	}
	return &p, nil
}

// SetStatus switches a provider online or offline.
func (r *ProviderRepository) SetStatus(ctx context.Context, id string, status domain.ProviderStatus) error {
	query := `UPDATE prestadores SET status = $1, updated_at = NOW() WHERE id = $2`
	return r.execOne(ctx, query, status, id)
}

// UpdatePosition stores the last persisted position.
func (r *ProviderRepository) UpdatePosition(ctx context.Context, id string, lat, lng float64, at time.Time) error {
	query := `
		UPDATE prestadores
		SET latitude = $1, longitude = $2, location_updated_at = $3, updated_at = NOW()
		WHERE id = $4
	`
	return r.execOne(ctx, query, lat, lng, at, id)
}

// UpdatePricing replaces the provider's price table.
func (r *ProviderRepository) UpdatePricing(ctx context.Context, id string, pricing domain.Pricing) error {
	query := `
		UPDATE prestadores
		SET preco_base = $1, valor_km = $2, valor_minuto = $3, retorno_base = $4,
			oferece_patins = $5, valor_patins = $6, updated_at = NOW()
		WHERE id = $7
	`
	skatesPrice := pricing.SkatesPrice
	if !pricing.OffersSkates {
		skatesPrice = 0
	}
	return r.execOne(ctx, query,
		pricing.BasePrice,
		pricing.PerKm,
		pricing.PerMinute,
		pricing.ReturnBase,
		pricing.OffersSkates,
		skatesPrice,
		id,
	)
}

// GetBalance reads the prestador_saldo view.
func (r *ProviderRepository) GetBalance(ctx context.Context, id string) (*domain.Balance, error) {
	query := `
		SELECT prestador_id, COALESCE(total_comissoes, 0), COALESCE(total_pagamentos, 0), COALESCE(saldo_devedor, 0)
		FROM prestador_saldo WHERE prestador_id = $1
	`

	var b domain.Balance
	err := r.q.QueryRowContext(ctx, query, id).Scan(&b.ProviderID, &b.TotalCommissions, &b.TotalPayments, &b.BalanceDue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No settled request yet.
			return &domain.Balance{ProviderID: id}, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *ProviderRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClientRepository is a PostgreSQL implementation of repository.ClientRepository.
type ClientRepository struct {
	db *sql.DB
}

// NewClientRepository creates a new ClientRepository.
func NewClientRepository(db *sql.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// GetByID retrieves a client by ID.
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	query := `SELECT id, COALESCE(nome, ''), COALESCE(telefone, ''), COALESCE(agency_id::text, ''), created_at FROM clientes WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var c domain.Client
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.AgencyID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var (
	_ repository.ProviderRepository = (*ProviderRepository)(nil)
	_ repository.ClientRepository   = (*ClientRepository)(nil)
)
