package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lib/pq"

	"towing/internal/domain"
	"towing/internal/repository"
)

const requestColumns = `id, cliente_id, nome_visitante, prestador_id, agency_id,
	origem_endereco, origem_lat, origem_lng, destino_endereco, destino_lat, destino_lng,
	distancia_km, route_duration_s, tempo_estimado_min, route_polyline, valor, status,
	valor_pedagio, patins_usado, patins_qtd, patins_valor, valor_final, taxa_comissao, valor_comissao,
	problema_reportado, tipo_problema, descricao_problema, motivo_cancelamento, cancelado_em,
	created_at, updated_at`

var activeProviderStatuses = []string{
	string(domain.RequestStatusInProgress),
	string(domain.RequestStatusOnSite),
	string(domain.RequestStatusEnRoute),
}

var terminalStatuses = []string{
	string(domain.RequestStatusFinalized),
	string(domain.RequestStatusCancelled),
}

// RequestRepository is a PostgreSQL implementation of repository.RequestRepository.
type RequestRepository struct {
	q Querier
}

// NewRequestRepository creates a new PostgreSQL request repository.
func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{q: db}
}

// NewRequestRepositoryWithTx creates a request repository using a transaction.
func NewRequestRepositoryWithTx(tx *sql.Tx) *RequestRepository {
	return &RequestRepository{q: tx}
}

// Create persists a new request.
func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	query := `
		INSERT INTO solicitacoes (id, cliente_id, nome_visitante, agency_id,
			origem_endereco, origem_lat, origem_lng, destino_endereco, destino_lat, destino_lng,
			distancia_km, route_distance_m, route_duration_s, tempo_estimado_min, route_polyline,
			valor, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
	`

	var destLat, destLng sql.NullFloat64
	if req.Destination != nil {
		destLat = sql.NullFloat64{Float64: req.Destination.Lat, Valid: true}
		destLng = sql.NullFloat64{Float64: req.Destination.Lng, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		req.ID,
		nullString(req.ClientID),
		nullString(req.GuestName),
		nullString(req.AgencyID),
		req.OriginAddress,
		req.Origin.Lat,
		req.Origin.Lng,
		nullString(req.DestinationAddress),
		destLat,
		destLng,
		math.Round(req.DistanceKm*100)/100,
		int64(math.Round(req.DistanceKm*1000)),
		req.DurationSeconds,
		req.EtaMinutes,
		nullString(req.Polyline),
		req.Amount,
		req.Status,
		req.CreatedAt,
	)
	return err
}

// GetByID retrieves a request by ID.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM solicitacoes WHERE id = $1`

	req, err := scanRequest(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// FindActiveByClient returns the newest non-terminal request of a client.
// Returns nil if none exists.
func (r *RequestRepository) FindActiveByClient(ctx context.Context, clientID string, since time.Time) (*domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM solicitacoes
		WHERE cliente_id = $1 AND created_at >= $2 AND NOT (status = ANY($3))
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, clientID, since, pq.Array(terminalStatuses))
}

// FindActiveByProvider returns the newest request the provider is working on.
// Returns nil if none exists.
func (r *RequestRepository) FindActiveByProvider(ctx context.Context, providerID string, since time.Time) (*domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM solicitacoes
		WHERE prestador_id = $1 AND created_at >= $2 AND status = ANY($3)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, providerID, since, pq.Array(activeProviderStatuses))
}

// FindDirectedTo returns the newest request directed to the provider.
// Returns nil if none exists.
func (r *RequestRepository) FindDirectedTo(ctx context.Context, providerID string) (*domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM solicitacoes
		WHERE prestador_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, providerID, domain.RequestStatusDirected)
}

// FindOpenPending returns unassigned pending requests, newest first.
func (r *RequestRepository) FindOpenPending(ctx context.Context, limit int) ([]*domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM solicitacoes
		WHERE prestador_id IS NULL AND status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, domain.RequestStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// ConditionalUpdate applies upd only when the row still matches cond.
func (r *RequestRepository) ConditionalUpdate(ctx context.Context, id string, cond repository.RequestCondition, upd repository.RequestUpdate) (bool, error) {
	query, args, err := buildConditionalUpdate(id, cond, upd)
	if err != nil {
		return false, err
	}

	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (r *RequestRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Request, error) {
	req, err := scanRequest(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return req, nil
}

// buildConditionalUpdate renders
// UPDATE solicitacoes SET ... WHERE id = $n AND <cond>.
func buildConditionalUpdate(id string, cond repository.RequestCondition, upd repository.RequestUpdate) (string, []any, error) {
	var sets []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if upd.Status != "" {
		sets = append(sets, "status = "+arg(string(upd.Status)))
	}
	if upd.ProviderID != nil {
		sets = append(sets, "prestador_id = "+arg(nullString(*upd.ProviderID)))
	}
	if upd.CancelReason != nil {
		sets = append(sets, "motivo_cancelamento = "+arg(nullString(*upd.CancelReason)))
	}
	if upd.CancelledAt != nil {
		sets = append(sets, "cancelado_em = "+arg(*upd.CancelledAt))
	}
	if upd.TollAmount != nil {
		sets = append(sets, "valor_pedagio = "+arg(*upd.TollAmount))
	}
	if upd.SkatesUsed != nil {
		sets = append(sets, "patins_usado = "+arg(*upd.SkatesUsed))
	}
	if upd.SkatesQty != nil {
		sets = append(sets, "patins_qtd = "+arg(*upd.SkatesQty))
	}
	if upd.SkatesAmount != nil {
		sets = append(sets, "patins_valor = "+arg(*upd.SkatesAmount))
	}
	if upd.FinalAmount != nil {
		sets = append(sets, "valor_final = "+arg(*upd.FinalAmount))
	}
	if upd.CommissionRate != nil {
		sets = append(sets, "taxa_comissao = "+arg(*upd.CommissionRate))
	}
	if upd.CommissionAmount != nil {
		sets = append(sets, "valor_comissao = "+arg(*upd.CommissionAmount))
	}
	if upd.ProblemType != nil {
		sets = append(sets, "problema_reportado = TRUE", "tipo_problema = "+arg(string(*upd.ProblemType)))
	}
	if upd.ProblemDescription != nil {
		sets = append(sets, "descricao_problema = "+arg(nullString(*upd.ProblemDescription)))
	}
	if len(sets) == 0 {
		return "", nil, errors.New("conditional update without columns")
	}
	sets = append(sets, "updated_at = NOW()")

	where := []string{"id = " + arg(id)}
	if len(cond.Statuses) > 0 {
		statuses := make([]string, len(cond.Statuses))
		for i, s := range cond.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status = ANY("+arg(pq.Array(statuses))+")")
	}
	if cond.ProviderUnassigned {
		where = append(where, "prestador_id IS NULL")
	} else if cond.ProviderID != "" {
		where = append(where, "prestador_id = "+arg(cond.ProviderID))
	}
	if cond.ClientID != "" {
		where = append(where, "cliente_id = "+arg(cond.ClientID))
	}

	query := "UPDATE solicitacoes SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ")
	return query, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.Request, error) {
	var req domain.Request
	var (
		clientID, guestName, providerID, agencyID sql.NullString
		destAddress, polyline                     sql.NullString
		destLat, destLng                          sql.NullFloat64
		durationSeconds, etaMinutes               sql.NullInt64
		toll, skatesAmount, finalAmount           sql.NullFloat64
		commissionRate, commissionAmount          sql.NullFloat64
		skatesUsed, problemReported               sql.NullBool
		skatesQty                                 sql.NullInt64
		problemType, problemDescription           sql.NullString
		cancelReason                              sql.NullString
		cancelledAt                               sql.NullTime
	)

	err := row.Scan(
		&req.ID,
		&clientID,
		&guestName,
		&providerID,
		&agencyID,
		&req.OriginAddress,
		&req.Origin.Lat,
		&req.Origin.Lng,
		&destAddress,
		&destLat,
		&destLng,
		&req.DistanceKm,
		&durationSeconds,
		&etaMinutes,
		&polyline,
		&req.Amount,
		&req.Status,
		&toll,
		&skatesUsed,
		&skatesQty,
		&skatesAmount,
		&finalAmount,
		&commissionRate,
		&commissionAmount,
		&problemReported,
		&problemType,
		&problemDescription,
		&cancelReason,
		&cancelledAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.ClientID = clientID.String
	req.GuestName = guestName.String
	req.ProviderID = providerID.String
	req.AgencyID = agencyID.String
	req.DestinationAddress = destAddress.String
	if destLat.Valid && destLng.Valid {
		req.Destination = &domain.Coordinates{Lat: destLat.Float64, Lng: destLng.Float64}
	}
	req.DurationSeconds = int(durationSeconds.Int64)
	req.EtaMinutes = int(etaMinutes.Int64)
	req.Polyline = polyline.String
	req.TollAmount = toll.Float64
	req.SkatesUsed = skatesUsed.Bool
	req.SkatesQty = int(skatesQty.Int64)
	req.SkatesAmount = skatesAmount.Float64
	req.FinalAmount = finalAmount.Float64
	req.CommissionRate = commissionRate.Float64
	req.CommissionAmount = commissionAmount.Float64
	req.ProblemReported = problemReported.Bool
	req.ProblemType = domain.ProblemType(problemType.String)
	req.ProblemDescription = problemDescription.String
	req.CancelReason = cancelReason.String
	if cancelledAt.Valid {
		req.CancelledAt = cancelledAt.Time
	}

	return &req, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure RequestRepository implements the interface.
var _ repository.RequestRepository = (*RequestRepository)(nil)
