package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"towing/internal/domain"
	"towing/internal/service"
)

// ProviderHandler handles HTTP requests made by providers and operators.
type ProviderHandler struct {
	dispatchService  *service.DispatchService
	lifecycleService *service.LifecycleService
	trackingService  *service.TrackingService
}

// NewProviderHandler creates a new ProviderHandler.
func NewProviderHandler(
	dispatchService *service.DispatchService,
	lifecycleService *service.LifecycleService,
	trackingService *service.TrackingService,
) *ProviderHandler {
	return &ProviderHandler{
		dispatchService:  dispatchService,
		lifecycleService: lifecycleService,
		trackingService:  trackingService,
	}
}

// SetOnlineRequest is the HTTP request body for switching availability.
type SetOnlineRequest struct {
	Online   bool                `json:"online"`
	Position *domain.Coordinates `json:"position,omitempty"`
}

// PricingRequest is the HTTP request body for the provider price table.
type PricingRequest struct {
	BasePrice    float64 `json:"base_price"`
	PerKm        float64 `json:"per_km"`
	PerMinute    float64 `json:"per_minute"`
	ReturnBase   float64 `json:"return_base"`
	OffersSkates bool    `json:"offers_skates"`
	SkatesPrice  float64 `json:"skates_price"`
}

// PositionRequest is the HTTP request body for a position fix.
type PositionRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	At  string  `json:"at,omitempty"` // RFC3339, defaults to now
}

// AssignRequest is the HTTP request body for directed dispatch.
type AssignRequest struct {
	ProviderID string `json:"provider_id"`
}

// ChecklistRequest is the HTTP request body for a checklist submission.
type ChecklistRequest struct {
	Phase         string                 `json:"phase"`
	FrontPhotoURL string                 `json:"foto_frente_url"`
	RearPhotoURL  string                 `json:"foto_traseira_url"`
	PhotoURLs     []string               `json:"fotos,omitempty"`
	Items         []domain.ChecklistItem `json:"itens"`
	Notes         string                 `json:"observacoes,omitempty"`
	TollAmount    float64                `json:"valor_pedagio,omitempty"`
	SkatesQty     int                    `json:"patins_qtd,omitempty"`
}

// BalanceResponse is the HTTP response for the provider balance.
type BalanceResponse struct {
	ProviderID       string  `json:"provider_id"`
	TotalCommissions float64 `json:"total_commissions"`
	TotalPayments    float64 `json:"total_payments"`
	BalanceDue       float64 `json:"balance_due"`
}

// SetOnline handles POST /v1/provider/online
func (h *ProviderHandler) SetOnline(c *gin.Context) {
	var req SetOnlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.trackingService.SetOnline(c.Request.Context(), actor(c).ID, req.Online, req.Position); err != nil {
		respondError(c, err)
		return
	}

	status := domain.ProviderStatusOffline
	if req.Online {
		status = domain.ProviderStatusOnline
	}
	respondJSON(c, http.StatusOK, gin.H{"status": status})
}

// UpdatePricing handles PUT /v1/provider/pricing
func (h *ProviderHandler) UpdatePricing(c *gin.Context) {
	var req PricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.trackingService.UpdatePricing(c.Request.Context(), actor(c).ID, domain.Pricing{
		BasePrice:    req.BasePrice,
		PerKm:        req.PerKm,
		PerMinute:    req.PerMinute,
		ReturnBase:   req.ReturnBase,
		OffersSkates: req.OffersSkates,
		SkatesPrice:  req.SkatesPrice,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"updated": true})
}

// Balance handles GET /v1/provider/balance
func (h *ProviderHandler) Balance(c *gin.Context) {
	b, err := h.trackingService.Balance(c.Request.Context(), actor(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, BalanceResponse{
		ProviderID:       b.ProviderID,
		TotalCommissions: b.TotalCommissions,
		TotalPayments:    b.TotalPayments,
		BalanceDue:       b.BalanceDue,
	})
}

// Position handles POST /v1/provider/position
func (h *ProviderHandler) Position(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	fix := domain.Fix{Lat: req.Lat, Lng: req.Lng}
	if req.At != "" {
		at, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid timestamp"})
			return
		}
		fix.At = at
	}

	est, err := h.trackingService.IngestFix(c.Request.Context(), actor(c).ID, fix)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, est)
}

// Active handles GET /v1/provider/active
func (h *ProviderHandler) Active(c *gin.Context) {
	req, err := h.lifecycleService.ActiveForProvider(c.Request.Context(), actor(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if req == nil {
		respondJSON(c, http.StatusOK, gin.H{"request": nil})
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"request": toRequestResponse(req)})
}

// Claim handles POST /v1/provider/requests/:id/claim
func (h *ProviderHandler) Claim(c *gin.Context) {
	req, err := h.dispatchService.Claim(c.Request.Context(), actor(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRequestResponse(req))
}

// Accept handles POST /v1/provider/requests/:id/accept
func (h *ProviderHandler) Accept(c *gin.Context) {
	req, err := h.dispatchService.Accept(c.Request.Context(), actor(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRequestResponse(req))
}

// Decline handles POST /v1/provider/requests/:id/decline
func (h *ProviderHandler) Decline(c *gin.Context) {
	req, err := h.dispatchService.Decline(c.Request.Context(), actor(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRequestResponse(req))
}

// Advance handles POST /v1/provider/requests/:id/advance
func (h *ProviderHandler) Advance(c *gin.Context) {
	req, err := h.lifecycleService.Advance(c.Request.Context(), actor(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRequestResponse(req))
}

// ChecklistTemplate handles GET /v1/provider/checklist/:phase
func (h *ProviderHandler) ChecklistTemplate(c *gin.Context) {
	items, err := h.lifecycleService.ChecklistTemplate(c.Request.Context(), domain.ChecklistPhase(c.Param("phase")))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"phase": c.Param("phase"), "itens": items})
}

// SubmitChecklist handles POST /v1/provider/requests/:id/checklist
func (h *ProviderHandler) SubmitChecklist(c *gin.Context) {
	var req ChecklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	updated, err := h.lifecycleService.SubmitChecklist(c.Request.Context(), actor(c).ID, service.ChecklistInput{
		RequestID:     c.Param("id"),
		Phase:         domain.ChecklistPhase(req.Phase),
		FrontPhotoURL: req.FrontPhotoURL,
		RearPhotoURL:  req.RearPhotoURL,
		PhotoURLs:     req.PhotoURLs,
		Items:         req.Items,
		Notes:         req.Notes,
		TollAmount:    req.TollAmount,
		SkatesQty:     req.SkatesQty,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRequestResponse(updated))
}

// RecoverChecklist handles POST /v1/provider/requests/:id/checklist/:phase/recover
func (h *ProviderHandler) RecoverChecklist(c *gin.Context) {
	updated, err := h.lifecycleService.RecoverGatedTransition(c.Request.Context(), actor(c).ID,
		c.Param("id"), domain.ChecklistPhase(c.Param("phase")))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRequestResponse(updated))
}

// Assign handles POST /v1/requests/:id/assign
func (h *ProviderHandler) Assign(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	updated, err := h.dispatchService.AssignDirected(c.Request.Context(), actor(c), c.Param("id"), req.ProviderID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRequestResponse(updated))
}

// Nearby handles GET /v1/providers/nearby?lat=&lng=&radius_km=
func (h *ProviderHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat and lng are required"})
		return
	}
	radius, _ := strconv.ParseFloat(c.DefaultQuery("radius_km", "0"), 64)

	nearby, err := h.dispatchService.NearbyProviders(c.Request.Context(), lat, lng, radius)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"providers": nearby, "count": len(nearby)})
}
