package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"towing/internal/domain"
	"towing/internal/service"
)

// RequestHandler handles HTTP requests for towing requests on the client side.
type RequestHandler struct {
	requestService *service.RequestService
}

// NewRequestHandler creates a new RequestHandler.
func NewRequestHandler(requestService *service.RequestService) *RequestHandler {
	return &RequestHandler{requestService: requestService}
}

// QuoteRequest is the HTTP request body for a price preview.
type QuoteRequest struct {
	Origin      domain.Coordinates  `json:"origin"`
	Destination *domain.Coordinates `json:"destination"`
}

// QuoteResponse is the HTTP response for a price preview.
type QuoteResponse struct {
	DistanceKm      float64  `json:"distance_km"`
	DurationSeconds float64  `json:"duration_seconds"`
	EtaMinutes      int      `json:"eta_min"`
	Amount          *float64 `json:"amount"` // null when the pricing function gave none
	Polyline        string   `json:"polyline,omitempty"`
	AgencyID        string   `json:"agency_id,omitempty"`
}

// CreateRequestRequest is the HTTP request body for creating a request.
type CreateRequestRequest struct {
	ClientID           string              `json:"client_id,omitempty"` // operators only
	GuestName          string              `json:"guest_name,omitempty"`
	OriginAddress      string              `json:"origin_address"`
	Origin             domain.Coordinates  `json:"origin"`
	DestinationAddress string              `json:"destination_address"`
	Destination        *domain.Coordinates `json:"destination"`
}

// CancelRequestRequest is the HTTP request body for cancelling a request.
type CancelRequestRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ReportProblemRequest is the HTTP request body for reporting a problem.
type ReportProblemRequest struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// RequestResponse is the HTTP response for a request.
type RequestResponse struct {
	ID                 string              `json:"id"`
	ClientID           string              `json:"client_id,omitempty"`
	GuestName          string              `json:"guest_name,omitempty"`
	ProviderID         string              `json:"provider_id,omitempty"`
	AgencyID           string              `json:"agency_id,omitempty"`
	OriginAddress      string              `json:"origin_address,omitempty"`
	Origin             domain.Coordinates  `json:"origin"`
	DestinationAddress string              `json:"destination_address,omitempty"`
	Destination        *domain.Coordinates `json:"destination"`
	DistanceKm         float64             `json:"distance_km"`
	DurationSeconds    int                 `json:"duration_seconds"`
	EtaMinutes         int                 `json:"eta_min"`
	Polyline           string              `json:"polyline,omitempty"`
	Amount             float64             `json:"amount"`
	Covered            bool                `json:"covered"`
	Status             string              `json:"status"`
	TollAmount         float64             `json:"toll_amount,omitempty"`
	SkatesQty          int                 `json:"skates_qty,omitempty"`
	SkatesAmount       float64             `json:"skates_amount,omitempty"`
	FinalAmount        float64             `json:"final_amount,omitempty"`
	ProblemReported    bool                `json:"problem_reported"`
	ProblemType        string              `json:"problem_type,omitempty"`
	CancelReason       string              `json:"cancel_reason,omitempty"`
	CancelledAt        string              `json:"cancelled_at,omitempty"`
	CreatedAt          string              `json:"created_at"`
	UpdatedAt          string              `json:"updated_at"`
}

func toRequestResponse(req *domain.Request) RequestResponse {
	resp := RequestResponse{
		ID:                 req.ID,
		ClientID:           req.ClientID,
		GuestName:          req.GuestName,
		ProviderID:         req.ProviderID,
		AgencyID:           req.AgencyID,
		OriginAddress:      req.OriginAddress,
		Origin:             req.Origin,
		DestinationAddress: req.DestinationAddress,
		Destination:        req.Destination,
		DistanceKm:         req.DistanceKm,
		DurationSeconds:    req.DurationSeconds,
		EtaMinutes:         req.EtaMinutes,
		Polyline:           req.Polyline,
		Amount:             req.Amount,
		Covered:            req.IsCovered(),
		Status:             string(req.Status),
		TollAmount:         req.TollAmount,
		SkatesQty:          req.SkatesQty,
		SkatesAmount:       req.SkatesAmount,
		FinalAmount:        req.FinalAmount,
		ProblemReported:    req.ProblemReported,
		ProblemType:        string(req.ProblemType),
		CancelReason:       req.CancelReason,
		CreatedAt:          req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          req.UpdatedAt.Format(time.RFC3339),
	}
	if !req.CancelledAt.IsZero() {
		resp.CancelledAt = req.CancelledAt.Format(time.RFC3339)
	}
	return resp
}

// Quote handles POST /v1/quotes
func (h *RequestHandler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	q, err := h.requestService.Quote(c.Request.Context(), req.Origin, req.Destination)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := QuoteResponse{
		DistanceKm:      q.DistanceKm,
		DurationSeconds: q.DurationSeconds,
		EtaMinutes:      q.EtaMinutes,
		Polyline:        q.Polyline,
		AgencyID:        q.AgencyID,
	}
	if !q.AmountMissing {
		resp.Amount = &q.Amount
	}
	respondJSON(c, http.StatusOK, resp)
}

// Create handles POST /v1/requests
func (h *RequestHandler) Create(c *gin.Context) {
	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	created, err := h.requestService.Create(c.Request.Context(), actor(c), service.CreateRequestInput{
		ClientID:           req.ClientID,
		GuestName:          req.GuestName,
		OriginAddress:      req.OriginAddress,
		Origin:             req.Origin,
		DestinationAddress: req.DestinationAddress,
		Destination:        req.Destination,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toRequestResponse(created))
}

// Active handles GET /v1/requests/active
func (h *RequestHandler) Active(c *gin.Context) {
	req, err := h.requestService.ActiveForClient(c.Request.Context(), actor(c).ID)
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

// Get handles GET /v1/requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	req, err := h.requestService.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRequestResponse(req))
}

// Summary handles GET /v1/requests/:id/summary
func (h *RequestHandler) Summary(c *gin.Context) {
	summary, err := h.requestService.Summary(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, summary)
}

// Cancel handles POST /v1/requests/:id/cancel
func (h *RequestHandler) Cancel(c *gin.Context) {
	var req CancelRequestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	cancelled, err := h.requestService.Cancel(c.Request.Context(), actor(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRequestResponse(cancelled))
}

// ReportProblem handles POST /v1/requests/:id/problem
func (h *RequestHandler) ReportProblem(c *gin.Context) {
	var req ReportProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	updated, err := h.requestService.ReportProblem(c.Request.Context(), actor(c), c.Param("id"),
		domain.ProblemType(req.Type), req.Description)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRequestResponse(updated))
}

// UnreadCount handles GET /v1/requests/:id/messages/unread
func (h *RequestHandler) UnreadCount(c *gin.Context) {
	count, err := h.requestService.UnreadCount(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"unread": count})
}

// MarkRead handles POST /v1/requests/:id/messages/read
func (h *RequestHandler) MarkRead(c *gin.Context) {
	n, err := h.requestService.MarkRead(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"marked": n})
}
