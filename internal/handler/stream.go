package handler

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"towing/internal/config"
	"towing/internal/domain"
	"towing/internal/service"
	"towing/internal/tracking"
)

const streamHeartbeat = 25 * time.Second

// StreamHandler serves the server-sent event streams.
type StreamHandler struct {
	requestService  *service.RequestService
	dispatchService *service.DispatchService
	trackingService *service.TrackingService
	cfg             config.TrackingConfig
	logger          *zap.Logger
	follows         *followViews
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(
	requestService *service.RequestService,
	dispatchService *service.DispatchService,
	trackingService *service.TrackingService,
	cfg config.TrackingConfig,
	logger *zap.Logger,
) *StreamHandler {
	return &StreamHandler{
		requestService:  requestService,
		dispatchService: dispatchService,
		trackingService: trackingService,
		cfg:             cfg,
		logger:          logger,
		follows:         &followViews{views: make(map[string]*tracking.Follow)},
	}
}

// followViews holds the camera-follow state of open tracking streams, keyed
// by viewer and request.
type followViews struct {
	mu    sync.Mutex
	views map[string]*tracking.Follow
}

func followKey(viewerID, requestID string) string {
	return viewerID + ":" + requestID
}

func (v *followViews) open(key string, cooldown time.Duration) *tracking.Follow {
	f := tracking.NewFollow(cooldown)
	v.mu.Lock()
	if prev, ok := v.views[key]; ok {
		prev.Stop()
	}
	v.views[key] = f
	v.mu.Unlock()
	return f
}

func (v *followViews) close(key string, f *tracking.Follow) {
	f.Stop()
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.views[key] == f {
		delete(v.views, key)
	}
}

func (v *followViews) get(key string) (*tracking.Follow, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.views[key]
	return f, ok
}

// TrackFrame is one rendered position of the tracking stream.
type TrackFrame struct {
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	Heading         float64 `json:"heading"`
	HasHeading      bool    `json:"has_heading"`
	EtaMinutes      int     `json:"eta_min,omitempty"`
	RemainingMeters float64 `json:"remaining_m,omitempty"`
	Animating       bool    `json:"animating"`
	Follow          bool    `json:"follow"` // camera should center on this frame
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// Offers handles GET /v1/provider/offers
// Each offer starts the provider's decision window.
func (h *StreamHandler) Offers(c *gin.Context) {
	providerID := actor(c).ID
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	offers := make(chan service.Offer)
	reconciler := h.dispatchService.NewReconciler(providerID)
	go func() {
		err := reconciler.Run(ctx, func(o service.Offer) {
			o.ExpiresAt = h.dispatchService.Offer(providerID, o.Request.ID)
			select {
			case offers <- o:
			case <-ctx.Done():
			}
		})
		if err != nil {
			h.logger.Warn("offer stream ended", zap.String("provider_id", providerID), zap.Error(err))
		}
	}()

	sseHeaders(c)
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case o := <-offers:
			c.SSEvent("offer", gin.H{
				"request":     toRequestResponse(o.Request),
				"directed":    o.Directed,
				"distance_km": o.DistanceKm,
				"expires_at":  o.ExpiresAt.Format(time.RFC3339),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// Events handles GET /v1/requests/:id/events
// The stream ends after the terminal event, which is sent exactly once.
func (h *StreamHandler) Events(c *gin.Context) {
	req, err := h.requestService.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan service.StatusEvent)
	done := make(chan struct{})
	watcher := h.requestService.NewRequestWatcher(req.ID)
	go func() {
		defer close(done)
		_ = watcher.Run(ctx, func(ev service.StatusEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	}()

	sseHeaders(c)
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-events:
			if ev.Terminal != "" {
				c.SSEvent("terminal", gin.H{
					"signal":  ev.Terminal,
					"request": toRequestResponse(ev.Request),
				})
				return false
			}
			c.SSEvent("status", toRequestResponse(ev.Request))
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-done:
			return false
		case <-ctx.Done():
			return false
		}
	})
}

// Track handles GET /v1/requests/:id/track
// Positions are smoothed server-side and sent as frames.
func (h *StreamHandler) Track(c *gin.Context) {
	req, err := h.requestService.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if req.ProviderID == "" || !req.Status.IsActive() {
		respondError(c, service.ErrNoActiveRequest)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	smoother := tracking.NewSmoother(h.cfg.SmoothDuration)
	key := followKey(actor(c).ID, req.ID)
	follow := h.follows.open(key, h.cfg.FollowCooldown)
	defer h.follows.close(key, follow)
	lastFollow := follow.Following()

	var (
		mu     sync.Mutex
		latest domain.Position
		fresh  bool
	)
	go func() {
		_ = h.trackingService.WatchProvider(ctx, req.ProviderID, func(p domain.Position) {
			if p.RequestID != "" && p.RequestID != req.ID {
				return
			}
			smoother.Push(domain.Coordinates{Lat: p.Lat, Lng: p.Lng}, time.Now())
			mu.Lock()
			latest, fresh = p, true
			mu.Unlock()
		})
	}()

	frameInterval := h.cfg.SmoothFrameInterval
	if frameInterval <= 0 {
		frameInterval = 250 * time.Millisecond
	}
	frames := time.NewTicker(frameInterval)
	defer frames.Stop()

	sseHeaders(c)
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case now := <-frames.C:
			mu.Lock()
			p, changed := latest, fresh
			fresh = false
			mu.Unlock()

			animating := smoother.Animating(now)
			following := follow.Following()
			if !changed && !animating && following == lastFollow {
				return true
			}
			lastFollow = following
			pos, ok := smoother.Position(now)
			if !ok {
				return true
			}
			c.SSEvent("position", TrackFrame{
				Lat:             pos.Lat,
				Lng:             pos.Lng,
				Heading:         p.Heading,
				HasHeading:      p.HasHeading,
				EtaMinutes:      p.EtaMinutes,
				RemainingMeters: p.RemainingMeters,
				Animating:       animating,
				Follow:          following,
			})
			return true
		}
	})
}

type trackInteractionRequest struct {
	Action string `json:"action" binding:"required,oneof=start end recenter"`
}

// TrackInteraction handles POST /v1/requests/:id/track/interaction
// The viewer reports manual map interaction; following pauses and resumes
// after the cooldown, or at once on recenter.
func (h *StreamHandler) TrackInteraction(c *gin.Context) {
	var req trackInteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	follow, ok := h.follows.get(followKey(actor(c).ID, c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "tracking stream not open"})
		return
	}

	switch req.Action {
	case "start":
		follow.InteractionStarted()
	case "end":
		follow.InteractionEnded()
	case "recenter":
		follow.Recenter()
	}
	c.JSON(http.StatusOK, gin.H{"follow": follow.Following()})
}
