package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"go.uber.org/zap"

	"towing/internal/domain"
	"towing/internal/handler"
	"towing/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RequestHandler  *handler.RequestHandler
	ProviderHandler *handler.ProviderHandler
	StreamHandler   *handler.StreamHandler
	Idempotency     middleware.IdempotencyStore
	NewRelicApp     *newrelic.Application
	Logger          *zap.Logger
	JWTSecret       string
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.CORSMiddleware())

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	client := middleware.RequireRole(domain.RoleClient)
	provider := middleware.RequireRole(domain.RoleProvider)
	operator := middleware.RequireRole(domain.RoleOperator)

	v1 := router.Group("/v1")
	v1.Use(middleware.Authenticate(deps.JWTSecret))
	v1.Use(middleware.NewRelicActorAttributes())
	v1.Use(middleware.Idempotency(deps.Idempotency, deps.Logger))
	{
		v1.POST("/quotes", client, deps.RequestHandler.Quote)

		// Request routes.
		requests := v1.Group("/requests")
		{
			requests.POST("", middleware.RequireRole(domain.RoleClient, domain.RoleOperator), deps.RequestHandler.Create)
			requests.GET("/active", client, deps.RequestHandler.Active)
			requests.GET("/:id", deps.RequestHandler.Get)
			requests.GET("/:id/summary", deps.RequestHandler.Summary)
			requests.GET("/:id/events", deps.StreamHandler.Events)
			requests.GET("/:id/track", deps.StreamHandler.Track)
			requests.POST("/:id/track/interaction", deps.StreamHandler.TrackInteraction)
			requests.POST("/:id/cancel", middleware.RequireRole(domain.RoleClient, domain.RoleOperator), deps.RequestHandler.Cancel)
			requests.POST("/:id/problem", client, deps.RequestHandler.ReportProblem)
			requests.GET("/:id/messages/unread", deps.RequestHandler.UnreadCount)
			requests.POST("/:id/messages/read", deps.RequestHandler.MarkRead)
			requests.POST("/:id/assign", operator, deps.ProviderHandler.Assign)
		}

		v1.GET("/providers/nearby", operator, deps.ProviderHandler.Nearby)

		// Provider self-service routes.
		me := v1.Group("/provider", provider)
		{
			me.POST("/online", deps.ProviderHandler.SetOnline)
			me.PUT("/pricing", deps.ProviderHandler.UpdatePricing)
			me.GET("/balance", deps.ProviderHandler.Balance)
			me.POST("/position", deps.ProviderHandler.Position)
			me.GET("/active", deps.ProviderHandler.Active)
			me.GET("/offers", deps.StreamHandler.Offers)
			me.GET("/checklist/:phase", deps.ProviderHandler.ChecklistTemplate)
			me.POST("/requests/:id/claim", deps.ProviderHandler.Claim)
			me.POST("/requests/:id/accept", deps.ProviderHandler.Accept)
			me.POST("/requests/:id/decline", deps.ProviderHandler.Decline)
			me.POST("/requests/:id/advance", deps.ProviderHandler.Advance)
			me.POST("/requests/:id/checklist", deps.ProviderHandler.SubmitChecklist)
			me.POST("/requests/:id/checklist/:phase/recover", deps.ProviderHandler.RecoverChecklist)
		}
	}

	return router
}
