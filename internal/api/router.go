package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kmarket/settlement/internal/api/handler"
	"github.com/kmarket/settlement/internal/api/middleware"
	"github.com/kmarket/settlement/internal/config"
	"github.com/kmarket/settlement/internal/metrics"
	"github.com/kmarket/settlement/internal/service"
	"github.com/kmarket/settlement/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	LedgerSvc *service.LedgerService
	MarketSvc *service.MarketService
	Hub       *ws.Hub
	Cfg       *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Prometheus metrics ───────────────────────────────────────────────────
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ── Handlers ─────────────────────────────────────────────────────────────
	positionH := handler.NewPositionHandler(deps.LedgerSvc)
	marketH := handler.NewMarketHandler(deps.MarketSvc)

	// ── Rate limiter for ledger writes ───────────────────────────────────────
	writeRL := middleware.RateLimitMiddleware(deps.Cfg.Server.RateLimitPerMinute)

	v1 := r.Group("/api/v1")
	{
		// ── Markets (public, read-only) ──────────────────────────────────────
		markets := v1.Group("/markets")
		{
			markets.GET("", marketH.List)
			markets.GET("/:address", marketH.GetByAddress)
		}

		// ── Positions ────────────────────────────────────────────────────────
		positions := v1.Group("/positions")
		{
			positions.GET("", positionH.Query)
			positions.GET("/:id", positionH.GetByID)

			writes := positions.Group("")
			writes.Use(writeRL)
			{
				writes.POST("", positionH.PlaceOpen)
				writes.POST("/close", positionH.PlaceClose)
				writes.POST("/claim", positionH.Claim)
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In development all origins are allowed; in production only configured ones.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if cfg.Server.Env != "production" || len(allowed) == 0 {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && (allowed["*"] || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
