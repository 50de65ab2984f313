package backoffice

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kmarket/settlement/internal/backoffice/handler"
	"github.com/kmarket/settlement/internal/config"
	"github.com/kmarket/settlement/internal/reconciler"
	"github.com/kmarket/settlement/internal/repository"
	"github.com/kmarket/settlement/internal/service"
	"github.com/kmarket/settlement/internal/ws"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc       *service.AuthService
	MarketSvc     *service.MarketService
	ResolutionSvc *service.ResolutionService
	MarketRepo    *repository.MarketRepository
	PositionRepo  *repository.PositionRepository
	SyncRepo      *repository.SyncRepository
	Reconciler    *reconciler.Reconciler
	Hub           *ws.Hub
	Cfg           *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine, usually on port 8081.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	authH := handler.NewAuthHandler(deps.AuthSvc)
	marketH := handler.NewMarketAdminHandler(deps.MarketSvc, deps.ResolutionSvc)
	positionH := handler.NewPositionAdminHandler(deps.PositionRepo)
	eventH := handler.NewEventAdminHandler(deps.SyncRepo, deps.Reconciler)
	dashH := handler.NewDashboardHandler(deps.MarketRepo, deps.PositionRepo, deps.SyncRepo, deps.Hub)

	// Login is the only unauthenticated admin route.
	r.POST("/admin/login", authH.Login)
	r.POST("/admin/refresh", authH.Refresh)

	jwtMW := adminJWTMiddleware(deps.AuthSvc)

	admin := r.Group("/admin")
	admin.Use(jwtMW)
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Markets
		m := admin.Group("/markets")
		{
			m.GET("", marketH.List)
			m.POST("", marketH.Create)
			m.GET("/expired", marketH.Expired)
			m.GET("/:id", marketH.Detail)
			m.POST("/:id/odds", marketH.UpdateOdds)
			m.POST("/:id/deactivate", marketH.Deactivate)
			m.POST("/:id/resolve", marketH.Resolve)
			m.POST("/:id/cancel", marketH.Cancel)
		}

		// Ledger
		admin.GET("/positions", positionH.List)

		// Reconciler dead letters
		ev := admin.Group("/events")
		{
			ev.GET("/failed", eventH.ListFailed)
			ev.POST("/retry", eventH.RetryAll)
			ev.POST("/:id/retry", eventH.RetryOne)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !allowed[clientIP] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "access denied: your IP is not whitelisted",
			})
			return
		}
		c.Next()
	}
}

// ── Admin JWT middleware ──────────────────────────────────────────────────────

// adminJWTMiddleware validates a JWT and requires a back-office role.
func adminJWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil || claims.TokenType != "access" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		backofficeRoles := map[string]bool{
			"admin":    true,
			"operator": true,
		}
		if !backofficeRoles[claims.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}

		c.Set("adminID", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}
