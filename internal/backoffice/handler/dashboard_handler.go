package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kmarket/settlement/internal/repository"
	"github.com/kmarket/settlement/internal/ws"
)

// DashboardHandler serves the back-office overview endpoint.
type DashboardHandler struct {
	marketRepo   *repository.MarketRepository
	positionRepo *repository.PositionRepository
	syncRepo     *repository.SyncRepository
	hub          *ws.Hub
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(marketRepo *repository.MarketRepository, positionRepo *repository.PositionRepository, syncRepo *repository.SyncRepository, hub *ws.Hub) *DashboardHandler {
	return &DashboardHandler{marketRepo: marketRepo, positionRepo: positionRepo, syncRepo: syncRepo, hub: hub}
}

// Dashboard godoc
// GET /admin/dashboard
// One-shot operational overview: market counts per state, markets whose
// betting window elapsed without resolution, the reconciler watermark and
// dead-letter backlog, and live WS connections.
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := h.marketRepo.CountByState(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}

	expired, err := h.marketRepo.GetExpiredOpen(ctx, time.Now().UTC())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}

	openPositions, err := h.positionRepo.CountPlaced(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}

	watermark, err := h.syncRepo.GetWatermark(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	lastSync, _ := h.syncRepo.LastUpdated(ctx)
	failedCount, _ := h.syncRepo.CountFailed(ctx)

	wsClients := 0
	if h.hub != nil {
		wsClients = h.hub.ConnectedCount()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"markets_by_state":    counts,
		"open_positions":      openPositions,
		"awaiting_resolution": expired,
		"reconciler": gin.H{
			"last_processed_slot": watermark,
			"last_sync_at":        lastSync,
			"failed_events":       failedCount,
		},
		"ws_clients": wsClients,
	})
}
