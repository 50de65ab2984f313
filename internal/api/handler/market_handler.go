package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kmarket/settlement/internal/domain"
	"github.com/kmarket/settlement/internal/service"
)

// MarketHandler serves public, read-only market endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// List godoc
// GET /api/v1/markets?state=open&limit=50&offset=0
func (h *MarketHandler) List(c *gin.Context) {
	limit, offset := parsePagination(c)
	state := c.Query("state")

	markets, total, err := h.marketSvc.ListMarkets(c.Request.Context(), limit, offset, state)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch markets")
		return
	}

	summaries := make([]domain.MarketSummary, 0, len(markets))
	for _, m := range markets {
		summaries = append(summaries, m.ToSummary())
	}
	respondList(c, summaries, total, limit, offset)
}

// GetByAddress godoc
// GET /api/v1/markets/:address
func (h *MarketHandler) GetByAddress(c *gin.Context) {
	address := c.Param("address")

	market, err := h.marketSvc.GetMarket(c.Request.Context(), address)
	if err != nil {
		if domain.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "ERR_MARKET_NOT_FOUND", "market not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch market")
		return
	}
	respondSuccess(c, http.StatusOK, market.ToSummary())
}
