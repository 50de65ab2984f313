package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kmarket/settlement/internal/domain"
	"github.com/kmarket/settlement/internal/service"
)

// MarketAdminHandler serves /admin/markets endpoints.
type MarketAdminHandler struct {
	marketSvc     *service.MarketService
	resolutionSvc *service.ResolutionService
}

// NewMarketAdminHandler creates a MarketAdminHandler.
func NewMarketAdminHandler(marketSvc *service.MarketService, resolutionSvc *service.ResolutionService) *MarketAdminHandler {
	return &MarketAdminHandler{marketSvc: marketSvc, resolutionSvc: resolutionSvc}
}

// List godoc
// GET /admin/markets?state=open&limit=20&offset=0
func (h *MarketAdminHandler) List(c *gin.Context) {
	state := c.Query("state")
	limit, offset := adminPagination(c)

	markets, total, err := h.marketSvc.ListMarkets(c.Request.Context(), limit, offset, state)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondList(c, markets, total, limit, offset)
}

// Detail godoc
// GET /admin/markets/:id
func (h *MarketAdminHandler) Detail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid market id")
		return
	}

	market, err := h.marketSvc.GetMarketByID(c.Request.Context(), id)
	if err != nil {
		if domain.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, market)
}

// Expired godoc
// GET /admin/markets/expired
// Open markets whose betting window has elapsed, awaiting explicit resolution.
func (h *MarketAdminHandler) Expired(c *gin.Context) {
	markets, err := h.marketSvc.ListExpiredOpen(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, markets)
}

// Create godoc
// POST /admin/markets
func (h *MarketAdminHandler) Create(c *gin.Context) {
	var body struct {
		MarketAddress string    `json:"market_address" binding:"required"`
		HomeCode      string    `json:"home_code"      binding:"required"`
		AwayCode      string    `json:"away_code"      binding:"required"`
		OddsHomeBps   int64     `json:"odds_home_bps"  binding:"required"`
		OddsAwayBps   int64     `json:"odds_away_bps"  binding:"required"`
		StartTime     time.Time `json:"start_time"     binding:"required"`
		CloseTime     time.Time `json:"close_time"     binding:"required"`
		MaxExposure   int64     `json:"max_exposure"   binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	market, err := h.marketSvc.CreateMarket(c.Request.Context(), domain.CreateMarketRequest{
		MarketAddress: body.MarketAddress,
		HomeCode:      body.HomeCode,
		AwayCode:      body.AwayCode,
		OddsHomeBps:   body.OddsHomeBps,
		OddsAwayBps:   body.OddsAwayBps,
		StartTime:     body.StartTime,
		CloseTime:     body.CloseTime,
		MaxExposure:   body.MaxExposure,
	})
	if err != nil {
		if domain.IsConflict(err) || errors.Is(err, domain.ErrMissingOdds) || errors.Is(err, domain.ErrInvalidAmount) {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusCreated, market)
}

// UpdateOdds godoc
// POST /admin/markets/:id/odds
// Body: {"odds_home_bps":18500,"odds_away_bps":19500,"version":3}
func (h *MarketAdminHandler) UpdateOdds(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid market id")
		return
	}
	var body struct {
		OddsHomeBps int64 `json:"odds_home_bps" binding:"required"`
		OddsAwayBps int64 `json:"odds_away_bps" binding:"required"`
		Version     int64 `json:"version"       binding:"required"`
	}
	if err = c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	err = h.marketSvc.UpdateOdds(c.Request.Context(), id, body.OddsHomeBps, body.OddsAwayBps, body.Version)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrVersionConflict):
			respondError(c, http.StatusConflict, "ERR_VERSION_CONFLICT", err.Error())
		case domain.IsConflict(err):
			respondError(c, http.StatusConflict, "ERR_INVALID_STATE", err.Error())
		case domain.IsNotFound(err):
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		}
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "odds_updated", "market_id": id})
}

// Deactivate godoc
// POST /admin/markets/:id/deactivate
// Body: {"version":3}
func (h *MarketAdminHandler) Deactivate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid market id")
		return
	}
	var body struct {
		Version int64 `json:"version" binding:"required"`
	}
	if err = c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	err = h.marketSvc.DeactivateMarket(c.Request.Context(), id, body.Version)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrVersionConflict):
			respondError(c, http.StatusConflict, "ERR_VERSION_CONFLICT", err.Error())
		case domain.IsConflict(err):
			respondError(c, http.StatusConflict, "ERR_INVALID_STATE", err.Error())
		case domain.IsNotFound(err):
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		}
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deactivated", "market_id": id})
}

// Resolve godoc
// POST /admin/markets/:id/resolve
// Body: {"winner":1}
func (h *MarketAdminHandler) Resolve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid market id")
		return
	}
	var body struct {
		Winner int16 `json:"winner" binding:"required"`
	}
	if err = c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	market, err := h.marketSvc.GetMarketByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", "market not found")
		return
	}

	err = h.resolutionSvc.ResolveMarket(c.Request.Context(), market.MarketAddress, domain.Side(body.Winner))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSide):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_WINNER", err.Error())
		case errors.Is(err, domain.ErrMarketAlreadyResolved):
			respondError(c, http.StatusConflict, "ERR_ALREADY_RESOLVED", err.Error())
		case errors.Is(err, domain.ErrResolutionFailed):
			respondError(c, http.StatusInternalServerError, "ERR_RESOLUTION_FAILED", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		}
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "resolved", "market_id": id, "winner": body.Winner})
}

// Cancel godoc
// POST /admin/markets/:id/cancel
func (h *MarketAdminHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid market id")
		return
	}

	market, err := h.marketSvc.GetMarketByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", "market not found")
		return
	}

	err = h.resolutionSvc.CancelMarket(c.Request.Context(), market.MarketAddress)
	if err != nil {
		if errors.Is(err, domain.ErrMarketAlreadyResolved) {
			respondError(c, http.StatusConflict, "ERR_ALREADY_RESOLVED", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "canceled", "market_id": id})
}
