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

// PositionHandler serves position opening, closing, and ledger queries.
type PositionHandler struct {
	ledgerSvc *service.LedgerService
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(ledgerSvc *service.LedgerService) *PositionHandler {
	return &PositionHandler{ledgerSvc: ledgerSvc}
}

// PlaceOpen godoc
// POST /api/v1/positions
// Body: {"wallet_address":"...","market_address":"...","selected_team":1,
//
//	"amount":100000,"multiplier_bps":20000,"transaction_signature":"..."}
func (h *PositionHandler) PlaceOpen(c *gin.Context) {
	var body struct {
		WalletAddress string  `json:"wallet_address" binding:"required"`
		MarketAddress string  `json:"market_address" binding:"required"`
		SelectedTeam  int16   `json:"selected_team"  binding:"required"`
		Amount        int64   `json:"amount"         binding:"required"`
		MultiplierBps int64   `json:"multiplier_bps" binding:"required"`
		TxSignature   *string `json:"transaction_signature"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	req := domain.PlaceOpenRequest{
		WalletAddress: body.WalletAddress,
		MarketAddress: body.MarketAddress,
		SelectedTeam:  domain.Side(body.SelectedTeam),
		Amount:        body.Amount,
		MultiplierBps: body.MultiplierBps,
		TxSignature:   body.TxSignature,
	}

	result, err := h.ledgerSvc.PlaceOpen(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSide):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_TEAM", err.Error())
		case errors.Is(err, domain.ErrInvalidAmount):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", err.Error())
		case errors.Is(err, domain.ErrInvalidMultiplier):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_MULTIPLIER", err.Error())
		case errors.Is(err, domain.ErrMarketNotFound):
			respondError(c, http.StatusNotFound, "ERR_MARKET_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrMarketClosed):
			respondError(c, http.StatusConflict, "ERR_MARKET_CLOSED", err.Error())
		case errors.Is(err, domain.ErrMissingOdds):
			respondError(c, http.StatusConflict, "ERR_MISSING_ODDS", err.Error())
		case errors.Is(err, domain.ErrExposureExceeded):
			respondError(c, http.StatusConflict, "ERR_EXPOSURE_EXCEEDED", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not open position")
		}
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondSuccess(c, status, result)
}

// PlaceClose godoc
// POST /api/v1/positions/close
// Body: {"position_id":"uuid","wallet_address":"...",
//
//	"close_price_bps":19000,"transaction_signature":"..."}
func (h *PositionHandler) PlaceClose(c *gin.Context) {
	var body struct {
		PositionID    string  `json:"position_id"    binding:"required"`
		WalletAddress string  `json:"wallet_address" binding:"required"`
		ClosePriceBps *int64  `json:"close_price_bps"`
		TxSignature   *string `json:"transaction_signature"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	positionID, err := uuid.Parse(body.PositionID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_POSITION_ID", "invalid position_id format")
		return
	}
	if body.ClosePriceBps != nil && *body.ClosePriceBps <= 0 {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", "close_price_bps must be positive")
		return
	}

	req := domain.PlaceCloseRequest{
		PositionID:    positionID,
		WalletAddress: body.WalletAddress,
		ClosePriceBps: body.ClosePriceBps,
		TxSignature:   body.TxSignature,
	}

	result, err := h.ledgerSvc.PlaceClose(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOpenNotFound):
			respondError(c, http.StatusConflict, "ERR_POSITION_NOT_OPEN", err.Error())
		case errors.Is(err, domain.ErrWalletMismatch):
			respondError(c, http.StatusForbidden, "ERR_WALLET_MISMATCH", err.Error())
		case errors.Is(err, domain.ErrMissingOdds):
			respondError(c, http.StatusConflict, "ERR_MISSING_ODDS", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not close position")
		}
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// Query godoc
// GET /api/v1/positions?wallet=...&market=...&type=OPEN&status=placed&limit=50&offset=0
// At least one of wallet or market must be given; unscoped ledger scans are
// admin-only.
func (h *PositionHandler) Query(c *gin.Context) {
	wallet := c.Query("wallet")
	market := c.Query("market")
	if wallet == "" && market == "" {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "wallet or market query parameter is required")
		return
	}
	limit, offset := parsePagination(c)

	filter := domain.PositionFilter{
		WalletAddress: wallet,
		MarketAddress: market,
		Type:          domain.PositionType(c.Query("type")),
		Status:        domain.PositionStatus(c.Query("status")),
		Limit:         limit,
		Offset:        offset,
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "from must be RFC3339")
			return
		}
		filter.From = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "to must be RFC3339")
			return
		}
		filter.To = &t
	}

	positions, total, err := h.ledgerSvc.QueryPositions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch positions")
		return
	}
	respondList(c, positions, total, limit, offset)
}

// GetByID godoc
// GET /api/v1/positions/:id?wallet=...
func (h *PositionHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_POSITION_ID", "invalid position id")
		return
	}
	wallet := c.Query("wallet")
	if wallet == "" {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "wallet query parameter is required")
		return
	}

	position, err := h.ledgerSvc.GetPosition(c.Request.Context(), id, wallet)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrWalletMismatch):
			respondError(c, http.StatusForbidden, "ERR_WALLET_MISMATCH", "access denied")
		case domain.IsNotFound(err):
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", "position not found")
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch position")
		}
		return
	}
	respondSuccess(c, http.StatusOK, position)
}

// Claim godoc
// POST /api/v1/positions/claim
// Body: {"wallet_address":"...","market_address":"..."}
func (h *PositionHandler) Claim(c *gin.Context) {
	var body struct {
		WalletAddress string `json:"wallet_address" binding:"required"`
		MarketAddress string `json:"market_address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	err := h.ledgerSvc.RecordClaim(c.Request.Context(), body.WalletAddress, body.MarketAddress, time.Now().UTC())
	if err != nil {
		if domain.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "ERR_MARKET_NOT_FOUND", "market not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not record claim")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"claimed": true})
}
