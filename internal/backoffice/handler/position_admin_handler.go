package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kmarket/settlement/internal/domain"
	"github.com/kmarket/settlement/internal/repository"
)

// PositionAdminHandler serves the back-office ledger listing. Unlike the
// public endpoint it allows unscoped queries across all wallets and markets.
type PositionAdminHandler struct {
	positionRepo *repository.PositionRepository
}

// NewPositionAdminHandler creates a PositionAdminHandler.
func NewPositionAdminHandler(positionRepo *repository.PositionRepository) *PositionAdminHandler {
	return &PositionAdminHandler{positionRepo: positionRepo}
}

// List godoc
// GET /admin/positions?wallet=...&market=...&type=OPEN&status=placed&limit=20&offset=0
func (h *PositionAdminHandler) List(c *gin.Context) {
	limit, offset := adminPagination(c)

	filter := domain.PositionFilter{
		WalletAddress: c.Query("wallet"),
		MarketAddress: c.Query("market"),
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

	positions, total, err := h.positionRepo.Query(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondList(c, positions, total, limit, offset)
}
