package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kmarket/settlement/internal/reconciler"
	"github.com/kmarket/settlement/internal/repository"
)

// EventAdminHandler serves the reconciler's dead-letter endpoints.
type EventAdminHandler struct {
	syncRepo *repository.SyncRepository
	rec      *reconciler.Reconciler
}

// NewEventAdminHandler creates an EventAdminHandler.
func NewEventAdminHandler(syncRepo *repository.SyncRepository, rec *reconciler.Reconciler) *EventAdminHandler {
	return &EventAdminHandler{syncRepo: syncRepo, rec: rec}
}

// ListFailed godoc
// GET /admin/events/failed?limit=100
func (h *EventAdminHandler) ListFailed(c *gin.Context) {
	limit, _ := adminPagination(c)

	events, err := h.syncRepo.ListFailedEvents(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, events)
}

// RetryAll godoc
// POST /admin/events/retry
// Re-replays the whole dead-letter backlog.
func (h *EventAdminHandler) RetryAll(c *gin.Context) {
	retried, failed, err := h.rec.RetryFailed(c.Request.Context(), 0)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"retried": retried, "failed": failed})
}

// RetryOne godoc
// POST /admin/events/:id/retry
func (h *EventAdminHandler) RetryOne(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid event id")
		return
	}

	if err := h.rec.RetryByID(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusConflict, "ERR_RETRY_FAILED", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "replayed", "event_id": id})
}
