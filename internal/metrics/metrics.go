// Package metrics provides Prometheus instrumentation for the settlement
// service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PositionsOpened counts OPEN ledger rows appended.
	PositionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kmarket_positions_opened_total",
		Help: "Total positions opened",
	})

	// PositionsClosed counts user-initiated early closes.
	PositionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kmarket_positions_closed_total",
		Help: "Total positions closed early",
	})

	// DuplicateSignatures counts writes short-circuited by the idempotency
	// guard.
	DuplicateSignatures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kmarket_duplicate_signatures_total",
		Help: "Ledger writes deduplicated by transaction signature",
	})

	// MarketsResolved counts completed resolution sweeps.
	MarketsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kmarket_markets_resolved_total",
		Help: "Total markets resolved",
	})

	// EventsProcessed counts chain events replayed, partitioned by kind.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kmarket_events_processed_total",
		Help: "Total chain events replayed into the ledger",
	}, []string{"kind"})

	// EventsFailed counts chain events whose replay errored.
	EventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kmarket_events_failed_total",
		Help: "Total chain events that failed replay",
	}, []string{"kind"})

	// LastProcessedSlot exports the reconciler watermark.
	LastProcessedSlot = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kmarket_last_processed_slot",
		Help: "Reconciler watermark: last fully processed slot",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kmarket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
