// Package reconciler replays on-chain program events into the position
// ledger. It polls the event gateway on a fixed interval, advances a durable
// slot watermark, and dead-letters events whose replay fails so they can be
// retried explicitly.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kmarket/settlement/internal/domain"
	"github.com/kmarket/settlement/internal/metrics"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dependencies — narrow interfaces so tests can use in-memory fakes
// ──────────────────────────────────────────────────────────────────────────────

// Ledger is the slice of LedgerService the reconciler needs.
type Ledger interface {
	PlaceOpen(ctx context.Context, req domain.PlaceOpenRequest) (*domain.PlaceOpenResult, error)
	CloseByWallet(ctx context.Context, wallet, marketAddress string, closePriceBps *int64, signature *string) (*domain.PlaceCloseResult, error)
	RecordClaim(ctx context.Context, wallet, marketAddress string, at time.Time) error
}

// Resolver is the slice of ResolutionService the reconciler needs.
type Resolver interface {
	ResolveMarket(ctx context.Context, marketAddress string, winner domain.Side) error
}

// SyncStore persists the watermark and the dead-letter table.
type SyncStore interface {
	GetWatermark(ctx context.Context) (uint64, error)
	SetWatermark(ctx context.Context, slot uint64) error
	RecordFailedEvent(ctx context.Context, ev domain.ChainEvent, replayErr error) error
	ListFailedEvents(ctx context.Context, limit int) ([]*domain.FailedEvent, error)
	GetFailedEvent(ctx context.Context, id uuid.UUID) (*domain.FailedEvent, error)
	DeleteFailedEvent(ctx context.Context, id uuid.UUID) error
	IncrementRetry(ctx context.Context, id uuid.UUID, retryErr error) error
}

// Options tune the polling loop.
type Options struct {
	PollInterval  time.Duration // default 5s
	BatchSlots    uint64        // max slots per poll, default 100
	ReplayTimeout time.Duration // per-event budget, default 5s
}

// ──────────────────────────────────────────────────────────────────────────────
// Reconciler
// ──────────────────────────────────────────────────────────────────────────────

// Reconciler drives the poll loop. Replay is idempotent end to end: the
// ledger's signature guard and the resolution state machine absorb redelivery
// after a crash between batch replay and watermark commit.
type Reconciler struct {
	source   EventSource
	ledger   Ledger
	resolver Resolver
	store    SyncStore
	opts     Options
	log      *slog.Logger

	// polling guards a poll already in flight; a slow batch makes the next
	// tick skip rather than stack.
	polling atomic.Bool
}

// New creates a Reconciler. Zero-value Options fields fall back to defaults.
func New(source EventSource, ledger Ledger, resolver Resolver, store SyncStore, opts Options, log *slog.Logger) *Reconciler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BatchSlots == 0 {
		opts.BatchSlots = 100
	}
	if opts.ReplayTimeout <= 0 {
		opts.ReplayTimeout = 5 * time.Second
	}
	return &Reconciler{
		source:   source,
		ledger:   ledger,
		resolver: resolver,
		store:    store,
		opts:     opts,
		log:      log.With("component", "reconciler"),
	}
}

// Run polls until ctx is cancelled. Call it once as a goroutine.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	r.tryPoll(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.tryPoll(ctx)
		}
	}
}

// tryPoll runs one poll unless a previous one is still in flight.
func (r *Reconciler) tryPoll(ctx context.Context) {
	if !r.polling.CompareAndSwap(false, true) {
		r.log.Debug("previous poll still running, skipping tick")
		return
	}
	defer r.polling.Store(false)

	if err := r.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Error("poll failed", "error", err)
	}
}

// Poll processes at most one batch of slots past the watermark. Exported so
// tests can drive the loop deterministically.
func (r *Reconciler) Poll(ctx context.Context) error {
	watermark, err := r.store.GetWatermark(ctx)
	if err != nil {
		return fmt.Errorf("reconciler.Poll: watermark: %w", err)
	}

	head, err := r.source.CurrentSlot(ctx)
	if err != nil {
		return fmt.Errorf("reconciler.Poll: current slot: %w", err)
	}

	// First run: start just behind the head instead of replaying history.
	if watermark == 0 {
		if head > r.opts.BatchSlots {
			watermark = head - r.opts.BatchSlots
		}
	}
	if watermark >= head {
		return nil // nothing new
	}

	from := watermark + 1
	to := from + r.opts.BatchSlots - 1
	if to > head {
		to = head
	}

	events, err := r.source.FetchEvents(ctx, from, to)
	if err != nil {
		return fmt.Errorf("reconciler.Poll: fetch [%d,%d]: %w", from, to, err)
	}

	for _, ev := range events {
		r.replayWithTimeout(ctx, ev)
	}

	if err := r.store.SetWatermark(ctx, to); err != nil {
		return fmt.Errorf("reconciler.Poll: advance watermark: %w", err)
	}
	metrics.LastProcessedSlot.Set(float64(to))

	if len(events) > 0 {
		r.log.Info("batch processed", "from", from, "to", to, "events", len(events))
	}
	return nil
}

// replayWithTimeout applies one event under the per-event budget; failures
// are dead-lettered and do not stop the batch.
func (r *Reconciler) replayWithTimeout(ctx context.Context, ev domain.ChainEvent) {
	evCtx, cancel := context.WithTimeout(ctx, r.opts.ReplayTimeout)
	defer cancel()

	if err := r.Replay(evCtx, ev); err != nil {
		metrics.EventsFailed.WithLabelValues(string(ev.Kind)).Inc()
		r.log.Warn("event replay failed",
			"kind", ev.Kind, "signature", ev.Signature, "slot", ev.Slot, "error", err)
		if recErr := r.store.RecordFailedEvent(ctx, ev, err); recErr != nil {
			r.log.Error("could not record failed event", "signature", ev.Signature, "error", recErr)
		}
		return
	}
	metrics.EventsProcessed.WithLabelValues(string(ev.Kind)).Inc()
}

// Replay applies a single chain event to the ledger. Already-applied events
// come back as no-ops: the signature guard reports duplicates, a close on an
// already-closed position reports ErrOpenNotFound, and resolving a resolved
// market reports ErrMarketAlreadyResolved. None of those are failures.
func (r *Reconciler) Replay(ctx context.Context, ev domain.ChainEvent) error {
	sig := ev.Signature

	switch ev.Kind {
	case domain.EventBetPlaced:
		_, err := r.ledger.PlaceOpen(ctx, domain.PlaceOpenRequest{
			WalletAddress: ev.Wallet,
			MarketAddress: ev.MarketAddress,
			SelectedTeam:  ev.Team,
			Amount:        ev.Amount,
			MultiplierBps: ev.MultiplierBps,
			TxSignature:   &sig,
		})
		return err

	case domain.EventBetClosed:
		price := ev.ClosePriceBps
		var pricePtr *int64
		if price > 0 {
			pricePtr = &price
		}
		_, err := r.ledger.CloseByWallet(ctx, ev.Wallet, ev.MarketAddress, pricePtr, &sig)
		if errors.Is(err, domain.ErrOpenNotFound) {
			return nil // already closed; redelivery
		}
		return err

	case domain.EventBetClaimed:
		return r.ledger.RecordClaim(ctx, ev.Wallet, ev.MarketAddress, time.Now().UTC())

	case domain.EventMarketResolved:
		err := r.resolver.ResolveMarket(ctx, ev.MarketAddress, ev.Result)
		if errors.Is(err, domain.ErrMarketAlreadyResolved) {
			return nil // redelivery
		}
		return err
	}

	return fmt.Errorf("unknown event kind %q", ev.Kind)
}

// ──────────────────────────────────────────────────────────────────────────────
// Dead-letter retries
// ──────────────────────────────────────────────────────────────────────────────

// RetryFailed re-replays the dead-letter backlog, oldest first. Successful
// events are removed; failures bump their retry counter. Called by the cron
// runner and the back-office retry endpoint.
func (r *Reconciler) RetryFailed(ctx context.Context, limit int) (retried, failed int, err error) {
	if limit <= 0 {
		limit = 100
	}
	backlog, err := r.store.ListFailedEvents(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("reconciler.RetryFailed: %w", err)
	}

	for _, fe := range backlog {
		if err := r.retryOne(ctx, fe); err != nil {
			failed++
			continue
		}
		retried++
	}
	if retried > 0 || failed > 0 {
		r.log.Info("dead-letter retry pass", "retried", retried, "failed", failed)
	}
	return retried, failed, nil
}

// RetryByID retries a single dead-letter row.
func (r *Reconciler) RetryByID(ctx context.Context, id uuid.UUID) error {
	fe, err := r.store.GetFailedEvent(ctx, id)
	if err != nil {
		return err
	}
	return r.retryOne(ctx, fe)
}

func (r *Reconciler) retryOne(ctx context.Context, fe *domain.FailedEvent) error {
	var ev domain.ChainEvent
	if err := json.Unmarshal(fe.Payload, &ev); err != nil {
		// Unparseable payloads can never succeed; drop them.
		r.log.Error("dropping unparseable dead-letter row", "id", fe.ID, "error", err)
		return r.store.DeleteFailedEvent(ctx, fe.ID)
	}

	evCtx, cancel := context.WithTimeout(ctx, r.opts.ReplayTimeout)
	defer cancel()

	if err := r.Replay(evCtx, ev); err != nil {
		if incErr := r.store.IncrementRetry(ctx, fe.ID, err); incErr != nil {
			r.log.Error("could not bump retry count", "id", fe.ID, "error", incErr)
		}
		return err
	}

	metrics.EventsProcessed.WithLabelValues(string(ev.Kind)).Inc()
	return r.store.DeleteFailedEvent(ctx, fe.ID)
}
