package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kmarket/settlement/internal/domain"
)

// ── In-memory fakes ───────────────────────────────────────────────────────────

type fakeSource struct {
	head   uint64
	events map[uint64][]domain.ChainEvent // keyed by slot
	calls  [][2]uint64                    // recorded [from, to] ranges
}

func (f *fakeSource) CurrentSlot(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeSource) FetchEvents(ctx context.Context, from, to uint64) ([]domain.ChainEvent, error) {
	f.calls = append(f.calls, [2]uint64{from, to})
	var out []domain.ChainEvent
	for slot := from; slot <= to; slot++ {
		out = append(out, f.events[slot]...)
	}
	return out, nil
}

type fakeLedger struct {
	opened  []domain.PlaceOpenRequest
	closed  []string // wallets
	claimed []string
	openErr error
}

func (f *fakeLedger) PlaceOpen(ctx context.Context, req domain.PlaceOpenRequest) (*domain.PlaceOpenResult, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened = append(f.opened, req)
	return &domain.PlaceOpenResult{PositionID: uuid.New()}, nil
}

func (f *fakeLedger) CloseByWallet(ctx context.Context, wallet, marketAddress string, closePriceBps *int64, signature *string) (*domain.PlaceCloseResult, error) {
	f.closed = append(f.closed, wallet)
	return &domain.PlaceCloseResult{}, nil
}

func (f *fakeLedger) RecordClaim(ctx context.Context, wallet, marketAddress string, at time.Time) error {
	f.claimed = append(f.claimed, wallet)
	return nil
}

type fakeResolver struct {
	resolved   []string
	resolveErr error
}

func (f *fakeResolver) ResolveMarket(ctx context.Context, marketAddress string, winner domain.Side) error {
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, marketAddress)
	return nil
}

type fakeStore struct {
	watermark uint64
	failed    map[uuid.UUID]*domain.FailedEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{failed: make(map[uuid.UUID]*domain.FailedEvent)}
}

func (f *fakeStore) GetWatermark(ctx context.Context) (uint64, error) { return f.watermark, nil }

func (f *fakeStore) SetWatermark(ctx context.Context, slot uint64) error {
	f.watermark = slot
	return nil
}

func (f *fakeStore) RecordFailedEvent(ctx context.Context, ev domain.ChainEvent, replayErr error) error {
	payload, _ := json.Marshal(ev)
	id := uuid.New()
	f.failed[id] = &domain.FailedEvent{
		ID:        id,
		Kind:      ev.Kind,
		Signature: ev.Signature,
		Slot:      ev.Slot,
		Payload:   payload,
		Error:     replayErr.Error(),
	}
	return nil
}

func (f *fakeStore) ListFailedEvents(ctx context.Context, limit int) ([]*domain.FailedEvent, error) {
	var out []*domain.FailedEvent
	for _, fe := range f.failed {
		out = append(out, fe)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetFailedEvent(ctx context.Context, id uuid.UUID) (*domain.FailedEvent, error) {
	fe, ok := f.failed[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return fe, nil
}

func (f *fakeStore) DeleteFailedEvent(ctx context.Context, id uuid.UUID) error {
	delete(f.failed, id)
	return nil
}

func (f *fakeStore) IncrementRetry(ctx context.Context, id uuid.UUID, retryErr error) error {
	if fe, ok := f.failed[id]; ok {
		fe.RetryCount++
		fe.Error = retryErr.Error()
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestReconciler(src *fakeSource, led *fakeLedger, res *fakeResolver, st *fakeStore) *Reconciler {
	return New(src, led, res, st, Options{BatchSlots: 10}, testLogger())
}

// ── Poll ──────────────────────────────────────────────────────────────────────

func TestPoll_AdvancesWatermark(t *testing.T) {
	src := &fakeSource{head: 105, events: map[uint64][]domain.ChainEvent{
		101: {{Kind: domain.EventBetPlaced, Signature: "sig-1", Slot: 101,
			Wallet: "w1", MarketAddress: "mkt", Team: domain.SideHome,
			Amount: 100_000, MultiplierBps: 20_000}},
	}}
	led := &fakeLedger{}
	st := newFakeStore()
	st.watermark = 100
	r := newTestReconciler(src, led, &fakeResolver{}, st)

	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.watermark != 105 {
		t.Errorf("watermark = %d, want 105", st.watermark)
	}
	if len(led.opened) != 1 {
		t.Fatalf("opened = %d positions, want 1", len(led.opened))
	}
	if led.opened[0].TxSignature == nil || *led.opened[0].TxSignature != "sig-1" {
		t.Errorf("open request should carry the event signature")
	}
}

func TestPoll_FirstRunStartsNearHead(t *testing.T) {
	src := &fakeSource{head: 5000}
	st := newFakeStore() // watermark 0: first run
	r := newTestReconciler(src, &fakeLedger{}, &fakeResolver{}, st)

	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(src.calls) != 1 {
		t.Fatalf("fetch calls = %d, want 1", len(src.calls))
	}
	// BatchSlots is 10: the first fetch must cover (head-10, head], not slot 1.
	if from := src.calls[0][0]; from != 4991 {
		t.Errorf("first fetch from = %d, want 4991", from)
	}
	if st.watermark != 5000 {
		t.Errorf("watermark = %d, want 5000", st.watermark)
	}
}

func TestPoll_RespectsBatchLimit(t *testing.T) {
	src := &fakeSource{head: 500}
	st := newFakeStore()
	st.watermark = 100
	r := newTestReconciler(src, &fakeLedger{}, &fakeResolver{}, st)

	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	// One batch of 10 slots: [101, 110].
	if st.watermark != 110 {
		t.Errorf("watermark = %d, want 110", st.watermark)
	}
}

func TestPoll_NothingNew(t *testing.T) {
	src := &fakeSource{head: 100}
	st := newFakeStore()
	st.watermark = 100
	r := newTestReconciler(src, &fakeLedger{}, &fakeResolver{}, st)

	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(src.calls) != 0 {
		t.Errorf("fetch calls = %d, want 0 when watermark is at head", len(src.calls))
	}
}

func TestPoll_FailedEventIsDeadLetteredAndBatchContinues(t *testing.T) {
	src := &fakeSource{head: 103, events: map[uint64][]domain.ChainEvent{
		101: {{Kind: domain.EventBetPlaced, Signature: "sig-bad", Slot: 101,
			Wallet: "w1", MarketAddress: "mkt", Team: domain.SideHome,
			Amount: 100_000, MultiplierBps: 20_000}},
		102: {{Kind: domain.EventMarketResolved, Signature: "sig-ok", Slot: 102,
			MarketAddress: "mkt", Result: domain.SideAway}},
	}}
	led := &fakeLedger{openErr: errors.New("db down")}
	res := &fakeResolver{}
	st := newFakeStore()
	st.watermark = 100
	r := newTestReconciler(src, led, res, st)

	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(st.failed) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(st.failed))
	}
	if len(res.resolved) != 1 {
		t.Errorf("the event after the failure should still be replayed")
	}
	if st.watermark != 103 {
		t.Errorf("watermark = %d, want 103 (failures do not stall the batch)", st.watermark)
	}
}

// ── Replay — benign redelivery ────────────────────────────────────────────────

func TestReplay_ClosedRedeliveryIsNoOp(t *testing.T) {
	led := &closedLedger{}
	r := New(&fakeSource{}, led, &fakeResolver{}, newFakeStore(), Options{}, testLogger())

	err := r.Replay(context.Background(), domain.ChainEvent{
		Kind: domain.EventBetClosed, Signature: "sig-2", Slot: 7,
		Wallet: "w1", MarketAddress: "mkt",
	})
	if err != nil {
		t.Errorf("closing an already-closed position should be benign, got %v", err)
	}
}

func TestReplay_ResolvedRedeliveryIsNoOp(t *testing.T) {
	res := &fakeResolver{resolveErr: domain.ErrMarketAlreadyResolved}
	r := New(&fakeSource{}, &fakeLedger{}, res, newFakeStore(), Options{}, testLogger())

	err := r.Replay(context.Background(), domain.ChainEvent{
		Kind: domain.EventMarketResolved, Signature: "sig-3", Slot: 8,
		MarketAddress: "mkt", Result: domain.SideHome,
	})
	if err != nil {
		t.Errorf("resolving a resolved market should be benign, got %v", err)
	}
}

func TestReplay_UnknownKindFails(t *testing.T) {
	r := New(&fakeSource{}, &fakeLedger{}, &fakeResolver{}, newFakeStore(), Options{}, testLogger())

	err := r.Replay(context.Background(), domain.ChainEvent{Kind: "mystery", Signature: "s", Slot: 1})
	if err == nil {
		t.Error("unknown event kinds must error so they land in the dead-letter table")
	}
}

// closedLedger reports every close target as already closed.
type closedLedger struct{ fakeLedger }

func (c *closedLedger) CloseByWallet(ctx context.Context, wallet, marketAddress string, closePriceBps *int64, signature *string) (*domain.PlaceCloseResult, error) {
	return nil, domain.ErrOpenNotFound
}

// ── Dead-letter retries ───────────────────────────────────────────────────────

func TestRetryFailed_SuccessRemovesRow(t *testing.T) {
	st := newFakeStore()
	res := &fakeResolver{}
	_ = st.RecordFailedEvent(context.Background(), domain.ChainEvent{
		Kind: domain.EventMarketResolved, Signature: "sig-5", Slot: 9,
		MarketAddress: "mkt", Result: domain.SideHome,
	}, errors.New("transient"))

	r := New(&fakeSource{}, &fakeLedger{}, res, st, Options{}, testLogger())

	retried, failed, err := r.RetryFailed(context.Background(), 0)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if retried != 1 || failed != 0 {
		t.Errorf("retried=%d failed=%d, want 1/0", retried, failed)
	}
	if len(st.failed) != 0 {
		t.Errorf("successful retry should delete the dead-letter row")
	}
}

func TestRetryFailed_FailureBumpsRetryCount(t *testing.T) {
	st := newFakeStore()
	res := &fakeResolver{resolveErr: errors.New("still down")}
	_ = st.RecordFailedEvent(context.Background(), domain.ChainEvent{
		Kind: domain.EventMarketResolved, Signature: "sig-6", Slot: 10,
		MarketAddress: "mkt", Result: domain.SideAway,
	}, errors.New("transient"))

	r := New(&fakeSource{}, &fakeLedger{}, res, st, Options{}, testLogger())

	retried, failed, err := r.RetryFailed(context.Background(), 0)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if retried != 0 || failed != 1 {
		t.Errorf("retried=%d failed=%d, want 0/1", retried, failed)
	}
	for _, fe := range st.failed {
		if fe.RetryCount != 1 {
			t.Errorf("retry_count = %d, want 1", fe.RetryCount)
		}
	}
}

func TestRetryFailed_UnparseablePayloadIsDropped(t *testing.T) {
	st := newFakeStore()
	id := uuid.New()
	st.failed[id] = &domain.FailedEvent{
		ID:      id,
		Payload: json.RawMessage(`{not json`),
	}

	r := New(&fakeSource{}, &fakeLedger{}, &fakeResolver{}, st, Options{}, testLogger())

	retried, failed, err := r.RetryFailed(context.Background(), 0)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if retried != 1 || failed != 0 {
		t.Errorf("retried=%d failed=%d, want drop counted as handled (1/0)", retried, failed)
	}
	if len(st.failed) != 0 {
		t.Errorf("unparseable rows should be dropped, not retried forever")
	}
}
