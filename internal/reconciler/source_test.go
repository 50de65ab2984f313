package reconciler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kmarket/settlement/internal/domain"
)

func TestGatewayClient_CurrentSlot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/slot" {
			t.Errorf("path = %q, want /v1/slot", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"slot": 123456}`))
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, 2*time.Second)
	slot, err := c.CurrentSlot(context.Background())
	if err != nil {
		t.Fatalf("CurrentSlot: %v", err)
	}
	if slot != 123456 {
		t.Errorf("slot = %d, want 123456", slot)
	}
}

func TestGatewayClient_FetchEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("from_slot") != "100" || q.Get("to_slot") != "200" {
			t.Errorf("slot range = [%s,%s], want [100,200]", q.Get("from_slot"), q.Get("to_slot"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"events":[
			{"kind":"bet_placed","signature":"sig-a","slot":150,
			 "wallet":"w1","market_address":"mkt","team":1,
			 "amount":100000,"multiplier_bps":20000}
		]}`))
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, 2*time.Second)
	events, err := c.FetchEvents(context.Background(), 100, 200)
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != domain.EventBetPlaced || ev.Slot != 150 || ev.Team != domain.SideHome {
		t.Errorf("decoded event mismatch: %+v", ev)
	}
}

func TestGatewayClient_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, 2*time.Second)
	if _, err := c.CurrentSlot(context.Background()); err == nil {
		t.Error("gateway errors must surface to the poll loop")
	}
}
