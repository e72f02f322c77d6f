package dx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/markets/ETH-RDN/price", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price": 250}`))
	})
	mux.HandleFunc("/api/v1/markets/GNO-RDN/price", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"unknown market"}`))
	})
	mux.HandleFunc("/api/v1/markets/OMG-RDN/price", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price": null}`))
	})
	mux.HandleFunc("/api/v1/markets/RDN-ETH/sell-volume", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sellVolume": "12.5"}`))
	})
	mux.HandleFunc("/api/v1/markets/ETH-RDN/sell-volume", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"node unavailable"}`))
	})
	mux.HandleFunc("/api/v1/accounts/0xabc/sell", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req sellRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.ClientID == "revert" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"execution reverted"}`))
			return
		}
		if req.SellToken != "RDN" || req.BuyToken != "ETH" || !req.Amount.Equal(decimal.NewFromInt(1250)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"txHash":"0xfeed"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClientPrice(t *testing.T) {
	server := newTestServer(t)
	client := New(server.URL, time.Second, zap.NewNop())
	ctx := context.Background()

	price, err := client.Price(ctx, "ETH", "RDN")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected 250, got %s", price)
	}
	if _, err := client.Price(ctx, "GNO", "RDN"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable for 404, got %v", err)
	}
	if _, err := client.Price(ctx, "OMG", "RDN"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable for null price, got %v", err)
	}
}

func TestClientSellVolume(t *testing.T) {
	server := newTestServer(t)
	client := New(server.URL, time.Second, zap.NewNop())
	ctx := context.Background()

	vol, err := client.SellVolume(ctx, "RDN", "ETH")
	if err != nil {
		t.Fatalf("sell volume: %v", err)
	}
	if !vol.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected 12.5, got %s", vol)
	}
	if _, err := client.SellVolume(ctx, "ETH", "RDN"); !errors.Is(err, ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
}

func TestClientSell(t *testing.T) {
	server := newTestServer(t)
	client := New(server.URL, time.Second, zap.NewNop())
	ctx := context.Background()

	tx, err := client.Sell(ctx, "0xabc", "RDN", "ETH", decimal.NewFromInt(1250), "c1")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if tx != "0xfeed" {
		t.Fatalf("expected tx hash 0xfeed, got %q", tx)
	}
	_, err = client.Sell(ctx, "0xabc", "RDN", "ETH", decimal.NewFromInt(1), "revert")
	if !errors.Is(err, ErrSubmit) {
		t.Fatalf("expected ErrSubmit, got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	client := New("http://127.0.0.1:1", 200*time.Millisecond, zap.NewNop())
	if _, err := client.Price(context.Background(), "ETH", "RDN"); !errors.Is(err, ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
	if _, err := client.Sell(context.Background(), "0xabc", "RDN", "ETH", decimal.NewFromInt(1), "c"); !errors.Is(err, ErrSubmit) {
		t.Fatalf("expected ErrSubmit, got %v", err)
	}
}

func TestPriceTable(t *testing.T) {
	table := NewPriceTable(map[string]float64{"eth": 1000, "RDN": 4, "ZERO": 0})
	ctx := context.Background()

	p, err := table.Price(ctx, "ETH", "RDN")
	if err != nil || !p.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected 250, got %s %v", p, err)
	}
	p, err = table.Price(ctx, "RDN", "USD")
	if err != nil || !p.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected 4, got %s %v", p, err)
	}
	for _, pair := range [][2]string{{"GNO", "USD"}, {"ETH", "GNO"}, {"ZERO", "USD"}} {
		if _, err := table.Price(ctx, pair[0], pair[1]); !errors.Is(err, ErrPriceUnavailable) {
			t.Fatalf("%v: expected ErrPriceUnavailable, got %v", pair, err)
		}
	}
}
