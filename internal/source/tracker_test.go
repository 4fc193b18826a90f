package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cardsignal/internal/stats"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestTrackerFetchMissingConfig(t *testing.T) {
	tr := NewTracker(TrackerOptions{}, noopLogger())
	if _, err := tr.FetchCard(context.Background(), CardRef{SetID: "sv1", Number: "1"}); err == nil {
		t.Fatal("missing base url should error")
	}

	tr = NewTracker(TrackerOptions{BaseURL: "http://localhost"}, noopLogger())
	if _, err := tr.FetchCard(context.Background(), CardRef{SetID: "sv1", Number: "1"}); err == nil {
		t.Fatal("missing api key should error")
	}

	tr = NewTracker(TrackerOptions{BaseURL: "http://localhost", APIKey: "k"}, noopLogger())
	if _, err := tr.FetchCard(context.Background(), CardRef{}); err == nil {
		t.Fatal("missing card ref should error")
	}
}

func TestTrackerFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := NewTracker(TrackerOptions{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, noopLogger())
	_, err := tr.FetchCard(context.Background(), CardRef{SetID: "sv1", Number: "25"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("429 must map to ErrRateLimited, got %v", err)
	}
}

func TestTrackerFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "upstream down"})
	}))
	defer srv.Close()

	tr := NewTracker(TrackerOptions{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, noopLogger())
	_, err := tr.FetchCard(context.Background(), CardRef{SetID: "sv1", Number: "25"})
	if err == nil {
		t.Fatal("HTTP 502 should error")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatal("non-429 must not map to ErrRateLimited")
	}
}

func TestTrackerFetchSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Query().Get("setId") != "sv1" || r.URL.Query().Get("number") != "25" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"raw":      12.5,
			"psa10":    80.0,
			"currency": "USD",
			"sales": []map[string]any{
				{"date": "2026-08-20T00:00:00Z", "price": 12.0, "market": "raw", "source": "ebay"},
				{"date": "2026-08-25T00:00:00Z", "price": 13.0, "market": "raw", "source": "ebay"},
			},
			"population": map[string]any{"pop10": 40, "total": 200},
		})
	}))
	defer srv.Close()

	tr := NewTracker(TrackerOptions{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second}, noopLogger())
	payload, err := tr.FetchCard(context.Background(), CardRef{SetID: "sv1", Number: "25"})
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("api key not sent: %q", gotAuth)
	}
	if payload.Quote.Raw == nil || !payload.Quote.Raw.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("raw price not decoded: %+v", payload.Quote)
	}
	if payload.Quote.PSA9 != nil {
		t.Fatal("absent psa9 must stay nil")
	}
	if len(payload.Sales) != 2 || payload.Sales[0].Market != stats.MarketRaw {
		t.Fatalf("sales not decoded: %+v", payload.Sales)
	}
	if payload.Population == nil || payload.Population.Total != 200 {
		t.Fatalf("population not decoded: %+v", payload.Population)
	}
}

func TestTrackerFetchUnknownMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sales": []map[string]any{{"date": "2026-08-20T00:00:00Z", "price": 1.0, "market": "bgs10"}},
		})
	}))
	defer srv.Close()

	tr := NewTracker(TrackerOptions{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, noopLogger())
	if _, err := tr.FetchCard(context.Background(), CardRef{SetID: "sv1", Number: "25"}); err == nil {
		t.Fatal("unknown sale market should be rejected at the adapter boundary")
	}
}

func TestCatalogFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cards/sv1-25" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"images": map[string]string{"small": "https://img/s.png", "large": "https://img/l.png"},
				"vendorPrices": map[string]any{
					"prices": map[string]any{"normalMarket": 11.0},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewCatalog(CatalogOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	card, err := c.FetchCatalogCard(context.Background(), CardRef{SetID: "sv1", Number: "25"})
	if err != nil {
		t.Fatalf("catalog fetch should succeed: %v", err)
	}
	if card.SmallImage != "https://img/s.png" {
		t.Fatalf("small image not decoded: %+v", card)
	}
	if card.VendorA == nil || card.VendorA.NormalMarket == nil {
		t.Fatalf("vendor prices not decoded: %+v", card.VendorA)
	}
	if card.VendorA.HoloMarket != nil {
		t.Fatal("absent holo market must stay nil")
	}
}
