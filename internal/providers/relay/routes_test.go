package relay

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/dustsweep/internal/registry"
)

func TestCheckRouteAvailableDefaultsTestAmount(t *testing.T) {
	var amount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		amount, _ = payload["amount"].(string)
		_, _ = w.Write([]byte(`{"steps":[{"id":"swap"}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, "")
	if !c.CheckRouteAvailable(context.Background(), 8453, testToken, registry.ZeroAddress, testUser, 6, nil) {
		t.Fatal("expected available route")
	}
	if amount != "100000" {
		t.Fatalf("expected 10^(decimals-1) probe amount, got %s", amount)
	}
}

func TestCheckRouteAvailableFalseOnEmptyOrError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("x-api-key"), "fail") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"steps":[]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, "")
	if c.CheckRouteAvailable(context.Background(), 1, testToken, registry.ZeroAddress, testUser, 18, big.NewInt(5)) {
		t.Fatal("expected unavailable route for empty steps")
	}
	failing, _ := newTestClient(t, srv, "fail")
	if failing.CheckRouteAvailable(context.Background(), 1, testToken, registry.ZeroAddress, testUser, 18, nil) {
		t.Fatal("expected unavailable route for error status")
	}
}

func TestCheckAlternativeRoutes(t *testing.T) {
	usdc, _ := registry.TokenAddress(8453, "USDC")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["amount"] != "98" {
			t.Fatalf("expected 98%% of balance, got %v", payload["amount"])
		}
		if payload["destinationCurrency"] == strings.ToLower(usdc) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"NO_SWAP_ROUTES_FOUND"}`))
			return
		}
		_, _ = w.Write([]byte(liquidQuoteBody))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv, "key")
	alts := c.CheckAlternativeRoutes(context.Background(), 8453, testToken, testUser, 18, big.NewInt(100))
	if len(alts) != 2 {
		t.Fatalf("expected ETH and DAI alternatives, got %+v", alts)
	}
	if alts[0].TargetToken != "ETH" || alts[1].TargetToken != "DAI" {
		t.Fatalf("unexpected alternatives order: %+v", alts)
	}
	if !alts[0].IsAvailable || alts[0].EstimatedOutput.String() != "4200" {
		t.Fatalf("unexpected alternative: %+v", alts[0])
	}
	if len(sleeps.delays) != 2 || sleeps.delays[0] != 150*time.Millisecond {
		t.Fatalf("expected keyed delay between targets, got %v", sleeps.delays)
	}

	if got := c.CheckAlternativeRoutes(context.Background(), 999, testToken, testUser, 18, big.NewInt(100)); len(got) != 0 {
		t.Fatalf("expected no alternatives for unsupported chain, got %+v", got)
	}
}
