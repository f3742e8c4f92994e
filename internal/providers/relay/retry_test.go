package relay

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggonzalez94/dustsweep/internal/model"
)

func TestGetQuoteWithRetryBacksOffOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(liquidQuoteBody))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv, "")
	quote := c.GetQuoteWithRetry(context.Background(), testRequest(1000))
	if quote == nil || !quote.IsLiquid {
		t.Fatalf("expected liquid quote after retries, got %+v", quote)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(sleeps.delays) != len(want) || sleeps.delays[0] != want[0] || sleeps.delays[1] != want[1] {
		t.Fatalf("unexpected backoff delays: %v", sleeps.delays)
	}
}

func TestGetQuoteWithRetryGivesUpAfterThreeAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, "")
	if quote := c.GetQuoteWithRetry(context.Background(), testRequest(1000)); quote != nil {
		t.Fatalf("expected nil after exhausting retries, got %+v", quote)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestGetMultipleQuotesSequentialWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(liquidQuoteBody))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv, "")
	reqs := []model.QuoteRequest{testRequest(10), testRequest(0), testRequest(30)}
	quotes := c.GetMultipleQuotes(context.Background(), reqs)
	if len(quotes) != 3 {
		t.Fatalf("expected 3 results, got %d", len(quotes))
	}
	if quotes[0] == nil || quotes[2] == nil || quotes[1] != nil {
		t.Fatalf("expected nil only for zero amount request: %+v", quotes)
	}
	if quotes[2].InAmount.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("results must keep request order, got %s", quotes[2].InAmount)
	}
	if len(sleeps.delays) != 2 || sleeps.delays[0] != 1500*time.Millisecond {
		t.Fatalf("expected 1500ms spacing between anonymous requests, got %v", sleeps.delays)
	}
}

func TestGetMultipleQuotesConcurrentWithKey(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(liquidQuoteBody))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv, "key")
	reqs := make([]model.QuoteRequest, 6)
	for i := range reqs {
		reqs[i] = testRequest(int64(100 + i))
	}
	quotes := c.GetMultipleQuotes(context.Background(), reqs)
	for i, q := range quotes {
		if q == nil || q.InAmount.Int64() != int64(100+i) {
			t.Fatalf("result %d out of order or missing: %+v", i, q)
		}
	}
	if atomic.LoadInt32(&calls) != 6 {
		t.Fatalf("expected 6 requests, got %d", calls)
	}
	for _, d := range sleeps.delays {
		if d > 500*time.Millisecond {
			t.Fatalf("stagger must stay within 500ms, got %s", d)
		}
	}
}
