package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
)

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var out map[string]any
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestDoJSONExposesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorCode":"AMOUNT_TOO_LOW"}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	_, err := DoBodyJSON(context.Background(), client, http.MethodPost, srv.URL, []byte(`{}`), nil, nil)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	status, ok := ResponseStatus(err)
	if !ok {
		t.Fatalf("expected status error in chain, got %v", err)
	}
	if status.StatusCode != http.StatusBadRequest || !strings.Contains(string(status.Body), "AMOUNT_TOO_LOW") {
		t.Fatalf("unexpected status error: %d %s", status.StatusCode, status.Body)
	}
	if clierr.ExitCode(err) != int(clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported code, got %d", clierr.ExitCode(err))
	}
}

func TestDoJSONRateLimitWithoutRetries(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	_, err := client.DoJSON(context.Background(), req, nil)
	if !clierr.Is(err, clierr.CodeRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected single attempt, got %d", got)
	}
}
