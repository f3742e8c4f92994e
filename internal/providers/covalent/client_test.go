package covalent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

const owner = "0xAbCdEf0000000000000000000000000000000001"

const tokenApprovalsBody = `{
  "data": {"address": "0xabcdef0000000000000000000000000000000001", "chain_id": 8453, "items": [
    {
      "token_address": "0x1111111111111111111111111111111111111111",
      "token_address_label": "USD Coin",
      "ticker_symbol": "USDC",
      "contract_decimals": 6,
      "quote_rate": 1.0,
      "balance": "2500000",
      "balance_quote": 2.5,
      "value_at_risk_quote": 2.5,
      "spenders": [
        {"spender_address": "0x2222222222222222222222222222222222222222", "spender_address_label": "Router", "allowance": "UNLIMITED", "value_at_risk_quote": 2.5, "risk_factor": "HIGH RISK", "block_height": 10, "tx_hash": "0xabc"},
        {"spender_address": "0x3333333333333333333333333333333333333333", "spender_address_label": null, "allowance": "1000", "value_at_risk_quote": 0.001, "risk_factor": "Consider revoking", "block_height": 11}
      ]
    },
    {
      "token_address": "0x4444444444444444444444444444444444444444",
      "ticker_symbol": "",
      "contract_decimals": 18,
      "balance": "0",
      "spenders": [
        {"spender_address": "0x5555555555555555555555555555555555555555", "allowance": "115792089237316195423570985008687907853269984665640564039457584007913129639935", "value_at_risk_quote": 9.0, "risk_factor": "low"}
      ]
    }
  ]},
  "error": false
}`

const nftApprovalsBody = `{
  "data": {"items": [
    {"contract_address": "0x6666666666666666666666666666666666666666", "contract_name": "Punks", "spenders": [
      {"spender_address": "0x7777777777777777777777777777777777777777", "spender_address_label": "Marketplace", "allowance": "UNLIMITED", "token_balances": null},
      {"spender_address": "0x8888888888888888888888888888888888888888", "allowance": "1", "token_balances": [{"token_id": "42"}]}
    ]}
  ]},
  "error": false
}`

type fakeAPI struct {
	mu    sync.Mutex
	paths []string
	keys  []string
}

func newFakeAPI(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.paths = append(api.paths, r.URL.Path)
		api.keys = append(api.keys, r.URL.Query().Get("key"))
		api.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeAPI) first() (string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paths[0], a.keys[0]
}

func defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if strings.Contains(r.URL.Path, "/nft/approvals/") {
		_, _ = w.Write([]byte(nftApprovalsBody))
		return
	}
	_, _ = w.Write([]byte(tokenApprovalsBody))
}

func TestGetTokenApprovals(t *testing.T) {
	api, srv := newFakeAPI(t, defaultHandler)
	c := New(srv.Client(), "ckey_test").WithBaseURL(srv.URL)

	approvals, err := c.GetTokenApprovals(context.Background(), owner, 8453)
	if err != nil {
		t.Fatalf("GetTokenApprovals failed: %v", err)
	}
	if len(approvals) != 2 {
		t.Fatalf("expected 2 approvals, got %d", len(approvals))
	}
	if path, key := api.first(); path != "/base-mainnet/approvals/"+strings.ToLower(owner)+"/" || key != "ckey_test" {
		t.Fatalf("unexpected request %s key=%s", path, key)
	}
	usdc := approvals[0]
	if usdc.TickerSymbol != "USDC" || usdc.Balance.String() != "2500000" || len(usdc.Spenders) != 2 {
		t.Fatalf("unexpected usdc approval %+v", usdc)
	}
	if !usdc.Spenders[0].IsUnlimited || usdc.Spenders[0].RiskFactor != RiskHigh || usdc.Spenders[0].AllowanceRaw.Cmp(maxUint256) != 0 {
		t.Fatalf("unexpected unlimited spender %+v", usdc.Spenders[0])
	}
	if usdc.Spenders[1].IsUnlimited || usdc.Spenders[1].RiskFactor != RiskConsider || usdc.Spenders[1].AllowanceRaw.Int64() != 1000 {
		t.Fatalf("unexpected limited spender %+v", usdc.Spenders[1])
	}
	unknown := approvals[1]
	if unknown.TickerSymbol != "UNKNOWN" || !unknown.Spenders[0].IsUnlimited || unknown.Spenders[0].Allowance != model.AllowanceUnlimited {
		t.Fatalf("max uint allowance should be unlimited: %+v", unknown)
	}
}

func TestGetTokenApprovalsErrors(t *testing.T) {
	_, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := New(srv.Client(), "").WithBaseURL(srv.URL)
	if _, err := c.GetTokenApprovals(context.Background(), owner, 1); !clierr.Is(err, clierr.CodeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}

	_, srv = newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"error":true,"error_message":"bad address"}`))
	})
	c = New(srv.Client(), "").WithBaseURL(srv.URL)
	if _, err := c.GetTokenApprovals(context.Background(), owner, 1); err == nil || !strings.Contains(err.Error(), "bad address") {
		t.Fatalf("expected api error, got %v", err)
	}

	approvals, err := c.GetTokenApprovals(context.Background(), owner, 999)
	if err != nil || len(approvals) != 0 {
		t.Fatalf("unmapped chain should be empty, got %v %v", approvals, err)
	}
}

func TestGetNftApprovalsIsSilentOnFailure(t *testing.T) {
	_, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := New(srv.Client(), "").WithBaseURL(srv.URL)
	if got := c.GetNftApprovals(context.Background(), owner, 8453); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %v", got)
	}
}

func TestGetAllApprovalsSpacesChainsAndContinues(t *testing.T) {
	_, srv := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/eth-mainnet/") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defaultHandler(w, r)
	})
	c := New(srv.Client(), "").WithBaseURL(srv.URL)
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	results := c.GetAllApprovals(context.Background(), owner, []int64{1, 8453})
	if len(results) != 2 {
		t.Fatalf("expected a result per chain, got %d", len(results))
	}
	if results[0].Error == "" || len(results[0].TokenApprovals) != 0 {
		t.Fatalf("expected failed mainnet entry, got %+v", results[0])
	}
	if results[1].Error != "" || len(results[1].TokenApprovals) != 2 || len(results[1].NftApprovals) != 2 {
		t.Fatalf("unexpected base entry %+v", results[1])
	}
	if results[1].TotalValueAtRisk != 2.5 {
		t.Fatalf("unexpected value at risk %v", results[1].TotalValueAtRisk)
	}
	if len(delays) != 1 || delays[0] != 300*time.Millisecond {
		t.Fatalf("unexpected spacing %v", delays)
	}
}

func TestToRevokeItems(t *testing.T) {
	_, srv := newFakeAPI(t, defaultHandler)
	c := New(srv.Client(), "").WithBaseURL(srv.URL)
	results := c.GetAllApprovals(context.Background(), owner, []int64{8453})

	items := ToRevokeItems(results)
	if len(items) != 5 {
		t.Fatalf("expected 3 token + 2 nft items, got %d", len(items))
	}
	if items[0].ValueAtRiskQuote != 9.0 || items[1].ValueAtRiskQuote != 2.5 {
		t.Fatalf("items not sorted by value at risk: %v, %v", items[0].ValueAtRiskQuote, items[1].ValueAtRiskQuote)
	}
	if items[1].ID != "8453-0x1111111111111111111111111111111111111111-0x2222222222222222222222222222222222222222" {
		t.Fatalf("unexpected id %s", items[1].ID)
	}
	var nfts []model.RevokeItem
	for _, item := range items {
		if item.Type == model.ApprovalNFT {
			nfts = append(nfts, item)
		}
	}
	if len(nfts) != 2 {
		t.Fatalf("expected 2 nft items, got %d", len(nfts))
	}
	if nfts[0].Allowance != model.AllowanceAll || nfts[0].RiskFactor != RiskHigh || !strings.HasSuffix(nfts[0].ID, "-nft") {
		t.Fatalf("unexpected approved-for-all item %+v", nfts[0])
	}
	if nfts[1].Allowance != model.AllowanceLimited || nfts[1].RiskFactor != RiskLow || nfts[1].TokenSymbol != "Punks" {
		t.Fatalf("unexpected limited nft item %+v", nfts[1])
	}
}

func TestNormalizeRiskFactor(t *testing.T) {
	cases := map[string]string{
		"HIGH RISK":         RiskHigh,
		"high":              RiskHigh,
		"Consider Revoking": RiskConsider,
		"medium":            RiskConsider,
		"LOW RISK":          RiskLow,
		"":                  RiskLow,
	}
	for in, want := range cases {
		if got := NormalizeRiskFactor(in); got != want {
			t.Fatalf("NormalizeRiskFactor(%q) = %q, want %q", in, got, want)
		}
	}
}
