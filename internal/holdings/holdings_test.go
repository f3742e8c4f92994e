package holdings

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/providers"
	"github.com/ggonzalez94/dustsweep/internal/registry"
	"github.com/shopspring/decimal"
)

const (
	testOwner = "0x00000000000000000000000000000000000000AA"
	tokenAAA  = "0x000000000000000000000000000000000000a001"
	tokenSpam = "0x000000000000000000000000000000000000b002"
	tokenGone = "0x000000000000000000000000000000000000c003"
	tokenTiny = "0x000000000000000000000000000000000000d004"
	tokenMyst = "0x000000000000000000000000000000000000e005"
	tokenTax  = "0xfb42da273158b0f642f59f2ba7cc1d5457481677"
)

var errNoContract = errors.New("execution reverted")

type fakeIndex struct {
	rows []providers.Holding
	err  error
}

func (f *fakeIndex) Info() model.ProviderInfo { return model.ProviderInfo{Name: "fake"} }

func (f *fakeIndex) ERC20Holdings(context.Context, string, int64) ([]providers.Holding, error) {
	return f.rows, f.err
}

type fakeChain struct {
	mu        sync.Mutex
	native    *big.Int
	nativeErr error
	contracts map[string]map[string][]byte
	calls     map[string]int
}

func newFakeChain() *fakeChain {
	return &fakeChain{native: new(big.Int), contracts: map[string]map[string][]byte{}, calls: map[string]int{}}
}

func (f *fakeChain) set(token, method string, out []byte) {
	key := strings.ToLower(token)
	if f.contracts[key] == nil {
		f.contracts[key] = map[string][]byte{}
	}
	f.contracts[key][method] = out
}

func (f *fakeChain) count(token, method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[strings.ToLower(token)+":"+method]
}

func (f *fakeChain) BalanceAt(context.Context, int64, common.Address) (*big.Int, error) {
	return f.native, f.nativeErr
}

func (f *fakeChain) CallContract(_ context.Context, _ int64, to common.Address, data []byte) ([]byte, error) {
	method := methodName(data)
	key := strings.ToLower(to.Hex())
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key+":"+method]++
	out, ok := f.contracts[key][method]
	if !ok {
		return nil, errNoContract
	}
	return out, nil
}

func methodName(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	for _, parsed := range []abi.ABI{erc20ABI, metadataABI, transferFeeABI} {
		if m, err := parsed.MethodById(data[:4]); err == nil {
			return m.Name
		}
	}
	return ""
}

func ret(parsed abi.ABI, method string, v any) []byte {
	out, err := parsed.Methods[method].Outputs.Pack(v)
	if err != nil {
		panic(err)
	}
	return out
}

type fakeRoutes struct {
	mu           sync.Mutex
	checked      []string
	destinations []string
}

func (f *fakeRoutes) CheckRouteAvailable(_ context.Context, _ int64, token, destination, _ string, _ int, _ *big.Int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, strings.ToLower(token))
	f.destinations = append(f.destinations, destination)
	return true
}

func holding(addr, symbol string, decimals int64, quantity string, price, value float64) providers.Holding {
	return providers.Holding{
		TokenAddress:    addr,
		TokenSymbol:     symbol,
		TokenName:       symbol,
		TokenDecimals:   decimal.NewFromInt(decimals),
		TokenQuantity:   decimal.RequireFromString(quantity),
		TokenPrice:      decimal.NewFromFloat(price),
		TokenValueInUSD: decimal.NewFromFloat(value),
	}
}

func TestFetchHoldings(t *testing.T) {
	index := &fakeIndex{rows: []providers.Holding{
		holding(tokenAAA, "AAA", 6, "1500000", 1, 1.5),
		holding(tokenSpam, "CLAIM", 18, "5000000000000000000", 1, 5),
		holding(tokenGone, "GONE", 18, "100", 1, 4),
		holding(tokenTiny, "TINY", 18, "10", 0, 0.00001),
		holding(tokenTax, "FEE", 18, "2000000000000000000", 1, 2),
		{TokenAddress: tokenMyst, TokenQuantity: decimal.NewFromInt(2_000_000_000), TokenPrice: decimal.NewFromFloat(0.5)},
		{TokenAddress: "not-an-address", TokenSymbol: "BAD"},
	}}
	chain := newFakeChain()
	chain.native = big.NewInt(1_000_000_000_000_000) // 0.001 ETH
	chain.set(tokenGone, "balanceOf", ret(erc20ABI, "balanceOf", big.NewInt(0)))
	chain.set(tokenTax, "balanceOf", ret(erc20ABI, "balanceOf", new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18))))
	chain.set(tokenMyst, "symbol", ret(metadataABI, "symbol", "MYST"))
	chain.set(tokenMyst, "name", ret(metadataABI, "name", "Mystery"))
	chain.set(tokenMyst, "decimals", ret(metadataABI, "decimals", uint8(9)))
	routes := &fakeRoutes{}

	scanner := NewScanner(index, chain, WithRouteChecker(routes))
	scanner.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	resp, err := scanner.FetchHoldings(context.Background(), testOwner, 8453)
	if err != nil {
		t.Fatalf("FetchHoldings failed: %v", err)
	}

	var symbols []string
	for _, tok := range resp.Tokens {
		symbols = append(symbols, tok.Symbol)
	}
	if strings.Join(symbols, ",") != "CLAIM,ETH,FEE,AAA,MYST" {
		t.Fatalf("unexpected tokens %v", symbols)
	}
	if math.Abs(resp.TotalValueUSD-12.8) > 1e-9 {
		t.Fatalf("unexpected total %v", resp.TotalValueUSD)
	}
	if !resp.ScannedAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected scan time %v", resp.ScannedAt)
	}

	byName := map[string]model.Token{}
	for _, tok := range resp.Tokens {
		byName[tok.Symbol] = tok
	}
	if claim := byName["CLAIM"]; *claim.IsLiquid || claim.RiskLevel != model.RiskMedium {
		t.Fatalf("spam token should be visible but illiquid: %+v", claim)
	}
	if fee := byName["FEE"]; !fee.IsTaxToken || fee.RiskLevel != model.RiskHigh || !*fee.IsLiquid {
		t.Fatalf("unexpected fee token %+v", fee)
	}
	if fee := byName["FEE"]; fee.Address != common.HexToAddress(tokenTax).Hex() {
		t.Fatalf("expected checksummed address, got %s", fee.Address)
	}
	if myst := byName["MYST"]; myst.Decimals != 9 || myst.Name != "Mystery" || myst.ValueUSD != 1 || myst.BalanceFormatted != "2.00" {
		t.Fatalf("unexpected metadata fill %+v", myst)
	}
	if native := byName["ETH"]; native.Address != registry.NativeTokenAddress || native.RiskLevel != model.RiskLow || math.Abs(native.ValueUSD-3.3) > 1e-9 {
		t.Fatalf("unexpected native token %+v", native)
	}
	if aaa := byName["AAA"]; aaa.BalanceFormatted != "1.50" || aaa.RiskLevel != model.RiskMedium {
		t.Fatalf("unexpected AAA token %+v", aaa)
	}

	routes.mu.Lock()
	defer routes.mu.Unlock()
	if len(routes.checked) != 3 {
		t.Fatalf("expected route checks for AAA, FEE and MYST only, got %v", routes.checked)
	}
	usdc, _ := registry.TokenAddress(8453, "USDC")
	for _, dest := range routes.destinations {
		if dest != usdc {
			t.Fatalf("expected USDC destination, got %s", dest)
		}
	}
	if chain.count(tokenTax, "transferFee") != 0 {
		t.Fatal("known fee token should not be probed")
	}
}

func TestFetchHoldingsIndexFailureFallsBackToNative(t *testing.T) {
	chain := newFakeChain()
	chain.nativeErr = errors.New("rpc down")
	scanner := NewScanner(&fakeIndex{err: clierr.New(clierr.CodeUnavailable, "index down")}, chain)

	resp, err := scanner.FetchHoldings(context.Background(), testOwner, 999)
	if err != nil {
		t.Fatalf("FetchHoldings failed: %v", err)
	}
	if len(resp.Tokens) != 1 || resp.Tokens[0].Symbol != "ETH" || resp.Tokens[0].Balance.Sign() != 0 || resp.TotalValueUSD != 0 {
		t.Fatalf("expected zero native token only, got %+v", resp.Tokens)
	}
}

func TestFetchHoldingsRejectsInvalidAddress(t *testing.T) {
	scanner := NewScanner(&fakeIndex{}, newFakeChain())
	if _, err := scanner.FetchHoldings(context.Background(), "0x123", 8453); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestFeeDetectorProbesAndCaches(t *testing.T) {
	chain := newFakeChain()
	feeToken := "0x0000000000000000000000000000000000000f01"
	plainToken := "0x0000000000000000000000000000000000000f02"
	chain.set(feeToken, "transferFee", ret(transferFeeABI, "transferFee", big.NewInt(0)))
	chain.set(feeToken, "transferFeeBps", ret(transferFeeABI, "transferFeeBps", big.NewInt(100)))

	d := NewFeeDetector(chain)
	got := d.Detect(context.Background(), 1, []string{feeToken, plainToken, registry.ZeroAddress, "junk"})
	if !got[feeToken] || got[plainToken] || got[registry.ZeroAddress] {
		t.Fatalf("unexpected verdicts %v", got)
	}
	if _, ok := got["junk"]; ok {
		t.Fatal("invalid addresses should be skipped")
	}
	if chain.count(plainToken, "transferFeeBasisPoints") != 1 {
		t.Fatal("expected every getter to be probed for the plain token")
	}

	if !d.IsTransferFeeToken(context.Background(), 1, "0x"+strings.ToUpper(feeToken[2:])) {
		t.Fatal("expected cached fee verdict")
	}
	if d.IsTransferFeeToken(context.Background(), 1, plainToken) {
		t.Fatal("expected cached negative verdict")
	}
	if chain.count(feeToken, "transferFeeBps") != 1 || chain.count(plainToken, "transferFee") != 1 {
		t.Fatal("cached verdicts should not re-probe")
	}
}
