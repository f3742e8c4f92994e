package execution

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

const (
	testOwner  = "0x00000000000000000000000000000000000000AA"
	testRouter = "0x00000000000000000000000000000000000000C0"
	testChain  = int64(8453)
)

type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string  { return e.msg }
func (e rpcError) ErrorCode() int { return e.code }

var errUserRejected = rpcError{code: 4001, msg: "User denied transaction signature."}

// fakeWallet records every interaction. Allowances default to zero, receipts
// default to success.
type fakeWallet struct {
	mu sync.Mutex

	caps      Capabilities
	capsErr   error
	capsCalls int

	balance      *big.Int
	balanceCalls int

	allowances   map[string]*big.Int
	allowanceErr error
	reads        int

	sendErrs map[int]error
	sent     []model.Call

	reverted map[common.Hash]bool
	waited   []common.Hash

	batchResult json.RawMessage
	batchErr    error
	batches     []SendCallsRequest
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		balance:    big.NewInt(1e15),
		allowances: map[string]*big.Int{},
		sendErrs:   map[int]error{},
		reverted:   map[common.Hash]bool{},
	}
}

func (w *fakeWallet) GetCapabilities(context.Context, common.Address) (Capabilities, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.capsCalls++
	return w.caps, w.capsErr
}

func (w *fakeWallet) BalanceAt(context.Context, int64, common.Address) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balanceCalls++
	return w.balance, nil
}

func (w *fakeWallet) CallContract(_ context.Context, _ int64, to common.Address, _ []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reads++
	if w.allowanceErr != nil {
		return nil, w.allowanceErr
	}
	v, ok := w.allowances[strings.ToLower(to.Hex())]
	if !ok {
		v = new(big.Int)
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}

func (w *fakeWallet) SendTransaction(_ context.Context, _ int64, call model.Call) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.sent)
	w.sent = append(w.sent, call)
	if err := w.sendErrs[n]; err != nil {
		return common.Hash{}, err
	}
	return txHash(n), nil
}

func (w *fakeWallet) SendCalls(_ context.Context, req SendCallsRequest) (json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, req)
	if w.batchErr != nil {
		return nil, w.batchErr
	}
	return w.batchResult, nil
}

func (w *fakeWallet) WaitForReceipt(_ context.Context, _ int64, hash common.Hash) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waited = append(w.waited, hash)
	return !w.reverted[hash], nil
}

func (w *fakeWallet) approveUnlimited(tokens ...model.Token) {
	unlimited := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	for _, token := range tokens {
		w.allowances[strings.ToLower(token.Address)] = unlimited
	}
}

// txHash is the hash the fake assigns to the n-th sent transaction.
func txHash(n int) common.Hash {
	return common.BigToHash(big.NewInt(int64(n + 1)))
}

type fakeQuotes struct {
	mu       sync.Mutex
	bySymbol map[string]*model.QuoteResponse
	requests []model.QuoteRequest
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{bySymbol: map[string]*model.QuoteResponse{}}
}

func (q *fakeQuotes) GetQuoteWithRetry(_ context.Context, req model.QuoteRequest) *model.QuoteResponse {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = append(q.requests, req)
	quote, ok := q.bySymbol[req.TokenIn.Symbol]
	if !ok || quote == nil {
		return nil
	}
	cp := *quote
	return &cp
}

func (q *fakeQuotes) symbols() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.requests))
	for _, req := range q.requests {
		out = append(out, req.TokenIn.Symbol)
	}
	return out
}

func liquidQuote(out int64) *model.QuoteResponse {
	return &model.QuoteResponse{
		InAmount:         big.NewInt(1),
		OutAmount:        big.NewInt(out),
		IsLiquid:         true,
		RouteDescription: "Swap",
		Spender:          testRouter,
		To:               testRouter,
		Data:             "0xdeadbeef",
		Value:            new(big.Int),
	}
}

func illiquidQuote(reason string) *model.QuoteResponse {
	return &model.QuoteResponse{IsLiquid: false, RouteDescription: reason, OutAmount: new(big.Int)}
}

func testToken(symbol, address string, balance int64) model.Token {
	return model.Token{
		Address:   address,
		ChainID:   testChain,
		Symbol:    symbol,
		Decimals:  18,
		Balance:   big.NewInt(balance),
		ValueUSD:  1.5,
		RiskLevel: model.RiskLow,
	}
}

type statusLog struct {
	mu       sync.Mutex
	statuses []model.BatchStatus
}

func (s *statusLog) record(status model.BatchStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *statusLog) list() []model.BatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.BatchStatus(nil), s.statuses...)
}

func noSleep(context.Context, time.Duration) error { return nil }

type recordedDelays struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedDelays) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}
