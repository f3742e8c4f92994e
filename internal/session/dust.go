package session

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution"
	"github.com/ggonzalez94/dustsweep/internal/holdings"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/samber/lo"
)

// MainTokenMinUSD splits the working set into main and low value tokens.
const MainTokenMinUSD = 0.01

type HoldingsFetcher interface {
	FetchHoldings(ctx context.Context, address string, chainID int64) (model.HoldingsResponse, error)
}

type MultiQuoter interface {
	GetMultipleQuotes(ctx context.Context, reqs []model.QuoteRequest) []*model.QuoteResponse
}

type SweepExecutor interface {
	ExecuteBatch(ctx context.Context, tokens []model.Token, strategy model.ExecutionStrategy, owner string, chainID int64, onStatus execution.StatusFunc, target id.Target) model.ExecutionResult
}

type DustDeps struct {
	Holdings HoldingsFetcher
	Quotes   MultiQuoter
	Executor SweepExecutor
	Gas      execution.GasPricer
	Filter   holdings.DustFilter
}

// DustSession holds one wallet's sweep working set: scanned tokens, the dust
// subset, the user's selection, the chosen target and the current quotes.
// Scans and quote refreshes commit only if no newer request started.
type DustSession struct {
	mu     sync.Mutex
	wallet *WalletState
	deps   DustDeps

	scanned  []model.Token
	filtered []model.Token
	selected []model.Token
	target   id.Target
	quoted   []model.Token
	quotes   []*model.QuoteResponse
	gasUSD   float64
	err      string
	lastScan time.Time

	scanEpoch  Epoch
	quoteEpoch Epoch
}

func NewDustSession(wallet *WalletState, deps DustDeps) *DustSession {
	if deps.Filter.AllowedRiskLevels == nil {
		deps.Filter = holdings.DefaultDustFilter()
	}
	return &DustSession{wallet: wallet, deps: deps, target: id.TargetETH}
}

// Scan replaces the working set with a fresh holdings scan and clears the
// selection. A scan superseded by a newer one is discarded.
func (s *DustSession) Scan(ctx context.Context) error {
	address, chainID := s.wallet.Address(), s.wallet.ChainID()
	if !id.IsEVMAddress(address) {
		return s.fail(clierr.New(clierr.CodeUsage, "Invalid wallet address"))
	}
	if chainID == 0 {
		return s.fail(clierr.New(clierr.CodeUnsupported, "Unsupported chain"))
	}
	ticket := s.scanEpoch.Begin()
	resp, err := s.deps.Holdings.FetchHoldings(ctx, address, chainID)
	if !s.scanEpoch.Current(ticket) {
		logger.Debugf("[Session] dropping stale scan for %s", address)
		return nil
	}
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = ""
	s.scanned = resp.Tokens
	s.filtered = holdings.FilterDust(resp.Tokens, s.deps.Filter)
	s.selected = nil
	s.quoted, s.quotes = nil, nil
	s.gasUSD = 0
	s.lastScan = resp.ScannedAt
	return nil
}

func (s *DustSession) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err.Error()
	return err
}

// IsTargetToken reports whether token already is the sweep target.
func (s *DustSession) IsTargetToken(token model.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTargetLocked(token)
}

func (s *DustSession) isTargetLocked(token model.Token) bool {
	return len(execution.FilterTargetTokens([]model.Token{token}, s.target, s.wallet.ChainID())) == 0
}

// ToggleToken flips the selection of token and refreshes quotes. Target
// tokens cannot be selected.
func (s *DustSession) ToggleToken(ctx context.Context, address string) error {
	s.mu.Lock()
	token, ok := findToken(s.filtered, address)
	if !ok || s.isTargetLocked(token) {
		s.mu.Unlock()
		return nil
	}
	if _, selected := findToken(s.selected, address); selected {
		s.selected = lo.Reject(s.selected, func(t model.Token, _ int) bool { return sameAddress(t.Address, address) })
		s.setLiquidityLocked(address, true)
	} else {
		s.selected = append(s.selected, token)
	}
	s.mu.Unlock()
	return s.UpdateQuotes(ctx)
}

func (s *DustSession) SelectAll(ctx context.Context) error {
	s.mu.Lock()
	s.selected = lo.Reject(s.filtered, func(t model.Token, _ int) bool { return s.isTargetLocked(t) })
	s.mu.Unlock()
	return s.UpdateQuotes(ctx)
}

// SelectTokens replaces the selection with the dust tokens at addresses and
// quotes them once. Addresses that are not in the working set are returned.
func (s *DustSession) SelectTokens(ctx context.Context, addresses []string) ([]string, error) {
	var missing []string
	s.mu.Lock()
	s.selected = nil
	for _, address := range lo.Uniq(addresses) {
		token, ok := findToken(s.filtered, address)
		if !ok {
			missing = append(missing, address)
			continue
		}
		if s.isTargetLocked(token) {
			continue
		}
		if _, dup := findToken(s.selected, address); !dup {
			s.selected = append(s.selected, token)
		}
	}
	s.mu.Unlock()
	return missing, s.UpdateQuotes(ctx)
}

func (s *DustSession) DeselectAll() {
	s.quoteEpoch.Invalidate()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
	s.quoted, s.quotes = nil, nil
	s.gasUSD = 0
}

// SetTargetToken changes the sweep target, drops selected tokens that match
// it and refreshes quotes.
func (s *DustSession) SetTargetToken(ctx context.Context, target id.Target) error {
	s.mu.Lock()
	s.target = target
	s.selected = lo.Reject(s.selected, func(t model.Token, _ int) bool { return s.isTargetLocked(t) })
	s.mu.Unlock()
	return s.UpdateQuotes(ctx)
}

// UpdateQuotes quotes every selected token into the target. Tokens whose
// quote came back illiquid or missing are marked illiquid but stay selected.
func (s *DustSession) UpdateQuotes(ctx context.Context) error {
	s.mu.Lock()
	toQuote := lo.Reject(s.selected, func(t model.Token, _ int) bool { return s.isTargetLocked(t) })
	target := s.target
	s.mu.Unlock()

	if len(toQuote) == 0 {
		s.quoteEpoch.Invalidate()
		s.mu.Lock()
		s.quoted, s.quotes = nil, nil
		s.mu.Unlock()
		return nil
	}
	owner, chainID := s.wallet.Address(), s.wallet.ChainID()
	if !id.IsEVMAddress(owner) || chainID == 0 {
		return nil
	}
	tokenOut, err := execution.ResolveOutputToken(chainID, target)
	if err != nil {
		return s.fail(err)
	}

	ticket := s.quoteEpoch.Begin()
	reqs := make([]model.QuoteRequest, 0, len(toQuote))
	for _, token := range toQuote {
		reqs = append(reqs, model.NewQuoteRequest(token, tokenOut, owner))
	}
	quotes := s.deps.Quotes.GetMultipleQuotes(ctx, reqs)
	var gasUSD float64
	if s.wallet.Detected() {
		gasUSD = execution.EstimateGasCostUSD(ctx, s.deps.Gas, chainID, s.wallet.Strategy(), len(toQuote))
	}
	if !s.quoteEpoch.Current(ticket) {
		logger.Debugf("[Session] dropping stale quotes for %d tokens", len(toQuote))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = ""
	s.quoted, s.quotes = toQuote, quotes
	s.gasUSD = gasUSD
	for i, token := range toQuote {
		if i >= len(quotes) || quotes[i] == nil || !quotes[i].IsLiquid {
			s.setLiquidityLocked(token.Address, false)
		}
	}
	return nil
}

// UpdateTokenLiquidity sets the liquidity flag of address everywhere it
// appears in the working set.
func (s *DustSession) UpdateTokenLiquidity(address string, liquid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLiquidityLocked(address, liquid)
}

func (s *DustSession) setLiquidityLocked(address string, liquid bool) {
	update := func(tokens []model.Token) []model.Token {
		return lo.Map(tokens, func(t model.Token, _ int) model.Token {
			if sameAddress(t.Address, address) {
				v := liquid
				t.IsLiquid = &v
			}
			return t
		})
	}
	s.scanned = update(s.scanned)
	s.filtered = update(s.filtered)
	s.selected = update(s.selected)
}

// Execute sweeps the selected tokens with the wallet's detected strategy.
func (s *DustSession) Execute(ctx context.Context, onStatus execution.StatusFunc) model.ExecutionResult {
	s.mu.Lock()
	selected := append([]model.Token(nil), s.selected...)
	target := s.target
	s.mu.Unlock()
	return s.deps.Executor.ExecuteBatch(ctx, selected, s.wallet.Strategy(), s.wallet.Address(), s.wallet.ChainID(), onStatus, target)
}

func (s *DustSession) Reset() {
	s.scanEpoch.Invalidate()
	s.quoteEpoch.Invalidate()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanned, s.filtered, s.selected = nil, nil, nil
	s.quoted, s.quotes = nil, nil
	s.gasUSD = 0
	s.err = ""
	s.lastScan = time.Time{}
}

func (s *DustSession) Scanned() []model.Token {
	return s.snapshot(func() []model.Token { return s.scanned })
}

func (s *DustSession) Filtered() []model.Token {
	return s.snapshot(func() []model.Token { return s.filtered })
}

func (s *DustSession) Selected() []model.Token {
	return s.snapshot(func() []model.Token { return s.selected })
}

func (s *DustSession) snapshot(get func() []model.Token) []model.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Token(nil), get()...)
}

func (s *DustSession) Quotes() []*model.QuoteResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.QuoteResponse(nil), s.quotes...)
}

func (s *DustSession) Target() id.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *DustSession) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *DustSession) LastScan() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScan
}

func (s *DustSession) GasCostUSD() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gasUSD
}

// TotalValue is the USD value of the selection.
func (s *DustSession) TotalValue() float64 {
	return holdings.TotalValue(s.Selected())
}

// TotalOutput sums the quoted output amounts.
func (s *DustSession) TotalOutput() *big.Int {
	total := new(big.Int)
	for _, q := range s.Quotes() {
		if q != nil && q.OutAmount != nil {
			total.Add(total, q.OutAmount)
		}
	}
	return total
}

func (s *DustSession) AvgPriceImpact() float64 {
	quotes := lo.Compact(s.Quotes())
	if len(quotes) == 0 {
		return 0
	}
	return lo.SumBy(quotes, func(q *model.QuoteResponse) float64 { return q.PriceImpact }) / float64(len(quotes))
}

// QuoteError is the description of the first unusable quote, if any.
func (s *DustSession) QuoteError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.quotes {
		if q == nil && i < len(s.quoted) {
			return s.quoted[i].Symbol + ": No route found"
		}
		if q == nil {
			continue
		}
		if !q.IsLiquid {
			return q.RouteDescription
		}
	}
	return ""
}

func (s *DustSession) MainTokens() []model.Token {
	return lo.Filter(s.Filtered(), func(t model.Token, _ int) bool { return t.ValueUSD >= MainTokenMinUSD })
}

func (s *DustSession) LowValueTokens() []model.Token {
	return lo.Filter(s.Filtered(), func(t model.Token, _ int) bool { return t.ValueUSD < MainTokenMinUSD })
}

func findToken(tokens []model.Token, address string) (model.Token, bool) {
	return lo.Find(tokens, func(t model.Token) bool { return sameAddress(t.Address, address) })
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
