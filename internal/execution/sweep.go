package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution/planner"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/registry"
	"github.com/samber/lo"
)

const (
	msgInsufficientGas = "Insufficient native balance for gas fees. Please add some ETH/native token to your wallet."
	msgNoValidTokens   = "No valid tokens to swap (cannot swap target asset for itself)."
	MsgUserRejected    = "Transaction rejected by user"
	msgNoLiquidRoutes  = "No liquid routes found for the selected tokens. Relay Protocol might have a minimum amount requirement (usually >$1)."
	msgNoRoute         = "No route found"
)

// QuoteSource returns nil when no usable quote could be fetched.
type QuoteSource interface {
	GetQuoteWithRetry(ctx context.Context, req model.QuoteRequest) *model.QuoteResponse
}

type StatusFunc func(status model.BatchStatus)

// Delays are the deliberate pauses between external calls.
type Delays struct {
	BatchQuote   time.Duration
	LegacyToken  time.Duration
	PostApproval time.Duration
	RevokeItem   time.Duration
}

func DefaultDelays() Delays {
	return Delays{
		BatchQuote:   500 * time.Millisecond,
		LegacyToken:  1000 * time.Millisecond,
		PostApproval: 500 * time.Millisecond,
		RevokeItem:   500 * time.Millisecond,
	}
}

type Orchestrator struct {
	wallet     Wallet
	quotes     QuoteSource
	allowances *AllowanceChecker
	delays     Delays
	sleep      func(ctx context.Context, d time.Duration) error
	recorder   Recorder
}

type Option func(*Orchestrator)

func WithDelays(d Delays) Option {
	return func(o *Orchestrator) { o.delays = d }
}

// WithSleep replaces the delay function. Tests pass a no-op.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func NewOrchestrator(wallet Wallet, quotes QuoteSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		wallet:     wallet,
		quotes:     quotes,
		allowances: NewAllowanceChecker(wallet),
		delays:     DefaultDelays(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExecuteBatch sweeps tokens into target. It never returns an error: every
// outcome, including precondition failures, is an ExecutionResult, and
// onStatus always ends with COMPLETED or FAILED.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, tokens []model.Token, strategy model.ExecutionStrategy, owner string, chainID int64, onStatus StatusFunc, target id.Target) model.ExecutionResult {
	emit := func(status model.BatchStatus) {
		if onStatus != nil {
			onStatus(status)
		}
	}
	if target == "" {
		target = id.TargetETH
	}

	candidates, tokenOut, err := o.preflight(ctx, tokens, owner, chainID, target)
	if err != nil {
		logger.Warnf("[Sweep] preflight failed: %v", err)
		emit(model.StatusFailed)
		return failedResult(err.Error())
	}
	emit(model.StatusAnalyzing)
	logger.Infof("[Sweep] chain=%d strategy=%s target=%s tokens=%d", chainID, strategy, target, len(candidates))

	run := sweepRun{
		Orchestrator: o,
		owner:        common.HexToAddress(owner),
		chainID:      chainID,
		tokenOut:     tokenOut,
		emit:         emit,
	}
	var result model.ExecutionResult
	switch strategy {
	case model.StrategyStandardBatch, model.StrategySmartBatch:
		result = run.batch(ctx, candidates)
	default:
		result = run.legacy(ctx, candidates)
	}

	if result.Success && len(result.TxHashes) > 0 {
		emit(model.StatusCompleted)
	} else {
		emit(model.StatusFailed)
	}
	return result
}

func (o *Orchestrator) preflight(ctx context.Context, tokens []model.Token, owner string, chainID int64, target id.Target) ([]model.Token, string, error) {
	if !id.IsEVMAddress(owner) {
		return nil, "", clierr.New(clierr.CodeUsage, "Invalid owner address")
	}
	tokenOut, err := ResolveOutputToken(chainID, target)
	if err != nil {
		return nil, "", err
	}
	if err := ValidateTokens(tokens); err != nil {
		return nil, "", err
	}
	if o.wallet == nil {
		return nil, "", clierr.New(clierr.CodeSigner, "No wallet client available")
	}
	balance, err := o.wallet.BalanceAt(ctx, chainID, common.HexToAddress(owner))
	if err != nil {
		return nil, "", clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
	}
	if balance == nil || balance.Sign() == 0 {
		return nil, "", clierr.New(clierr.CodeUsage, msgInsufficientGas)
	}
	candidates := FilterTargetTokens(tokens, target, chainID)
	if len(candidates) == 0 {
		return nil, "", clierr.New(clierr.CodeUsage, msgNoValidTokens)
	}
	return candidates, tokenOut, nil
}

// ResolveOutputToken maps a sweep target to the quote destination currency.
// ETH resolves to the zero address, which the solver reads as native.
func ResolveOutputToken(chainID int64, target id.Target) (string, error) {
	if !registry.IsSupportedChain(chainID) {
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("Unsupported chain ID: %d", chainID))
	}
	switch target {
	case id.TargetETH, "":
		return registry.ZeroAddress, nil
	default:
		addr, ok := registry.TokenAddress(chainID, string(target))
		if !ok {
			return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s is not configured on chain %d", target, chainID))
		}
		return addr, nil
	}
}

// FilterTargetTokens drops tokens that are already the target asset.
func FilterTargetTokens(tokens []model.Token, target id.Target, chainID int64) []model.Token {
	excluded := map[string]bool{strings.ToUpper(string(target)): true}
	if target == id.TargetETH || target == "" {
		native := strings.ToUpper(registry.NativeSymbol(chainID))
		excluded["ETH"] = true
		excluded["WETH"] = true
		excluded[native] = true
		excluded["W"+native] = true
	}
	return lo.Filter(tokens, func(token model.Token, _ int) bool {
		return !excluded[strings.ToUpper(strings.TrimSpace(token.Symbol))]
	})
}

type sweepRun struct {
	*Orchestrator
	owner    common.Address
	chainID  int64
	tokenOut string
	emit     StatusFunc
}

func (r sweepRun) quote(ctx context.Context, token model.Token) *model.QuoteResponse {
	if r.quotes == nil {
		return nil
	}
	req := model.NewQuoteRequest(token, r.tokenOut, r.owner.Hex())
	req.ChainID = r.chainID
	req.TokenIn.ChainID = r.chainID
	quote := r.quotes.GetQuoteWithRetry(ctx, req)
	step := RunStep{Type: StepTypeQuote, Status: StepStatusConfirmed, Token: token.Symbol}
	switch {
	case quote == nil:
		step.Status = StepStatusFailed
		step.Detail = "no quote"
	case !quote.IsLiquid:
		step.Status = StepStatusSkipped
		step.Detail = quote.RouteDescription
	default:
		step.Target = quote.To
		step.Detail = fmt.Sprintf("out=%s impact=%.2f%%", bigString(quote.OutAmount), quote.PriceImpact)
	}
	r.record(step)
	return quote
}

// approvalCall returns the approve call a swap through spender needs, or nil.
func (r sweepRun) approvalCall(ctx context.Context, token model.Token, spender string) (*model.Call, error) {
	if isNativeToken(token.Address) {
		return nil, nil
	}
	check := r.allowances.CheckAllowance(ctx, r.chainID, token.Address, token.Balance, spender, r.owner.Hex())
	if !check.NeedsApproval {
		return nil, nil
	}
	call, err := planner.BuildApproveCall(token.Address, spender, check.RequiredAmount)
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (r sweepRun) batch(ctx context.Context, tokens []model.Token) model.ExecutionResult {
	var (
		calls     []model.Call
		errs      []string
		succeeded []model.Token
		failed    []string
		totalOut  = new(big.Int)
	)
	for i, token := range tokens {
		if i > 0 {
			if err := r.sleep(ctx, r.delays.BatchQuote); err != nil {
				return failedResult(err.Error())
			}
		}
		quote := r.quote(ctx, token)
		if quote == nil || !quote.IsLiquid {
			reason := msgNoRoute
			if quote != nil && quote.RouteDescription != "" {
				reason = quote.RouteDescription
			}
			errs = append(errs, token.Symbol+": "+reason)
			failed = append(failed, token.Symbol)
			continue
		}
		if isZeroAddress(quote.To) || isEmptyCalldata(quote.Data) {
			errs = append(errs, token.Symbol+": Invalid quote")
			failed = append(failed, token.Symbol)
			continue
		}
		approval, err := r.approvalCall(ctx, token, quoteSpender(quote))
		if err != nil {
			errs = append(errs, token.Symbol+": "+err.Error())
			failed = append(failed, token.Symbol)
			continue
		}
		if approval != nil {
			calls = append(calls, *approval)
		}
		calls = append(calls, model.Call{To: quote.To, Data: quote.Data, Value: bigOrZero(quote.Value)})
		succeeded = append(succeeded, token)
		totalOut.Add(totalOut, bigOrZero(quote.OutAmount))
	}
	if len(calls) == 0 {
		return failedResult("No valid swaps to execute. " + strings.Join(errs, " | "))
	}

	r.emit(model.StatusSwapping)
	raw, err := r.wallet.SendCalls(ctx, NewSendCallsRequest(r.chainID, r.owner, calls))
	if err != nil {
		if IsUserRejection(err) {
			r.record(RunStep{Type: StepTypeBatch, Status: StepStatusFailed, Detail: MsgUserRejected})
			return failedResult(MsgUserRejected)
		}
		logger.Warnf("[Sweep] batch submission failed, falling back to sequential execution: %v", err)
		r.record(RunStep{Type: StepTypeBatch, Status: StepStatusFailed, Detail: err.Error()})
		return r.legacy(ctx, tokens)
	}
	ref := BatchReference(raw)
	if ref == "" {
		r.record(RunStep{Type: StepTypeBatch, Status: StepStatusFailed, Detail: "empty batch reference"})
		return failedResult("wallet returned no batch reference")
	}
	r.record(RunStep{Type: StepTypeBatch, Status: StepStatusSubmitted, TxHash: ref, Detail: fmt.Sprintf("%d calls", len(calls))})
	if strings.HasPrefix(ref, "0x") {
		r.confirmBatch(ctx, ref)
	}

	result := model.ExecutionResult{
		Success:          true,
		TxHashes:         []string{ref},
		TotalSwapped:     sumBalances(succeeded),
		EstimatedOutput:  totalOut,
		SuccessfulTokens: lo.Map(succeeded, func(t model.Token, _ int) string { return t.Symbol }),
		FailedTokens:     failed,
	}
	if len(errs) > 0 {
		result.Error = "Partial: " + strings.Join(errs, " | ")
	}
	return result
}

// confirmBatch waits for the bundle receipt. Submission already counts as
// success, so failures here are only logged.
func (r sweepRun) confirmBatch(ctx context.Context, ref string) {
	if len(ref) != 66 {
		logger.Debugf("[Sweep] batch reference %s is not a transaction hash", ref)
		return
	}
	ok, err := r.wallet.WaitForReceipt(ctx, r.chainID, common.HexToHash(ref))
	switch {
	case err != nil:
		logger.Infof("[Sweep] could not wait for batch receipt: %v", err)
	case ok:
		r.record(RunStep{Type: StepTypeBatch, Status: StepStatusConfirmed, TxHash: ref})
	default:
		logger.Warnf("[Sweep] batch %s receipt reports failure", ref)
	}
}

func (r sweepRun) legacy(ctx context.Context, tokens []model.Token) model.ExecutionResult {
	var (
		hashes       []string
		errs         []string
		succeeded    []string
		failed       []string
		totalSwapped = new(big.Int)
		totalOut     = new(big.Int)
	)
	rejected := false
	for i, token := range tokens {
		if i > 0 {
			if err := r.sleep(ctx, r.delays.LegacyToken); err != nil {
				errs = append(errs, err.Error())
				break
			}
		}
		out, err := r.swapToken(ctx, token, &hashes)
		if err != nil {
			failed = append(failed, token.Symbol)
			if IsUserRejection(err) {
				logger.Warnf("[Sweep] %s rejected by user, stopping", token.Symbol)
				rejected = true
				break
			}
			errs = append(errs, token.Symbol+": "+err.Error())
			continue
		}
		succeeded = append(succeeded, token.Symbol)
		totalSwapped.Add(totalSwapped, bigOrZero(token.Balance))
		totalOut.Add(totalOut, out)
	}

	result := model.ExecutionResult{
		Success:          len(hashes) > 0,
		TxHashes:         hashes,
		TotalSwapped:     totalSwapped,
		EstimatedOutput:  totalOut,
		SuccessfulTokens: succeeded,
		FailedTokens:     failed,
	}
	switch {
	case rejected:
		result.Error = MsgUserRejected
	case len(hashes) == 0 && len(errs) > 0:
		result.Error = "Execution Failed: " + strings.Join(errs, " | ")
	case len(hashes) == 0:
		result.Error = msgNoLiquidRoutes
	case len(errs) > 0:
		result.Error = strings.Join(errs, " | ")
	}
	if len(hashes) == 0 {
		result.TxHashes = []string{}
	}
	return result
}

// swapToken runs quote, optional approval and swap for one token. Submitted
// hashes are appended to hashes even when a later step fails.
func (r sweepRun) swapToken(ctx context.Context, token model.Token, hashes *[]string) (*big.Int, error) {
	quote := r.quote(ctx, token)
	switch {
	case quote == nil:
		return nil, clierr.New(clierr.CodeUnavailable, "Failed to get quote")
	case !quote.IsLiquid:
		reason := quote.RouteDescription
		if reason == "" {
			reason = msgNoRoute
		}
		return nil, clierr.New(clierr.CodeNoRoute, reason)
	case isZeroAddress(quote.To):
		return nil, clierr.New(clierr.CodeNoRoute, "Invalid quote - no destination address")
	case isEmptyCalldata(quote.Data):
		return nil, clierr.New(clierr.CodeNoRoute, "Invalid quote - no transaction data")
	}

	approval, err := r.approvalCall(ctx, token, quoteSpender(quote))
	if err != nil {
		return nil, err
	}
	if approval != nil {
		r.emit(model.StatusApproving)
		if err := r.sendAndWait(ctx, StepTypeApproval, token.Symbol, *approval, "Approval transaction failed", hashes); err != nil {
			return nil, err
		}
		if err := r.sleep(ctx, r.delays.PostApproval); err != nil {
			return nil, err
		}
	}

	r.emit(model.StatusSwapping)
	swap := model.Call{To: quote.To, Data: quote.Data, Value: bigOrZero(quote.Value)}
	if err := r.sendAndWait(ctx, StepTypeSwap, token.Symbol, swap, "Swap transaction failed", hashes); err != nil {
		return nil, err
	}
	return bigOrZero(quote.OutAmount), nil
}

func (r sweepRun) sendAndWait(ctx context.Context, stepType StepType, symbol string, call model.Call, revertMsg string, hashes *[]string) error {
	hash, err := r.wallet.SendTransaction(ctx, r.chainID, call)
	if err != nil {
		r.record(RunStep{Type: stepType, Status: StepStatusFailed, Token: symbol, Target: call.To, Detail: err.Error()})
		if IsUserRejection(err) {
			return clierr.Wrap(clierr.CodeUserRejected, MsgUserRejected, err)
		}
		return err
	}
	*hashes = append(*hashes, hash.Hex())
	r.record(RunStep{Type: stepType, Status: StepStatusSubmitted, Token: symbol, Target: call.To, TxHash: hash.Hex()})

	ok, err := r.wallet.WaitForReceipt(ctx, r.chainID, hash)
	if err != nil {
		r.record(RunStep{Type: stepType, Status: StepStatusFailed, Token: symbol, TxHash: hash.Hex(), Detail: err.Error()})
		return err
	}
	if !ok {
		r.record(RunStep{Type: stepType, Status: StepStatusFailed, Token: symbol, TxHash: hash.Hex(), Detail: revertMsg})
		return clierr.New(clierr.CodeExecutionFailed, revertMsg)
	}
	r.record(RunStep{Type: stepType, Status: StepStatusConfirmed, Token: symbol, TxHash: hash.Hex()})
	return nil
}

func (o *Orchestrator) record(step RunStep) {
	if o.recorder != nil {
		o.recorder.Record(step)
	}
}

func failedResult(msg string) model.ExecutionResult {
	return model.ExecutionResult{
		Success:         false,
		TxHashes:        []string{},
		Error:           msg,
		TotalSwapped:    new(big.Int),
		EstimatedOutput: new(big.Int),
	}
}

func quoteSpender(quote *model.QuoteResponse) string {
	if quote.Spender != "" {
		return quote.Spender
	}
	return quote.To
}

func isNativeToken(address string) bool {
	return strings.EqualFold(address, registry.NativeTokenAddress) || isZeroAddress(address)
}

func isZeroAddress(address string) bool {
	return strings.TrimSpace(address) == "" || strings.EqualFold(address, registry.ZeroAddress)
}

func isEmptyCalldata(data string) bool {
	data = strings.TrimSpace(data)
	return data == "" || data == "0x"
}

func sumBalances(tokens []model.Token) *big.Int {
	return lo.Reduce(tokens, func(acc *big.Int, t model.Token, _ int) *big.Int {
		return acc.Add(acc, bigOrZero(t.Balance))
	}, new(big.Int))
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
