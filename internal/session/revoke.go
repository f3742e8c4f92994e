package session

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/registry"
	"github.com/samber/lo"
)

type RevokeStatus string

const (
	RevokeIdle      RevokeStatus = "IDLE"
	RevokeScanning  RevokeStatus = "SCANNING"
	RevokeRevoking  RevokeStatus = "REVOKING"
	RevokeCompleted RevokeStatus = "COMPLETED"
	RevokeFailed    RevokeStatus = "FAILED"
)

type ApprovalsScanner interface {
	GetAllApprovals(ctx context.Context, owner string, chainIDs []int64) []model.ChainApprovals
}

// Flattener turns per-chain scan results into revoke items.
type Flattener func(results []model.ChainApprovals) []model.RevokeItem

type Revoker interface {
	ExecuteBatchRevoke(ctx context.Context, items []model.RevokeItem, owner string, chainID int64, onProgress execution.ProgressFunc) model.RevokeBatchResult
	ExecuteLegacyRevoke(ctx context.Context, items []model.RevokeItem, owner string, chainID int64, onProgress execution.ProgressFunc) model.RevokeBatchResult
	ExecuteSingleRevoke(ctx context.Context, item model.RevokeItem, owner string, chainID int64) model.SingleRevokeResult
	ExecutePartialRevoke(ctx context.Context, item model.RevokeItem, newAllowance *big.Int, chainID int64) model.SingleRevokeResult
}

type RevokeFilter struct {
	MinValueAtRisk float64
	Chains         []int64
}

type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type ChainStat struct {
	ChainID        int64   `json:"chain_id"`
	Count          int     `json:"count"`
	ValueAtRisk    float64 `json:"value_at_risk_usd"`
	UnlimitedCount int     `json:"unlimited_count"`
	HighRiskCount  int     `json:"high_risk_count"`
}

// RevokeSession is the approvals working set of one owner: scanned items,
// their selection flags and the outcome of the last revoke.
type RevokeSession struct {
	mu      sync.Mutex
	wallet  *WalletState
	scanner ApprovalsScanner
	flatten Flattener
	revoker Revoker

	status   RevokeStatus
	results  []model.ChainApprovals
	items    []model.RevokeItem
	filter   RevokeFilter
	err      string
	lastScan time.Time
	progress *Progress
	result   *model.RevokeBatchResult
	hook     execution.ProgressFunc

	epoch Epoch
}

func NewRevokeSession(wallet *WalletState, scanner ApprovalsScanner, flatten Flattener, revoker Revoker) *RevokeSession {
	return &RevokeSession{
		wallet:  wallet,
		scanner: scanner,
		flatten: flatten,
		revoker: revoker,
		status:  RevokeIdle,
		filter:  RevokeFilter{Chains: registry.SupportedChainIDs()},
	}
}

// Scan replaces the item list with a fresh approvals scan of chainIDs, or of
// the filter's chains when chainIDs is empty.
func (s *RevokeSession) Scan(ctx context.Context, owner string, chainIDs []int64) error {
	if !id.IsEVMAddress(owner) {
		return clierr.New(clierr.CodeUsage, "Invalid wallet address")
	}
	s.mu.Lock()
	if len(chainIDs) == 0 {
		chainIDs = append([]int64(nil), s.filter.Chains...)
	}
	s.status = RevokeScanning
	s.err = ""
	s.items, s.results = nil, nil
	s.mu.Unlock()

	ticket := s.epoch.Begin()
	results := s.scanner.GetAllApprovals(ctx, owner, chainIDs)
	items := s.flatten(results)
	if !s.epoch.Current(ticket) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = results
	s.items = items
	s.lastScan = time.Now().UTC()
	s.status = RevokeIdle
	return nil
}

func (s *RevokeSession) ToggleItem(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for i := range s.items {
		if s.items[i].ID == itemID {
			s.items[i].Selected = !s.items[i].Selected
			found = true
		}
	}
	return found
}

func (s *RevokeSession) SelectAll() {
	s.selectWhere(func(model.RevokeItem) bool { return true })
}

func (s *RevokeSession) SelectNone() {
	s.selectWhere(func(model.RevokeItem) bool { return false })
}

func (s *RevokeSession) SelectHighRisk() {
	s.selectWhere(func(item model.RevokeItem) bool { return item.RiskFactor == model.RiskFactorHigh })
}

func (s *RevokeSession) SelectUnlimited() {
	s.selectWhere(func(item model.RevokeItem) bool { return item.IsUnlimited })
}

func (s *RevokeSession) SelectByChain(chainID int64) {
	s.selectWhere(func(item model.RevokeItem) bool { return item.ChainID == chainID })
}

// SelectIDs selects exactly the listed items and returns the ids it did not find.
func (s *RevokeSession) SelectIDs(ids []string) []string {
	wanted := lo.SliceToMap(ids, func(v string) (string, bool) { return v, true })
	s.selectWhere(func(item model.RevokeItem) bool { return wanted[item.ID] })
	s.mu.Lock()
	defer s.mu.Unlock()
	known := lo.SliceToMap(s.items, func(item model.RevokeItem) (string, bool) { return item.ID, true })
	return lo.Filter(ids, func(v string, _ int) bool { return !known[v] })
}

func (s *RevokeSession) selectWhere(pred func(model.RevokeItem) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		s.items[i].Selected = pred(s.items[i])
	}
}

// SetProgressHook registers fn to observe revoke progress in addition to
// Progress.
func (s *RevokeSession) SetProgressHook(fn execution.ProgressFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

func (s *RevokeSession) SetFilter(filter RevokeFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if filter.Chains == nil {
		filter.Chains = s.filter.Chains
	}
	s.filter = filter
}

// ExecuteRevoke revokes the selected items on chainID. Batch-capable wallets
// get one bundle; others revoke item by item. Revoked items leave the list.
func (s *RevokeSession) ExecuteRevoke(ctx context.Context, owner string, chainID int64) (model.RevokeBatchResult, error) {
	toRevoke := lo.Filter(s.Selected(), func(item model.RevokeItem, _ int) bool { return item.ChainID == chainID })
	if len(toRevoke) == 0 {
		s.mu.Lock()
		s.err = "No items selected for this chain"
		s.mu.Unlock()
		return model.RevokeBatchResult{}, clierr.New(clierr.CodeUsage, "No items selected for this chain")
	}

	s.mu.Lock()
	s.status = RevokeRevoking
	s.err = ""
	s.result = nil
	s.progress = &Progress{Total: len(toRevoke)}
	s.mu.Unlock()

	onProgress := func(current, total int) {
		s.mu.Lock()
		s.progress = &Progress{Current: current, Total: total}
		hook := s.hook
		s.mu.Unlock()
		if hook != nil {
			hook(current, total)
		}
	}
	var result model.RevokeBatchResult
	switch s.wallet.Strategy() {
	case model.StrategySmartBatch, model.StrategyStandardBatch:
		result = s.revoker.ExecuteBatchRevoke(ctx, toRevoke, owner, chainID, onProgress)
	default:
		result = s.revoker.ExecuteLegacyRevoke(ctx, toRevoke, owner, chainID, onProgress)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = nil
	s.result = &result
	revoked := lo.SliceToMap(result.RevokedIDs, func(v string) (string, bool) { return v, true })
	s.items = lo.Reject(s.items, func(item model.RevokeItem, _ int) bool { return revoked[item.ID] })
	if result.Success {
		s.status = RevokeCompleted
	} else {
		s.status = RevokeFailed
		s.err = strings.Join(result.Errors, " | ")
	}
	return result, nil
}

// RevokeSingle revokes one item directly and removes it on success.
func (s *RevokeSession) RevokeSingle(ctx context.Context, itemID, owner string) (model.SingleRevokeResult, error) {
	s.mu.Lock()
	item, ok := lo.Find(s.items, func(item model.RevokeItem) bool { return item.ID == itemID })
	if !ok {
		s.mu.Unlock()
		return model.SingleRevokeResult{}, clierr.New(clierr.CodeUsage, "unknown approval id "+itemID)
	}
	s.status = RevokeRevoking
	s.err = ""
	s.mu.Unlock()

	result := s.revoker.ExecuteSingleRevoke(ctx, item, owner, item.ChainID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if result.Success {
		s.items = lo.Reject(s.items, func(v model.RevokeItem, _ int) bool { return v.ID == itemID })
		s.status = RevokeCompleted
	} else {
		s.err = result.Error
		if s.err == "" {
			s.err = "Failed to revoke"
		}
		s.status = RevokeFailed
	}
	return result, nil
}

// RevokePartial lowers one ERC20 allowance. A zero allowance removes the item,
// otherwise the item stays with its new allowance.
func (s *RevokeSession) RevokePartial(ctx context.Context, itemID string, newAllowance *big.Int) (model.SingleRevokeResult, error) {
	if newAllowance == nil || newAllowance.Sign() < 0 {
		return model.SingleRevokeResult{}, clierr.New(clierr.CodeUsage, "allowance must be a non-negative integer")
	}
	s.mu.Lock()
	item, ok := lo.Find(s.items, func(item model.RevokeItem) bool { return item.ID == itemID })
	if !ok {
		s.mu.Unlock()
		return model.SingleRevokeResult{}, clierr.New(clierr.CodeUsage, "unknown approval id "+itemID)
	}
	s.status = RevokeRevoking
	s.err = ""
	s.mu.Unlock()

	result := s.revoker.ExecutePartialRevoke(ctx, item, newAllowance, item.ChainID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !result.Success {
		s.err = result.Error
		if s.err == "" {
			s.err = "Failed to update allowance"
		}
		s.status = RevokeFailed
		return result, nil
	}
	s.status = RevokeCompleted
	if newAllowance.Sign() == 0 {
		s.items = lo.Reject(s.items, func(v model.RevokeItem, _ int) bool { return v.ID == itemID })
		return result, nil
	}
	s.items = lo.Map(s.items, func(v model.RevokeItem, _ int) model.RevokeItem {
		if v.ID == itemID {
			v.AllowanceRaw = new(big.Int).Set(newAllowance)
			v.Allowance = id.FormatUnits(newAllowance, v.TokenDecimals)
			v.IsUnlimited = false
		}
		return v
	})
	return result, nil
}

func (s *RevokeSession) Reset() {
	s.epoch.Invalidate()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = RevokeIdle
	s.results, s.items = nil, nil
	s.err = ""
	s.lastScan = time.Time{}
	s.progress, s.result = nil, nil
}

func (s *RevokeSession) Items() []model.RevokeItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RevokeItem(nil), s.items...)
}

func (s *RevokeSession) Results() []model.ChainApprovals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChainApprovals(nil), s.results...)
}

func (s *RevokeSession) Selected() []model.RevokeItem {
	return lo.Filter(s.Items(), func(item model.RevokeItem, _ int) bool { return item.Selected })
}

// FilteredItems applies the chain and minimum value filter.
func (s *RevokeSession) FilteredItems() []model.RevokeItem {
	s.mu.Lock()
	filter := s.filter
	s.mu.Unlock()
	return lo.Filter(s.Items(), func(item model.RevokeItem, _ int) bool {
		return lo.Contains(filter.Chains, item.ChainID) && item.ValueAtRiskQuote >= filter.MinValueAtRisk
	})
}

// TotalValueAtRisk sums the token approval exposure reported by the scan.
func (s *RevokeSession) TotalValueAtRisk() float64 {
	return lo.SumBy(s.Results(), func(r model.ChainApprovals) float64 { return r.TotalValueAtRisk })
}

func (s *RevokeSession) SelectedValueAtRisk() float64 {
	return lo.SumBy(s.Selected(), func(item model.RevokeItem) float64 { return item.ValueAtRiskQuote })
}

// ChainStats summarizes items per supported chain, in chain id order.
func (s *RevokeSession) ChainStats() []ChainStat {
	grouped := lo.GroupBy(s.Items(), func(item model.RevokeItem) int64 { return item.ChainID })
	out := make([]ChainStat, 0, len(grouped))
	for _, chainID := range registry.SupportedChainIDs() {
		items := grouped[chainID]
		out = append(out, ChainStat{
			ChainID:        chainID,
			Count:          len(items),
			ValueAtRisk:    lo.SumBy(items, func(item model.RevokeItem) float64 { return item.ValueAtRiskQuote }),
			UnlimitedCount: lo.CountBy(items, func(item model.RevokeItem) bool { return item.IsUnlimited }),
			HighRiskCount:  lo.CountBy(items, func(item model.RevokeItem) bool { return item.RiskFactor == model.RiskFactorHigh }),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

func (s *RevokeSession) Status() RevokeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *RevokeSession) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *RevokeSession) Progress() *Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *RevokeSession) LastResult() *model.RevokeBatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}
