package execution

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/dustsweep/internal/execution/planner"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"golang.org/x/sync/errgroup"
)

type AllowanceChecker struct {
	reader ContractReader
}

func NewAllowanceChecker(reader ContractReader) *AllowanceChecker {
	return &AllowanceChecker{reader: reader}
}

type AllowanceQuery struct {
	Token   string
	Amount  *big.Int
	Spender string
}

// CheckAllowance reads allowance(owner, spender) on token. Malformed input and
// read failures both resolve to approval needed with a zero current allowance.
func (c *AllowanceChecker) CheckAllowance(ctx context.Context, chainID int64, token string, amount *big.Int, spender, owner string) model.AllowanceCheckResult {
	required := new(big.Int)
	if amount != nil {
		required.Set(amount)
	}
	result := model.AllowanceCheckResult{
		NeedsApproval:    true,
		CurrentAllowance: new(big.Int),
		RequiredAmount:   required,
		Token:            token,
		Spender:          spender,
	}
	if !id.IsEVMAddress(token) || !id.IsEVMAddress(spender) || !id.IsEVMAddress(owner) {
		logger.Warnf("[Allowance] invalid address input token=%q spender=%q owner=%q", token, spender, owner)
		return result
	}
	if c == nil || c.reader == nil {
		return result
	}

	data, err := planner.EncodeAllowanceCall(common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return result
	}
	raw, err := c.reader.CallContract(ctx, chainID, common.HexToAddress(token), data)
	if err != nil {
		logger.Warnf("[Allowance] read allowance for %s failed: %v", token, err)
		return result
	}
	current, err := planner.DecodeAllowance(raw)
	if err != nil {
		logger.Warnf("[Allowance] decode allowance for %s failed: %v", token, err)
		return result
	}
	result.CurrentAllowance = current
	result.NeedsApproval = current.Cmp(required) < 0
	return result
}

// CheckMultipleAllowances resolves each query independently. Results are
// index-aligned with queries.
func (c *AllowanceChecker) CheckMultipleAllowances(ctx context.Context, chainID int64, queries []AllowanceQuery, owner string) []model.AllowanceCheckResult {
	results := make([]model.AllowanceCheckResult, len(queries))
	var g errgroup.Group
	g.SetLimit(8)
	for i, q := range queries {
		g.Go(func() error {
			results[i] = c.CheckAllowance(ctx, chainID, q.Token, q.Amount, q.Spender, owner)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
