package execution

import (
	"context"
	"math/big"

	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/registry"
)

const (
	GasLimitApprove       uint64 = 50_000
	GasLimitSwap          uint64 = 180_000
	GasLimitBatchOverhead uint64 = 100_000
)

type GasPricer interface {
	SuggestGasPrice(ctx context.Context, chainID int64) (*big.Int, error)
}

// EstimateGasUnits assumes one approval per token on the legacy path.
func EstimateGasUnits(strategy model.ExecutionStrategy, n int) uint64 {
	if n <= 0 {
		return 0
	}
	if strategy == model.StrategyLegacy {
		return (GasLimitApprove + GasLimitSwap) * uint64(n)
	}
	return GasLimitBatchOverhead + GasLimitSwap*uint64(n)
}

// EstimateGasCost prices a sweep of n tokens. Pricing failures leave the
// cost fields at zero.
func EstimateGasCost(ctx context.Context, pricer GasPricer, chainID int64, strategy model.ExecutionStrategy, n int) model.GasEstimate {
	est := model.GasEstimate{
		Strategy:         strategy,
		TokenCount:       n,
		TransactionCount: EstimateTransactionCount(strategy, n),
		GasUnits:         EstimateGasUnits(strategy, n),
	}
	if n <= 0 {
		est.TransactionCount = 0
		return est
	}
	if pricer == nil {
		return est
	}
	gasPrice, err := pricer.SuggestGasPrice(ctx, chainID)
	if err != nil || gasPrice == nil {
		logger.Warnf("[Gas] gas price lookup on chain %d failed: %v", chainID, err)
		return est
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(est.GasUnits), gasPrice)
	est.GasPriceWei = gasPrice
	est.CostNative = id.UnitsToFloat(wei, 18)
	est.CostUSD = est.CostNative * registry.NativePriceUSD(chainID)
	logger.Debugf("[Gas] chain=%d tokens=%d cost_usd=%.4f", chainID, n, est.CostUSD)
	return est
}

// EstimateGasCostUSD is the USD figure of EstimateGasCost.
func EstimateGasCostUSD(ctx context.Context, pricer GasPricer, chainID int64, strategy model.ExecutionStrategy, n int) float64 {
	return EstimateGasCost(ctx, pricer, chainID, strategy, n).CostUSD
}
