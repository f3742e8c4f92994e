package execution

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

// StrategySink stores the last detected strategy for the active wallet.
type StrategySink interface {
	SetStrategy(strategy model.ExecutionStrategy)
}

type Detector struct {
	wallet CapabilityQuerier
	sink   StrategySink
}

func NewDetector(wallet CapabilityQuerier, sink StrategySink) *Detector {
	return &Detector{wallet: wallet, sink: sink}
}

// Detect probes wallet capabilities once. Query failures resolve to LEGACY.
func (d *Detector) Detect(ctx context.Context, address string, chainID int64) model.ExecutionStrategy {
	strategy := model.StrategyLegacy
	if d.wallet != nil && common.IsHexAddress(address) {
		caps, err := d.wallet.GetCapabilities(ctx, common.HexToAddress(address))
		switch {
		case err != nil:
			logger.Debugf("[Strategy] capability query failed: %v", err)
		case supportsAtomicBatch(caps, chainID):
			strategy = model.StrategyStandardBatch
		}
	}
	if d.sink != nil {
		d.sink.SetStrategy(strategy)
	}
	return strategy
}

func supportsAtomicBatch(caps Capabilities, chainID int64) bool {
	for key, chainCaps := range caps {
		if parseCapabilityChainID(key) != chainID {
			continue
		}
		if raw, ok := chainCaps["atomicBatch"]; ok {
			var v struct {
				Supported bool `json:"supported"`
			}
			if json.Unmarshal(raw, &v) == nil && v.Supported {
				return true
			}
		}
		if raw, ok := chainCaps["atomic"]; ok {
			var v struct {
				Status string `json:"status"`
			}
			if json.Unmarshal(raw, &v) == nil {
				switch v.Status {
				case "supported", "ready":
					return true
				}
			}
		}
	}
	return false
}

func parseCapabilityChainID(key string) int64 {
	key = strings.TrimSpace(strings.ToLower(key))
	var (
		n   int64
		err error
	)
	if strings.HasPrefix(key, "0x") {
		n, err = strconv.ParseInt(strings.TrimPrefix(key, "0x"), 16, 64)
	} else {
		n, err = strconv.ParseInt(key, 10, 64)
	}
	if err != nil {
		return -1
	}
	return n
}

func StrategyDescription(strategy model.ExecutionStrategy) string {
	switch strategy {
	case model.StrategySmartBatch:
		return "Smart Batch (EIP-7702) - Single signature for multiple swaps with delegation"
	case model.StrategyStandardBatch:
		return "Standard Batch (EIP-5792) - Multiple approvals and swaps in one transaction"
	default:
		return "Legacy - Sequential transactions (approve + swap for each token)"
	}
}

// EstimateTransactionCount is the number of signatures a sweep of n tokens
// asks for. Legacy assumes every token needs an approval.
func EstimateTransactionCount(strategy model.ExecutionStrategy, n int) int {
	switch strategy {
	case model.StrategySmartBatch, model.StrategyStandardBatch:
		return 1
	default:
		return 2 * n
	}
}
