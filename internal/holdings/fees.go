package holdings

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/registry"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
)

const (
	feeCacheTTL     = 30 * time.Minute
	feeCacheCleanup = 10 * time.Minute
)

// FeeDetector flags fee-on-transfer tokens. Verdicts are cached per chain and
// address, including negative ones.
type FeeDetector struct {
	reader ContractReader
	cache  *cache.Cache
}

func NewFeeDetector(reader ContractReader) *FeeDetector {
	return &FeeDetector{reader: reader, cache: cache.New(feeCacheTTL, feeCacheCleanup)}
}

func feeCacheKey(chainID int64, address string) string {
	return fmt.Sprintf("%d-%s", chainID, strings.ToLower(address))
}

// IsTransferFeeToken checks the known fee table, then probes the token for a
// non-zero transfer fee getter. Probe failures count as no fee.
func (d *FeeDetector) IsTransferFeeToken(ctx context.Context, chainID int64, address string) bool {
	return d.Detect(ctx, chainID, []string{address})[strings.ToLower(address)]
}

// Detect returns a verdict per valid address, keyed by lowercase address.
func (d *FeeDetector) Detect(ctx context.Context, chainID int64, addresses []string) map[string]bool {
	results := make(map[string]bool, len(addresses))
	var uncached []string
	for _, addr := range addresses {
		if !id.IsEVMAddress(addr) {
			continue
		}
		norm := strings.ToLower(addr)
		if norm == strings.ToLower(registry.ZeroAddress) {
			results[norm] = false
			continue
		}
		if v, ok := d.cache.Get(feeCacheKey(chainID, norm)); ok {
			results[norm] = v.(bool)
			continue
		}
		if registry.IsKnownTaxToken(chainID, norm) {
			d.cache.SetDefault(feeCacheKey(chainID, norm), true)
			results[norm] = true
			continue
		}
		uncached = append(uncached, norm)
	}
	if len(uncached) == 0 {
		return results
	}

	verdicts := make([]bool, len(uncached))
	var g errgroup.Group
	g.SetLimit(8)
	for i, addr := range uncached {
		g.Go(func() error {
			verdicts[i] = d.probe(ctx, chainID, addr)
			return nil
		})
	}
	_ = g.Wait()
	for i, addr := range uncached {
		d.cache.SetDefault(feeCacheKey(chainID, addr), verdicts[i])
		results[addr] = verdicts[i]
	}
	return results
}

func (d *FeeDetector) probe(ctx context.Context, chainID int64, address string) bool {
	if d.reader == nil {
		return false
	}
	token := common.HexToAddress(address)
	for _, method := range registry.TransferFeeMethods {
		data, err := transferFeeABI.Pack(method)
		if err != nil {
			continue
		}
		raw, err := d.reader.CallContract(ctx, chainID, token, data)
		if err != nil || len(raw) == 0 {
			continue
		}
		out, err := transferFeeABI.Unpack(method, raw)
		if err != nil || len(out) == 0 {
			continue
		}
		if fee, ok := out[0].(*big.Int); ok && fee.Sign() > 0 {
			logger.Debugf("[Holdings] %s reports %s=%s", address, method, fee)
			return true
		}
	}
	return false
}
