package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/registry"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

type Chain struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
}

// Target is one of the consolidation assets a sweep can output.
type Target string

const (
	TargetETH  Target = "ETH"
	TargetUSDC Target = "USDC"
	TargetDAI  Target = "DAI"
)

var slugAliases = map[string]int64{
	"ethereum": 1,
	"mainnet":  1,
	"eth":      1,
	"optimism": 10,
	"op":       10,
	"bsc":      56,
	"bnb":      56,
	"polygon":  137,
	"matic":    137,
	"base":     8453,
	"arbitrum": 42161,
	"arb":      42161,
}

func chainFromID(chainID int64) (Chain, bool) {
	info, ok := registry.Chain(chainID)
	if !ok {
		return Chain{}, false
	}
	return Chain{Name: info.Name, Slug: info.Slug, CAIP2: fmt.Sprintf("eip155:%d", chainID), EVMChainID: chainID}, true
}

// ParseChain accepts a slug, numeric chain id or CAIP-2 id of a supported chain.
func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	var chainID int64
	switch {
	case slugAliases[norm] != 0:
		chainID = slugAliases[norm]
	case eip155ChainPattern.MatchString(norm):
		chainID, _ = strconv.ParseInt(strings.TrimPrefix(norm, "eip155:"), 10, 64)
	default:
		n, err := strconv.ParseInt(norm, 10, 64)
		if err != nil {
			return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
		}
		chainID = n
	}

	chain, ok := chainFromID(chainID)
	if !ok {
		return Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("Unsupported chain ID: %d", chainID))
	}
	return chain, nil
}

// ParseChains parses a comma separated chain list. Empty input means all supported chains.
func ParseChains(input string) ([]Chain, error) {
	if strings.TrimSpace(input) == "" {
		ids := registry.SupportedChainIDs()
		out := make([]Chain, 0, len(ids))
		for _, chainID := range ids {
			chain, _ := chainFromID(chainID)
			out = append(out, chain)
		}
		return out, nil
	}
	var out []Chain
	seen := map[int64]bool{}
	for _, part := range strings.Split(input, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chain, err := ParseChain(part)
		if err != nil {
			return nil, err
		}
		if seen[chain.EVMChainID] {
			continue
		}
		seen[chain.EVMChainID] = true
		out = append(out, chain)
	}
	return out, nil
}

func ParseTarget(input string) (Target, error) {
	switch Target(strings.ToUpper(strings.TrimSpace(input))) {
	case TargetETH:
		return TargetETH, nil
	case TargetUSDC:
		return TargetUSDC, nil
	case TargetDAI:
		return TargetDAI, nil
	default:
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("target must be ETH, USDC or DAI, got %q", input))
	}
}

// IsEVMAddress reports whether input is a 0x-prefixed 20-byte hex address.
func IsEVMAddress(input string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(input))
}

func ParseAddress(input, field string) (common.Address, error) {
	raw := strings.TrimSpace(input)
	if !IsEVMAddress(raw) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a valid EVM address", field))
	}
	return common.HexToAddress(raw), nil
}
