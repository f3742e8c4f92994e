package registry

import (
	"sort"
	"strings"
)

const (
	// NativeTokenAddress is the pseudo address holdings use for the native balance.
	NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
	ZeroAddress        = "0x0000000000000000000000000000000000000000"
)

type ChainInfo struct {
	ID           int64
	Name         string
	Slug         string
	NativeSymbol string
	Explorer     string
}

var chains = map[int64]ChainInfo{
	1:     {ID: 1, Name: "Ethereum", Slug: "ethereum", NativeSymbol: "ETH", Explorer: "https://etherscan.io"},
	10:    {ID: 10, Name: "Optimism", Slug: "optimism", NativeSymbol: "ETH", Explorer: "https://optimistic.etherscan.io"},
	56:    {ID: 56, Name: "BNB Chain", Slug: "bsc", NativeSymbol: "BNB", Explorer: "https://bscscan.com"},
	137:   {ID: 137, Name: "Polygon", Slug: "polygon", NativeSymbol: "POL", Explorer: "https://polygonscan.com"},
	8453:  {ID: 8453, Name: "Base", Slug: "base", NativeSymbol: "ETH", Explorer: "https://basescan.org"},
	42161: {ID: 42161, Name: "Arbitrum", Slug: "arbitrum", NativeSymbol: "ETH", Explorer: "https://arbiscan.io"},
}

// Output token table used to resolve sweep targets.
var tokenAddresses = map[int64]map[string]string{
	1: {
		"WETH": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		"USDC": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"USDT": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		"DAI":  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
	},
	42161: {
		"WETH": "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
		"USDC": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		"USDT": "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9",
		"DAI":  "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
	},
	8453: {
		"WETH": "0x4200000000000000000000000000000000000006",
		"USDC": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"DAI":  "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb",
	},
	137: {
		"WETH": "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
		"USDC": "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		"USDT": "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
		"DAI":  "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
	},
	10: {
		"WETH": "0x4200000000000000000000000000000000000006",
		"USDC": "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		"USDT": "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58",
		"DAI":  "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
	},
	56: {
		"WETH": "0x2170Ed0880ac9A755fd29B2688956BD959F933F8",
		"WBNB": "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
		"USDC": "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
		"USDT": "0x55d398326f99059fF775485246999027B3197955",
		"DAI":  "0x1AF3F329e8BE154074D8769D1FFa4eE058B1DBc3",
	},
}

// Known fee-on-transfer tokens keyed by chain and lowercase address.
var knownTaxTokens = map[int64]map[string]bool{
	8453: {"0xfb42da273158b0f642f59f2ba7cc1d5457481677": true},
}

var taxTokenBlocklist = map[string]bool{
	"0x000000000000000000000000000000000000dead": true,
}

// Fallback USD prices for the native gas token.
var nativePriceUSD = map[int64]float64{
	1:     3300,
	10:    3300,
	56:    600,
	137:   0.45,
	8453:  3300,
	42161: 3300,
}

func Chain(chainID int64) (ChainInfo, bool) {
	c, ok := chains[chainID]
	return c, ok
}

func IsSupportedChain(chainID int64) bool {
	_, ok := chains[chainID]
	return ok
}

// SupportedChainIDs returns the chain ids in ascending order.
func SupportedChainIDs() []int64 {
	out := make([]int64, 0, len(chains))
	for id := range chains {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func NativeSymbol(chainID int64) string {
	if c, ok := chains[chainID]; ok {
		return c.NativeSymbol
	}
	return "ETH"
}

func TokenAddress(chainID int64, symbol string) (string, bool) {
	byChain, ok := tokenAddresses[chainID]
	if !ok {
		return "", false
	}
	addr, ok := byChain[strings.ToUpper(strings.TrimSpace(symbol))]
	return addr, ok
}

// ChainTokenAddresses lists the table addresses for chainID, sorted by symbol.
func ChainTokenAddresses(chainID int64) []string {
	byChain := tokenAddresses[chainID]
	symbols := make([]string, 0, len(byChain))
	for symbol := range byChain {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	out := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		out = append(out, byChain[symbol])
	}
	return out
}

func IsBlocklistedToken(address string) bool {
	return taxTokenBlocklist[strings.ToLower(strings.TrimSpace(address))]
}

func IsKnownTaxToken(chainID int64, address string) bool {
	return knownTaxTokens[chainID][strings.ToLower(address)]
}

func NativePriceUSD(chainID int64) float64 {
	if v, ok := nativePriceUSD[chainID]; ok {
		return v
	}
	return 3300
}
