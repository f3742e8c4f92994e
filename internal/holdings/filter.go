package holdings

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/registry"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// MinVisibleValueUSD hides positions worth less than this.
const MinVisibleValueUSD = 0.0001

var spamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)visit`),
	regexp.MustCompile(`(?i)claim`),
	regexp.MustCompile(`(?i)free`),
	regexp.MustCompile(`(?i)gift`),
	regexp.MustCompile(`(?i)reward`),
	regexp.MustCompile(`(?i)voucher`),
	regexp.MustCompile(`(?i)airdrop`),
	regexp.MustCompile(`(?i)http`),
	regexp.MustCompile(`(?i)\.com`),
	regexp.MustCompile(`(?i)\.io`),
	regexp.MustCompile(`(?i)\.net`),
	regexp.MustCompile(`(?i)\.org`),
	regexp.MustCompile(`(?i)www\.`),
}

var lowRiskSymbols = map[string]bool{
	"USDC": true, "USDC.E": true, "USDT": true, "DAI": true, "FRAX": true, "USDT.E": true,
	"WETH": true, "ETH": true, "WBTC": true, "UNI": true, "LINK": true, "WSTETH": true,
	"AAVE": true, "WMATIC": true, "MATIC": true, "POL": true, "WPOL": true,
}

// IsSpam reports scam-style names and symbols, and symbols longer than 12.
func IsSpam(symbol, name string) bool {
	if len(symbol) > 12 {
		return true
	}
	return lo.SomeBy(spamPatterns, func(p *regexp.Regexp) bool {
		return p.MatchString(symbol) || p.MatchString(name)
	})
}

func InvalidDecimals(decimals int) bool {
	return decimals == 0 || decimals > 30
}

func AssessRisk(symbol string, isTaxToken bool) model.RiskLevel {
	if isTaxToken {
		return model.RiskHigh
	}
	if lowRiskSymbols[strings.ToUpper(symbol)] {
		return model.RiskLow
	}
	return model.RiskMedium
}

// FormatBalance renders a base-unit balance for display: "<0.0001" for tiny
// amounts, then 4, 2, K and M precision tiers.
func FormatBalance(balance *big.Int, decimals int) string {
	if balance == nil || balance.Sign() == 0 {
		return "0"
	}
	d := decimal.NewFromBigInt(balance, int32(-decimals))
	switch {
	case d.LessThan(decimal.NewFromFloat(0.0001)):
		return "<0.0001"
	case d.LessThan(decimal.NewFromInt(1)):
		return d.StringFixed(4)
	case d.LessThan(decimal.NewFromInt(1000)):
		return d.StringFixed(2)
	case d.LessThan(decimal.NewFromInt(1_000_000)):
		return d.Div(decimal.NewFromInt(1000)).StringFixed(2) + "K"
	default:
		return d.Div(decimal.NewFromInt(1_000_000)).StringFixed(2) + "M"
	}
}

type DustFilter struct {
	MinValueUSD       float64
	MaxValueUSD       float64
	ExcludeTaxTokens  bool
	AllowedRiskLevels []model.RiskLevel
}

func DefaultDustFilter() DustFilter {
	return DustFilter{
		MinValueUSD:       0,
		MaxValueUSD:       100_000,
		AllowedRiskLevels: []model.RiskLevel{model.RiskLow, model.RiskMedium, model.RiskHigh},
	}
}

// FilterDust keeps tokens inside the value range whose risk level is allowed.
// With ExcludeTaxTokens, fee tokens and blocklisted addresses are dropped.
func FilterDust(tokens []model.Token, filter DustFilter) []model.Token {
	return lo.Filter(tokens, func(t model.Token, _ int) bool {
		if t.ValueUSD < filter.MinValueUSD || t.ValueUSD > filter.MaxValueUSD {
			return false
		}
		if filter.ExcludeTaxTokens && (t.IsTaxToken || registry.IsBlocklistedToken(t.Address)) {
			return false
		}
		return lo.Contains(filter.AllowedRiskLevels, t.RiskLevel)
	})
}

func TotalValue(tokens []model.Token) float64 {
	return lo.SumBy(tokens, func(t model.Token) float64 { return t.ValueUSD })
}
