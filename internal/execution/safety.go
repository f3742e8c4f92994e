package execution

import (
	"fmt"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

const (
	MaxPriceImpactPercent  = 15.0
	WarnPriceImpactPercent = 5.0
)

// ValidateTokens returns a CodeSafetyBlocked error for the first violation.
// Checks run per token in severity order: fee-on-transfer, critical risk,
// empty balance, negative USD value.
func ValidateTokens(tokens []model.Token) error {
	for _, token := range tokens {
		if token.IsTaxToken {
			return clierr.New(clierr.CodeSafetyBlocked, fmt.Sprintf("%s is a fee-on-transfer (tax) token and cannot be swapped safely", token.Symbol))
		}
		if token.RiskLevel == model.RiskCritical {
			return clierr.New(clierr.CodeSafetyBlocked, fmt.Sprintf("%s has critical risk level", token.Symbol))
		}
		if token.Balance == nil || token.Balance.Sign() <= 0 {
			return clierr.New(clierr.CodeSafetyBlocked, fmt.Sprintf("%s has zero balance", token.Symbol))
		}
		if token.ValueUSD < 0 {
			return clierr.New(clierr.CodeSafetyBlocked, fmt.Sprintf("%s has invalid USD value", token.Symbol))
		}
	}
	return nil
}

// TokenWarnings lists non-blocking concerns such as HIGH risk tokens.
func TokenWarnings(tokens []model.Token) []string {
	var warnings []string
	for _, token := range tokens {
		if token.RiskLevel == model.RiskHigh {
			warnings = append(warnings, fmt.Sprintf("%s has high risk level", token.Symbol))
		}
	}
	return warnings
}

func ValidateQuote(quote model.QuoteResponse) ([]string, error) {
	if !quote.IsLiquid {
		reason := quote.RouteDescription
		if reason == "" {
			reason = "No route found"
		}
		return nil, clierr.New(clierr.CodeNoRoute, "no liquidity: "+reason)
	}
	if quote.PriceImpact > MaxPriceImpactPercent {
		return nil, clierr.New(clierr.CodeSafetyBlocked, fmt.Sprintf("price impact too high: %.2f%% (max %.0f%%)", quote.PriceImpact, MaxPriceImpactPercent))
	}
	if quote.OutAmount == nil || quote.OutAmount.Sign() == 0 {
		return nil, clierr.New(clierr.CodeSafetyBlocked, "quote output amount is zero")
	}
	var warnings []string
	if quote.PriceImpact > WarnPriceImpactPercent {
		warnings = append(warnings, fmt.Sprintf("high price impact: %.2f%%", quote.PriceImpact))
	}
	return warnings, nil
}
