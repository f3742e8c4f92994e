package relay

import (
	"context"
	"math/big"
	"strings"

	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/registry"
)

// CheckRouteAvailable sends a lightweight quote and reports whether the
// solver returned any steps. A nil amount probes with 10^(decimals-1).
func (c *Client) CheckRouteAvailable(ctx context.Context, chainID int64, tokenAddress, destination, user string, decimals int, amount *big.Int) bool {
	testAmount := amount
	if testAmount == nil || testAmount.Sign() <= 0 {
		exp := decimals - 1
		if exp < 0 {
			exp = 0
		}
		testAmount = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
	}

	payload := quotePayload{
		User:                strings.ToLower(user),
		OriginChainID:       chainID,
		DestinationChainID:  chainID,
		OriginCurrency:      ToRelayAddress(tokenAddress),
		DestinationCurrency: ToRelayAddress(destination),
		Amount:              testAmount.String(),
		TradeType:           "EXACT_INPUT",
		Referrer:            registry.RelayReferrer,
		UsePermit:           false,
	}

	var response struct {
		Steps []step `json:"steps"`
	}
	if err := c.builder(payload).ToJSON(&response).Fetch(ctx); err != nil {
		logger.Debugf("[Relay] route check failed for %s on %d: %v", tokenAddress, chainID, err)
		return false
	}
	return len(response.Steps) > 0
}

type alternativeTarget struct {
	symbol  string
	address string
}

// CheckAlternativeRoutes quotes ETH, USDC and DAI for 98% of balance and
// returns the targets that have a liquid, non-zero route.
func (c *Client) CheckAlternativeRoutes(ctx context.Context, chainID int64, tokenAddress, user string, decimals int, balance *big.Int) []model.RouteAlternative {
	var alternatives []model.RouteAlternative
	if !registry.IsSupportedChain(chainID) {
		return alternatives
	}

	targets := []alternativeTarget{{symbol: "ETH", address: registry.ZeroAddress}}
	for _, symbol := range []string{"USDC", "DAI"} {
		if addr, ok := registry.TokenAddress(chainID, symbol); ok {
			targets = append(targets, alternativeTarget{symbol: symbol, address: addr})
		}
	}

	testAmount := model.SweepAmount(balance)
	if testAmount.Sign() <= 0 {
		return alternatives
	}

	delay := alternativeNoKey
	if c.HasAPIKey() {
		delay = alternativeKeyed
	}

	for i, target := range targets {
		if i > 0 {
			if err := c.sleep(ctx, delay); err != nil {
				return alternatives
			}
		}
		req := model.QuoteRequest{
			TokenIn: model.Token{
				Address:   tokenAddress,
				ChainID:   chainID,
				Decimals:  decimals,
				Balance:   testAmount,
				RiskLevel: model.RiskLow,
			},
			TokenOut:  target.address,
			AmountIn:  testAmount,
			ChainID:   chainID,
			Recipient: user,
		}
		quote := c.GetQuoteWithRetry(ctx, req)
		if quote == nil || !quote.IsLiquid || quote.OutAmount == nil || quote.OutAmount.Sign() <= 0 {
			continue
		}
		description := quote.RouteDescription
		if description == "" {
			description = "Relay Solver"
		}
		alternatives = append(alternatives, model.RouteAlternative{
			TargetToken:      target.symbol,
			TargetAddress:    target.address,
			EstimatedOutput:  quote.OutAmount,
			PriceImpact:      quote.PriceImpact,
			RouteDescription: description,
			IsAvailable:      true,
		})
	}
	return alternatives
}
