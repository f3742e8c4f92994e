package providers

import (
	"context"
	"math/big"

	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/shopspring/decimal"
)

type Provider interface {
	Info() model.ProviderInfo
}

// QuoteProvider is the solver surface: single and batched quotes plus route
// discovery. GetQuoteWithRetry and GetMultipleQuotes return nil entries when
// no usable quote could be fetched.
type QuoteProvider interface {
	Provider
	GetQuote(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error)
	GetQuoteWithRetry(ctx context.Context, req model.QuoteRequest) *model.QuoteResponse
	GetMultipleQuotes(ctx context.Context, reqs []model.QuoteRequest) []*model.QuoteResponse
	CheckRouteAvailable(ctx context.Context, chainID int64, tokenAddress, destination, user string, decimals int, amount *big.Int) bool
	CheckAlternativeRoutes(ctx context.Context, chainID int64, tokenAddress, user string, decimals int, balance *big.Int) []model.RouteAlternative
}

// Holding is one indexed ERC20 balance row. Numeric fields are optional and
// zero when the index does not know them.
type Holding struct {
	TokenAddress    string          `json:"tokenAddress"`
	TokenSymbol     string          `json:"tokenSymbol"`
	TokenName       string          `json:"tokenName"`
	TokenDecimals   decimal.Decimal `json:"tokenDecimals"`
	TokenQuantity   decimal.Decimal `json:"tokenQuantity"`
	TokenPrice      decimal.Decimal `json:"tokenPrice"`
	TokenValueInUSD decimal.Decimal `json:"tokenValueInUsd"`
}

type HoldingsProvider interface {
	Provider
	ERC20Holdings(ctx context.Context, address string, chainID int64) ([]Holding, error)
}

type ApprovalsProvider interface {
	Provider
	GetAllApprovals(ctx context.Context, owner string, chainIDs []int64) []model.ChainApprovals
}
