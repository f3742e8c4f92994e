package model

import (
	"math/big"
	"time"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Token is one balance position on a chain. Native balances use the
// 0xEeee... pseudo address.
type Token struct {
	Address          string    `json:"address"`
	ChainID          int64     `json:"chain_id"`
	Name             string    `json:"name"`
	Symbol           string    `json:"symbol"`
	Decimals         int       `json:"decimals"`
	Balance          *big.Int  `json:"balance"`
	BalanceFormatted string    `json:"balance_formatted"`
	PriceUSD         float64   `json:"price_usd"`
	ValueUSD         float64   `json:"value_usd"`
	IsTaxToken       bool      `json:"is_tax_token"`
	RiskLevel        RiskLevel `json:"risk_level"`
	IsLiquid         *bool     `json:"is_liquid,omitempty"`
	LogoURL          string    `json:"logo_url,omitempty"`
}

type QuoteRequest struct {
	TokenIn   Token    `json:"token_in"`
	TokenOut  string   `json:"token_out"`
	AmountIn  *big.Int `json:"amount_in"`
	ChainID   int64    `json:"chain_id"`
	Recipient string   `json:"recipient"`
}

// NewQuoteRequest sizes the input at 98% of the token balance.
func NewQuoteRequest(token Token, tokenOut string, recipient string) QuoteRequest {
	return QuoteRequest{
		TokenIn:   token,
		TokenOut:  tokenOut,
		AmountIn:  SweepAmount(token.Balance),
		ChainID:   token.ChainID,
		Recipient: recipient,
	}
}

// SweepAmount returns floor(balance * 98 / 100).
func SweepAmount(balance *big.Int) *big.Int {
	if balance == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(balance, big.NewInt(98))
	return out.Div(out, big.NewInt(100))
}

// QuoteResponse is the normalized solver answer. When IsLiquid is false
// To and Data must not be used.
type QuoteResponse struct {
	InAmount         *big.Int `json:"in_amount"`
	OutAmount        *big.Int `json:"out_amount"`
	MinAmountOut     *big.Int `json:"min_amount_out"`
	PriceImpact      float64  `json:"price_impact"`
	NetworkCostUSD   float64  `json:"network_cost_usd"`
	RouteID          string   `json:"route_id,omitempty"`
	IsLiquid         bool     `json:"is_liquid"`
	RouteDescription string   `json:"route_description"`
	Spender          string   `json:"spender"`
	To               string   `json:"to"`
	Data             string   `json:"data"`
	Value            *big.Int `json:"value"`
	TokenIn          string   `json:"token_in"`
	TokenOut         string   `json:"token_out"`
	SlippagePercent  float64  `json:"slippage_percent"`
}

type AllowanceCheckResult struct {
	NeedsApproval    bool     `json:"needs_approval"`
	CurrentAllowance *big.Int `json:"current_allowance"`
	RequiredAmount   *big.Int `json:"required_amount"`
	Token            string   `json:"token"`
	Spender          string   `json:"spender"`
}

type ExecutionStrategy string

const (
	StrategySmartBatch    ExecutionStrategy = "SMART_BATCH"
	StrategyStandardBatch ExecutionStrategy = "STANDARD_BATCH"
	StrategyLegacy        ExecutionStrategy = "LEGACY"
)

type BatchStatus string

const (
	StatusIdle      BatchStatus = "IDLE"
	StatusAnalyzing BatchStatus = "ANALYZING"
	StatusApproving BatchStatus = "APPROVING"
	StatusSwapping  BatchStatus = "SWAPPING"
	StatusCompleted BatchStatus = "COMPLETED"
	StatusFailed    BatchStatus = "FAILED"
)

// Call is one entry of an ordered call plan.
type Call struct {
	To    string   `json:"to"`
	Data  string   `json:"data"`
	Value *big.Int `json:"value"`
}

type ExecutionResult struct {
	Success          bool     `json:"success"`
	TxHashes         []string `json:"tx_hashes"`
	Error            string   `json:"error,omitempty"`
	TotalSwapped     *big.Int `json:"total_swapped"`
	EstimatedOutput  *big.Int `json:"estimated_output"`
	SuccessfulTokens []string `json:"successful_tokens,omitempty"`
	FailedTokens     []string `json:"failed_tokens,omitempty"`
}

type ApprovalType string

const (
	ApprovalERC20 ApprovalType = "ERC20"
	ApprovalNFT   ApprovalType = "NFT"
)

const (
	RiskFactorLow      = "LOW RISK"
	RiskFactorConsider = "CONSIDER REVOKING"
	RiskFactorHigh     = "HIGH RISK"
)

const (
	AllowanceUnlimited = "UNLIMITED"
	AllowanceAll       = "ALL"
	AllowanceLimited   = "LIMITED"
)

type RevokeItem struct {
	ID               string       `json:"id"`
	Type             ApprovalType `json:"type"`
	ChainID          int64        `json:"chain_id"`
	TokenAddress     string       `json:"token_address"`
	TokenSymbol      string       `json:"token_symbol"`
	TokenName        string       `json:"token_name"`
	TokenDecimals    int          `json:"token_decimals"`
	SpenderAddress   string       `json:"spender_address"`
	SpenderLabel     string       `json:"spender_label,omitempty"`
	Allowance        string       `json:"allowance"`
	AllowanceRaw     *big.Int     `json:"allowance_raw"`
	IsUnlimited      bool         `json:"is_unlimited"`
	ValueAtRiskQuote float64      `json:"value_at_risk_usd"`
	RiskFactor       string       `json:"risk_factor"`
	Selected         bool         `json:"selected"`
}

type RevokeBatchResult struct {
	Success      bool     `json:"success"`
	TxHashes     []string `json:"tx_hashes"`
	RevokedCount int      `json:"revoked_count"`
	FailedCount  int      `json:"failed_count"`
	RevokedIDs   []string `json:"revoked_ids,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

type SingleRevokeResult struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

type HoldingsResponse struct {
	Address       string    `json:"address"`
	ChainID       int64     `json:"chain_id"`
	Tokens        []Token   `json:"tokens"`
	TotalValueUSD float64   `json:"total_value_usd"`
	ScannedAt     time.Time `json:"scanned_at"`
}

type RouteAlternative struct {
	TargetToken      string   `json:"target_token"`
	TargetAddress    string   `json:"target_address"`
	EstimatedOutput  *big.Int `json:"estimated_output"`
	PriceImpact      float64  `json:"price_impact"`
	RouteDescription string   `json:"route_description"`
	IsAvailable      bool     `json:"is_available"`
}

type GasEstimate struct {
	Strategy         ExecutionStrategy `json:"strategy"`
	TokenCount       int               `json:"token_count"`
	TransactionCount int               `json:"transaction_count"`
	GasUnits         uint64            `json:"gas_units"`
	GasPriceWei      *big.Int          `json:"gas_price_wei,omitempty"`
	CostNative       float64           `json:"cost_native"`
	CostUSD          float64           `json:"cost_usd"`
}
