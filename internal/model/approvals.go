package model

import (
	"math/big"
	"time"
)

type ApprovalSpender struct {
	SpenderAddress   string   `json:"spender_address"`
	SpenderLabel     string   `json:"spender_label,omitempty"`
	Allowance        string   `json:"allowance"`
	AllowanceRaw     *big.Int `json:"allowance_raw"`
	IsUnlimited      bool     `json:"is_unlimited"`
	ValueAtRiskQuote float64  `json:"value_at_risk_usd"`
	RiskFactor       string   `json:"risk_factor"`
	BlockHeight      int64    `json:"block_height"`
	TxHash           string   `json:"tx_hash,omitempty"`
}

type TokenApproval struct {
	TokenAddress     string            `json:"token_address"`
	TokenLabel       string            `json:"token_label,omitempty"`
	TickerSymbol     string            `json:"ticker_symbol"`
	Decimals         int               `json:"decimals"`
	QuoteRate        float64           `json:"quote_rate"`
	Balance          *big.Int          `json:"balance"`
	BalanceQuote     float64           `json:"balance_usd"`
	ValueAtRiskQuote float64           `json:"value_at_risk_usd"`
	Spenders         []ApprovalSpender `json:"spenders"`
}

type NftApproval struct {
	ContractAddress  string   `json:"contract_address"`
	ContractName     string   `json:"contract_name,omitempty"`
	IsApprovedForAll bool     `json:"is_approved_for_all"`
	SpenderAddress   string   `json:"spender_address"`
	SpenderLabel     string   `json:"spender_label,omitempty"`
	TokenIDs         []string `json:"token_ids,omitempty"`
}

// ChainApprovals is the scan result for one chain. A failed chain carries
// Error and empty lists.
type ChainApprovals struct {
	Address          string          `json:"address"`
	ChainID          int64           `json:"chain_id"`
	ChainName        string          `json:"chain_name"`
	UpdatedAt        time.Time       `json:"updated_at"`
	TokenApprovals   []TokenApproval `json:"token_approvals"`
	NftApprovals     []NftApproval   `json:"nft_approvals"`
	TotalValueAtRisk float64         `json:"total_value_at_risk_usd"`
	Error            string          `json:"error,omitempty"`
}
