package covalent

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/providers"
	"github.com/ggonzalez94/dustsweep/internal/registry"
)

const (
	RiskHigh     = "HIGH RISK"
	RiskConsider = "CONSIDER REVOKING"
	RiskLow      = "LOW RISK"

	chainSpacing = 300 * time.Millisecond
)

var _ providers.ApprovalsProvider = (*Client)(nil)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(httpClient *http.Client, apiKey string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    registry.CovalentBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
		sleep:      sleepContext,
	}
}

func (c *Client) WithBaseURL(baseURL string) *Client {
	if strings.TrimSpace(baseURL) != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "covalent",
		Type:          "approvals",
		RequiresKey:   true,
		KeyConfigured: c.apiKey != "",
		Capabilities:  []string{"approvals.scan"},
		KeyEnvVarName: "DUST_COVALENT_API_KEY",
		BaseURL:       c.baseURL,
	}
}

type envelope[T any] struct {
	Data struct {
		Address string `json:"address"`
		ChainID int64  `json:"chain_id"`
		Items   []T    `json:"items"`
	} `json:"data"`
	Error        bool   `json:"error"`
	ErrorMessage string `json:"error_message"`
	ErrorCode    int    `json:"error_code"`
}

type apiSpender struct {
	BlockHeight      int64    `json:"block_height"`
	TxHash           string   `json:"tx_hash"`
	SpenderAddress   string   `json:"spender_address"`
	SpenderLabel     *string  `json:"spender_address_label"`
	Allowance        string   `json:"allowance"`
	ValueAtRiskQuote *float64 `json:"value_at_risk_quote"`
	RiskFactor       string   `json:"risk_factor"`
}

type apiTokenApproval struct {
	TokenAddress     string       `json:"token_address"`
	TokenLabel       *string      `json:"token_address_label"`
	TickerSymbol     string       `json:"ticker_symbol"`
	ContractDecimals int          `json:"contract_decimals"`
	QuoteRate        *float64     `json:"quote_rate"`
	Balance          string       `json:"balance"`
	BalanceQuote     *float64     `json:"balance_quote"`
	ValueAtRiskQuote *float64     `json:"value_at_risk_quote"`
	Spenders         []apiSpender `json:"spenders"`
}

type apiNftApproval struct {
	ContractAddress string  `json:"contract_address"`
	ContractName    *string `json:"contract_name"`
	Spenders        []struct {
		SpenderAddress string  `json:"spender_address"`
		SpenderLabel   *string `json:"spender_address_label"`
		Allowance      string  `json:"allowance"`
		TokenBalances  []struct {
			TokenID string `json:"token_id"`
		} `json:"token_balances"`
	} `json:"spenders"`
}

// GetTokenApprovals returns the ERC20 approvals of owner on chainID. An
// unmapped chain yields an empty list.
func (c *Client) GetTokenApprovals(ctx context.Context, owner string, chainID int64) ([]model.TokenApproval, error) {
	chainName, ok := registry.CovalentChainName(chainID)
	if !ok {
		logger.Warnf("[Covalent] no chain mapping for chain id %d", chainID)
		return []model.TokenApproval{}, nil
	}
	var resp envelope[apiTokenApproval]
	err := c.builder(fmt.Sprintf("/%s/approvals/%s/", chainName, strings.ToLower(owner))).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		if requests.HasStatusErr(err, http.StatusTooManyRequests) {
			return nil, clierr.Wrap(clierr.CodeRateLimited, "covalent rate limited request", err)
		}
		if requests.HasStatusErr(err, http.StatusUnauthorized, http.StatusForbidden) {
			return nil, clierr.Wrap(clierr.CodeAuth, "covalent authentication failed", err)
		}
		return nil, clierr.Wrap(clierr.CodeUnavailable, "covalent approvals request failed", err)
	}
	if resp.Error {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "Unknown Covalent API error"
		}
		return nil, clierr.New(clierr.CodeUnavailable, msg)
	}
	out := make([]model.TokenApproval, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		out = append(out, transformTokenApproval(item))
	}
	return out, nil
}

// GetNftApprovals is best-effort: any failure yields an empty list.
func (c *Client) GetNftApprovals(ctx context.Context, owner string, chainID int64) []model.NftApproval {
	chainName, ok := registry.CovalentChainName(chainID)
	if !ok {
		return []model.NftApproval{}
	}
	var resp envelope[apiNftApproval]
	err := c.builder(fmt.Sprintf("/%s/nft/approvals/%s/", chainName, strings.ToLower(owner))).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil || resp.Error {
		logger.Debugf("[Covalent] nft approvals on %s unavailable: %v", chainName, err)
		return []model.NftApproval{}
	}
	var out []model.NftApproval
	for _, item := range resp.Data.Items {
		for _, spender := range item.Spenders {
			approval := model.NftApproval{
				ContractAddress:  item.ContractAddress,
				ContractName:     deref(item.ContractName),
				IsApprovedForAll: spender.Allowance == model.AllowanceUnlimited,
				SpenderAddress:   spender.SpenderAddress,
				SpenderLabel:     deref(spender.SpenderLabel),
			}
			for _, tb := range spender.TokenBalances {
				approval.TokenIDs = append(approval.TokenIDs, tb.TokenID)
			}
			out = append(out, approval)
		}
	}
	if out == nil {
		out = []model.NftApproval{}
	}
	logger.Debugf("[Covalent] found %d nft approvals on %s", len(out), chainName)
	return out
}

// GetAllApprovals scans chains sequentially, 300ms apart. A failing chain is
// reported in place and does not stop the scan.
func (c *Client) GetAllApprovals(ctx context.Context, owner string, chainIDs []int64) []model.ChainApprovals {
	results := make([]model.ChainApprovals, 0, len(chainIDs))
	for i, chainID := range chainIDs {
		if i > 0 {
			if err := c.sleep(ctx, chainSpacing); err != nil {
				break
			}
		}
		chainName, _ := registry.CovalentChainName(chainID)
		res := model.ChainApprovals{
			Address:        owner,
			ChainID:        chainID,
			ChainName:      chainName,
			UpdatedAt:      time.Now().UTC(),
			TokenApprovals: []model.TokenApproval{},
			NftApprovals:   []model.NftApproval{},
		}
		tokens, err := c.GetTokenApprovals(ctx, owner, chainID)
		if err != nil {
			logger.Warnf("[Covalent] approvals for chain %d failed: %v", chainID, err)
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		res.TokenApprovals = tokens
		res.NftApprovals = c.GetNftApprovals(ctx, owner, chainID)
		for _, t := range tokens {
			res.TotalValueAtRisk += t.ValueAtRiskQuote
		}
		results = append(results, res)
	}
	return results
}

// ToRevokeItems flattens scan results into one revoke item per spender,
// highest value at risk first.
func ToRevokeItems(results []model.ChainApprovals) []model.RevokeItem {
	var items []model.RevokeItem
	for _, res := range results {
		for _, approval := range res.TokenApprovals {
			for _, spender := range approval.Spenders {
				items = append(items, model.RevokeItem{
					ID:               fmt.Sprintf("%d-%s-%s", res.ChainID, approval.TokenAddress, spender.SpenderAddress),
					Type:             model.ApprovalERC20,
					ChainID:          res.ChainID,
					TokenAddress:     approval.TokenAddress,
					TokenSymbol:      approval.TickerSymbol,
					TokenName:        approval.TokenLabel,
					TokenDecimals:    approval.Decimals,
					SpenderAddress:   spender.SpenderAddress,
					SpenderLabel:     spender.SpenderLabel,
					Allowance:        spender.Allowance,
					AllowanceRaw:     spender.AllowanceRaw,
					IsUnlimited:      spender.IsUnlimited,
					ValueAtRiskQuote: spender.ValueAtRiskQuote,
					RiskFactor:       spender.RiskFactor,
				})
			}
		}
		for _, nft := range res.NftApprovals {
			symbol := nft.ContractName
			if symbol == "" {
				symbol = "NFT"
			}
			allowance, risk := model.AllowanceLimited, RiskLow
			if nft.IsApprovedForAll {
				allowance, risk = model.AllowanceAll, RiskHigh
			}
			items = append(items, model.RevokeItem{
				ID:             fmt.Sprintf("%d-%s-%s-nft", res.ChainID, nft.ContractAddress, nft.SpenderAddress),
				Type:           model.ApprovalNFT,
				ChainID:        res.ChainID,
				TokenAddress:   nft.ContractAddress,
				TokenSymbol:    symbol,
				TokenName:      nft.ContractName,
				SpenderAddress: nft.SpenderAddress,
				SpenderLabel:   nft.SpenderLabel,
				Allowance:      allowance,
				AllowanceRaw:   new(big.Int),
				IsUnlimited:    nft.IsApprovedForAll,
				RiskFactor:     risk,
			})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ValueAtRiskQuote > items[j].ValueAtRiskQuote
	})
	if items == nil {
		items = []model.RevokeItem{}
	}
	return items
}

// NormalizeRiskFactor maps provider risk labels onto the three revoke tiers.
func NormalizeRiskFactor(raw string) string {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "HIGH"):
		return RiskHigh
	case strings.Contains(upper, "CONSIDER"), strings.Contains(upper, "MEDIUM"):
		return RiskConsider
	default:
		return RiskLow
	}
}

func (c *Client) builder(path string) *requests.Builder {
	rb := requests.URL(c.baseURL + path).
		Client(c.httpClient).
		Accept("application/json")
	if c.apiKey != "" {
		rb.Param("key", c.apiKey)
	}
	return rb
}

func transformTokenApproval(item apiTokenApproval) model.TokenApproval {
	out := model.TokenApproval{
		TokenAddress:     item.TokenAddress,
		TokenLabel:       deref(item.TokenLabel),
		TickerSymbol:     item.TickerSymbol,
		Decimals:         item.ContractDecimals,
		QuoteRate:        derefFloat(item.QuoteRate),
		Balance:          parseBig(item.Balance),
		BalanceQuote:     derefFloat(item.BalanceQuote),
		ValueAtRiskQuote: derefFloat(item.ValueAtRiskQuote),
	}
	if out.TickerSymbol == "" {
		out.TickerSymbol = "UNKNOWN"
	}
	for _, s := range item.Spenders {
		out.Spenders = append(out.Spenders, transformSpender(s))
	}
	return out
}

func transformSpender(s apiSpender) model.ApprovalSpender {
	raw := parseBig(s.Allowance)
	unlimited := s.Allowance == model.AllowanceUnlimited || raw.Cmp(maxUint256) == 0
	allowance := s.Allowance
	if unlimited {
		raw = new(big.Int).Set(maxUint256)
		allowance = model.AllowanceUnlimited
	}
	return model.ApprovalSpender{
		SpenderAddress:   s.SpenderAddress,
		SpenderLabel:     deref(s.SpenderLabel),
		Allowance:        allowance,
		AllowanceRaw:     raw,
		IsUnlimited:      unlimited,
		ValueAtRiskQuote: derefFloat(s.ValueAtRiskQuote),
		RiskFactor:       NormalizeRiskFactor(s.RiskFactor),
		BlockHeight:      s.BlockHeight,
		TxHash:           s.TxHash,
	}
}

func parseBig(v string) *big.Int {
	out, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok {
		return new(big.Int)
	}
	return out
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
