package routescan

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/httpx"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/providers"
	"github.com/ggonzalez94/dustsweep/internal/registry"
)

const (
	pageLimit = 100
	maxPages  = 10
)

var _ providers.HoldingsProvider = (*Client)(nil)

// Chains the erc20-holdings index covers.
var holdingsChains = map[int64]bool{1: true, 10: true, 56: true, 137: true, 8453: true, 42161: true, 43114: true}

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{
		http:    httpClient,
		baseURL: registry.RouteScanBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
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
		Name:          "routescan",
		Type:          "holdings",
		RequiresKey:   false,
		KeyConfigured: c.apiKey != "",
		Capabilities:  []string{"holdings.scan"},
		KeyEnvVarName: "DUST_ROUTESCAN_API_KEY",
		BaseURL:       c.baseURL,
	}
}

type holdingsPage struct {
	Items []providers.Holding `json:"items"`
	Link  struct {
		NextToken string `json:"nextToken"`
	} `json:"link"`
}

// ERC20Holdings pages through the holdings index for address, trying the
// chain's network slug first and then "mainnet". Rows are de-duplicated by
// token address. An error is returned only when no slug answered.
func (c *Client) ERC20Holdings(ctx context.Context, address string, chainID int64) ([]providers.Holding, error) {
	if !holdingsChains[chainID] {
		return []providers.Holding{}, nil
	}
	owner := strings.ToLower(strings.TrimSpace(address))
	slugs := []string{"mainnet"}
	if network, ok := registry.RouteScanNetwork(chainID); ok && network != "mainnet" {
		slugs = []string{network, "mainnet"}
	}

	var lastErr error
	for _, slug := range slugs {
		items, err := c.paginate(ctx, slug, owner, chainID)
		if err != nil {
			logger.Debugf("[RouteScan] %s holdings for chain %d failed: %v", slug, chainID, err)
			lastErr = err
			continue
		}
		logger.Debugf("[RouteScan] %d holdings on chain %d via %s", len(items), chainID, slug)
		return items, nil
	}
	if lastErr == nil {
		lastErr = clierr.New(clierr.CodeUnavailable, "routescan holdings unavailable")
	}
	return nil, lastErr
}

func (c *Client) paginate(ctx context.Context, slug, owner string, chainID int64) ([]providers.Holding, error) {
	seen := map[string]bool{}
	out := []providers.Holding{}
	next := ""
	for page := 0; page < maxPages; page++ {
		reqURL := fmt.Sprintf("%s/%s/evm/%d/address/%s/erc20-holdings?limit=%d", c.baseURL, slug, chainID, owner, pageLimit)
		if next != "" {
			reqURL += "&next=" + url.QueryEscape(next)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "build routescan request", err)
		}
		if c.apiKey != "" {
			req.Header.Set("X-API-KEY", c.apiKey)
		}
		var resp holdingsPage
		if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
			if page == 0 {
				return nil, err
			}
			// Keep what earlier pages returned.
			logger.Warnf("[RouteScan] page %d failed, keeping %d holdings: %v", page, len(out), err)
			return out, nil
		}
		for _, item := range resp.Items {
			key := strings.ToLower(item.TokenAddress)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
		next = resp.Link.NextToken
		if next == "" {
			break
		}
	}
	return out, nil
}
