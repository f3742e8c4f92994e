package relay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strconv"
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
	defaultSlippagePercent = 0.5
	noRouteFound           = "No route found"
)

var errorMessages = map[string]string{
	"AMOUNT_TOO_LOW":         "Amount is too low for this swap.",
	"INSUFFICIENT_LIQUIDITY": "Not enough liquidity available.",
	"NO_SWAP_ROUTES_FOUND":   "No route found for this swap.",
	"SWAP_IMPACT_TOO_HIGH":   "Price impact is too high.",
	"UNSUPPORTED_CURRENCY":   "This token is not supported.",
}

var _ providers.QuoteProvider = (*Client)(nil)

// Client is the Relay solver quote client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(httpClient *http.Client, apiKey string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    registry.RelayBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// WithBaseURL points the client at a different Relay deployment.
func (c *Client) WithBaseURL(baseURL string) *Client {
	if strings.TrimSpace(baseURL) != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "relay",
		Type:          "solver",
		RequiresKey:   false,
		KeyConfigured: c.HasAPIKey(),
		Capabilities:  []string{"swap.quote", "swap.routes"},
		KeyEnvVarName: "DUST_RELAY_API_KEY",
		BaseURL:       c.baseURL,
	}
}

type quotePayload struct {
	User                string `json:"user"`
	Recipient           string `json:"recipient,omitempty"`
	OriginChainID       int64  `json:"originChainId"`
	DestinationChainID  int64  `json:"destinationChainId"`
	OriginCurrency      string `json:"originCurrency"`
	DestinationCurrency string `json:"destinationCurrency"`
	Amount              string `json:"amount"`
	TradeType           string `json:"tradeType"`
	Referrer            string `json:"referrer"`
	UsePermit           bool   `json:"usePermit"`
}

type stepItem struct {
	Status string `json:"status"`
	Data   *struct {
		From  string `json:"from"`
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"data"`
}

type step struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	RequestID string     `json:"requestId"`
	Items     []stepItem `json:"items"`
}

type amountField struct {
	Amount    string `json:"amount"`
	AmountUSD string `json:"amountUsd"`
}

type percentField struct {
	Percent string `json:"percent"`
}

type quoteResponse struct {
	Steps []step `json:"steps"`
	Fees  struct {
		Gas amountField `json:"gas"`
	} `json:"fees"`
	Details struct {
		CurrencyOut amountField  `json:"currencyOut"`
		TotalImpact percentField `json:"totalImpact"`
		SwapImpact  percentField `json:"swapImpact"`
		Operation   string       `json:"operation"`
	} `json:"details"`
}

type errorResponse struct {
	Code      string `json:"code"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// GetQuote returns a normalized quote. Absence of liquidity is reported
// through IsLiquid; only a rate limit is returned as an error.
func (c *Client) GetQuote(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
	quote, err := c.fetchQuote(ctx, req)
	if err != nil {
		return model.QuoteResponse{}, err
	}
	if quote == nil {
		return emptyQuote(req), nil
	}
	return *quote, nil
}

func (c *Client) fetchQuote(ctx context.Context, req model.QuoteRequest) (*model.QuoteResponse, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, nil
	}

	recipient := strings.ToLower(req.Recipient)
	payload := quotePayload{
		User:                recipient,
		Recipient:           recipient,
		OriginChainID:       req.ChainID,
		DestinationChainID:  req.ChainID,
		OriginCurrency:      ToRelayAddress(req.TokenIn.Address),
		DestinationCurrency: ToRelayAddress(req.TokenOut),
		Amount:              req.AmountIn.String(),
		TradeType:           "EXACT_INPUT",
		Referrer:            registry.RelayReferrer,
		UsePermit:           false,
	}

	var response quoteResponse
	var apiErr errorResponse
	err := c.builder(payload).
		ErrorJSON(&apiErr).
		ToJSON(&response).
		Fetch(ctx)
	if err != nil {
		if requests.HasStatusErr(err, http.StatusTooManyRequests) {
			return nil, clierr.Wrap(clierr.CodeRateLimited, "relay rate limited request", err)
		}
		quote := emptyQuote(req)
		var respErr *requests.ResponseError
		if errors.As(err, &respErr) {
			code := apiErr.Code
			if code == "" {
				code = apiErr.ErrorCode
			}
			quote.RouteDescription = ErrorMessage(code, apiErr.Message)
			logger.Warnf("[Relay] quote error for %s: status=%d code=%s", req.TokenIn.Symbol, respErr.StatusCode, code)
			return &quote, nil
		}
		logger.Errorf("[Relay] quote fetch failed for %s: %v", req.TokenIn.Symbol, err)
		quote.RouteDescription = err.Error()
		return &quote, nil
	}

	return c.normalize(req, response), nil
}

func (c *Client) builder(payload quotePayload) *requests.Builder {
	rb := requests.URL(c.baseURL+"/quote").
		Client(c.httpClient).
		Method(http.MethodPost).
		BodyJSON(payload)
	if c.apiKey != "" {
		rb.Header("x-api-key", c.apiKey)
	}
	return rb
}

func (c *Client) normalize(req model.QuoteRequest, response quoteResponse) *model.QuoteResponse {
	to, data, value, ok := extractTransaction(response.Steps)
	if !ok {
		quote := emptyQuote(req)
		quote.RouteDescription = "No executable route"
		logger.Warnf("[Relay] no transaction data in quote for %s", req.TokenIn.Symbol)
		return &quote
	}

	spender := to
	for _, s := range response.Steps {
		if s.ID == "approval" && len(s.Items) > 0 && s.Items[0].Data != nil && s.Items[0].Data.To != "" {
			spender = s.Items[0].Data.To
			break
		}
	}

	amountOut := parseBig(response.Details.CurrencyOut.Amount)
	impact := parseFloat(response.Details.TotalImpact.Percent)
	if strings.TrimSpace(response.Details.TotalImpact.Percent) == "" {
		impact = parseFloat(response.Details.SwapImpact.Percent)
	}

	description := "Relay"
	if op := strings.TrimSpace(response.Details.Operation); op != "" {
		description = strings.ToUpper(op[:1]) + op[1:]
	}

	routeID := fmt.Sprintf("relay-%d", c.now().UnixMilli())
	if len(response.Steps) > 0 && response.Steps[0].RequestID != "" {
		routeID = response.Steps[0].RequestID
	}

	return &model.QuoteResponse{
		InAmount:         new(big.Int).Set(req.AmountIn),
		OutAmount:        amountOut,
		MinAmountOut:     new(big.Int).Set(amountOut),
		PriceImpact:      math.Abs(impact),
		NetworkCostUSD:   parseFloat(response.Fees.Gas.AmountUSD),
		RouteID:          routeID,
		IsLiquid:         true,
		RouteDescription: description,
		Spender:          spender,
		To:               to,
		Data:             data,
		Value:            value,
		TokenIn:          req.TokenIn.Address,
		TokenOut:         req.TokenOut,
		SlippagePercent:  defaultSlippagePercent,
	}
}

// extractTransaction prefers the first transaction step and falls back to
// any item carrying both a target and calldata.
func extractTransaction(steps []step) (string, string, *big.Int, bool) {
	for _, s := range steps {
		if s.Kind != "transaction" || len(s.Items) == 0 {
			continue
		}
		item := s.Items[0]
		if item.Data != nil && item.Data.To != "" && item.Data.Data != "" {
			return item.Data.To, item.Data.Data, parseBig(item.Data.Value), true
		}
	}
	for _, s := range steps {
		for _, item := range s.Items {
			if item.Data != nil && item.Data.To != "" && item.Data.Data != "" {
				return item.Data.To, item.Data.Data, parseBig(item.Data.Value), true
			}
		}
	}
	return "", "", nil, false
}

// ErrorMessage maps a Relay error code to a user facing message.
func ErrorMessage(code, fallback string) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	if strings.TrimSpace(fallback) != "" {
		return fallback
	}
	if code != "" {
		return "Error: " + code
	}
	return noRouteFound
}

// ToRelayAddress maps native placeholders to the zero address and
// lowercases everything else.
func ToRelayAddress(address string) string {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" || addr == strings.ToLower(registry.NativeTokenAddress) || addr == registry.ZeroAddress {
		return registry.ZeroAddress
	}
	return addr
}

func emptyQuote(req model.QuoteRequest) model.QuoteResponse {
	amountIn := new(big.Int)
	if req.AmountIn != nil {
		amountIn.Set(req.AmountIn)
	}
	return model.QuoteResponse{
		InAmount:         amountIn,
		OutAmount:        new(big.Int),
		MinAmountOut:     new(big.Int),
		RouteID:          "none",
		IsLiquid:         false,
		RouteDescription: noRouteFound,
		Spender:          registry.ZeroAddress,
		To:               registry.ZeroAddress,
		Data:             "0x",
		Value:            new(big.Int),
		TokenIn:          req.TokenIn.Address,
		TokenOut:         req.TokenOut,
	}
}

func parseBig(v string) *big.Int {
	out, ok := new(big.Int).SetString(strings.TrimSpace(v), 0)
	if !ok {
		return new(big.Int)
	}
	return out
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
