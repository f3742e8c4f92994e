package holdings

import (
	"context"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/providers"
	"github.com/ggonzalez94/dustsweep/internal/registry"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	readConcurrency  = 8
	routeConcurrency = 5
	nativeDecimals   = 18
)

var (
	erc20ABI       = mustABI(registry.ERC20MinimalABI)
	metadataABI    = mustABI(registry.ERC20MetadataABI)
	transferFeeABI = mustABI(registry.TransferFeeABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

type ContractReader interface {
	CallContract(ctx context.Context, chainID int64, to common.Address, data []byte) ([]byte, error)
}

type ChainReader interface {
	ContractReader
	BalanceAt(ctx context.Context, chainID int64, owner common.Address) (*big.Int, error)
}

// RouteChecker answers whether a token amount has a swap route to destination.
type RouteChecker interface {
	CheckRouteAvailable(ctx context.Context, chainID int64, tokenAddress, destination, user string, decimals int, amount *big.Int) bool
}

type Scanner struct {
	index  providers.HoldingsProvider
	chain  ChainReader
	routes RouteChecker
	fees   *FeeDetector
	now    func() time.Time
}

type Option func(*Scanner)

// WithRouteChecker enables per-token liquidity checks during a scan.
func WithRouteChecker(routes RouteChecker) Option {
	return func(s *Scanner) { s.routes = routes }
}

func NewScanner(index providers.HoldingsProvider, chain ChainReader, opts ...Option) *Scanner {
	s := &Scanner{
		index: index,
		chain: chain,
		fees:  NewFeeDetector(chain),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// candidate is a discovered token before balance and visibility checks.
type candidate struct {
	address  string
	symbol   string
	name     string
	decimals int
	quantity *big.Int
	price    float64
	value    float64
	spam     bool
	invalid  bool
	taxToken bool
	liquid   bool
}

// FetchHoldings discovers the ERC20 balances of address on chainID, adds the
// chain's table tokens and the native balance, and returns the visible
// positions sorted by USD value.
func (s *Scanner) FetchHoldings(ctx context.Context, address string, chainID int64) (model.HoldingsResponse, error) {
	if !id.IsEVMAddress(address) {
		return model.HoldingsResponse{}, clierr.New(clierr.CodeUsage, "invalid wallet address")
	}
	owner := common.HexToAddress(address)

	var rows []providers.Holding
	if s.index != nil {
		found, err := s.index.ERC20Holdings(ctx, address, chainID)
		if err != nil {
			logger.Warnf("[Holdings] index lookup for chain %d failed, continuing with table tokens: %v", chainID, err)
		}
		rows = found
	}
	rows = appendTableTokens(rows, chainID)

	candidates := make([]*candidate, 0, len(rows))
	for _, row := range rows {
		if !id.IsEVMAddress(row.TokenAddress) {
			continue
		}
		candidates = append(candidates, fromHolding(row))
	}

	native := s.nativeToken(ctx, owner, chainID)
	if len(candidates) == 0 {
		return s.response(address, chainID, []model.Token{native}), nil
	}

	s.fillMetadata(ctx, chainID, candidates)
	s.readBalances(ctx, chainID, owner, candidates)

	addrs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		addrs = append(addrs, c.address)
	}
	fees := s.fees.Detect(ctx, chainID, addrs)

	held := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.quantity.Sign() <= 0 {
			continue
		}
		c.taxToken = fees[strings.ToLower(c.address)]
		if c.value == 0 && c.price > 0 {
			c.value = id.UnitsToFloat(c.quantity, c.decimals) * c.price
		}
		held = append(held, c)
	}
	s.checkLiquidity(ctx, chainID, address, held)

	tokens := []model.Token{native}
	for _, c := range held {
		if c.symbol == "" {
			continue
		}
		if !math.IsNaN(c.value) && !math.IsInf(c.value, 0) && c.value < MinVisibleValueUSD {
			continue
		}
		liquid := c.liquid
		tokens = append(tokens, model.Token{
			Address:          common.HexToAddress(c.address).Hex(),
			ChainID:          chainID,
			Name:             c.name,
			Symbol:           c.symbol,
			Decimals:         c.decimals,
			Balance:          c.quantity,
			BalanceFormatted: FormatBalance(c.quantity, c.decimals),
			PriceUSD:         c.price,
			ValueUSD:         c.value,
			IsTaxToken:       c.taxToken,
			RiskLevel:        AssessRisk(c.symbol, c.taxToken),
			IsLiquid:         &liquid,
		})
	}
	return s.response(address, chainID, tokens), nil
}

func (s *Scanner) response(address string, chainID int64, tokens []model.Token) model.HoldingsResponse {
	sort.SliceStable(tokens, func(i, j int) bool { return tokens[i].ValueUSD > tokens[j].ValueUSD })
	return model.HoldingsResponse{
		Address:       address,
		ChainID:       chainID,
		Tokens:        tokens,
		TotalValueUSD: TotalValue(tokens),
		ScannedAt:     s.now().UTC(),
	}
}

func appendTableTokens(rows []providers.Holding, chainID int64) []providers.Holding {
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		seen[strings.ToLower(row.TokenAddress)] = true
	}
	for _, addr := range registry.ChainTokenAddresses(chainID) {
		if seen[strings.ToLower(addr)] {
			continue
		}
		rows = append(rows, providers.Holding{TokenAddress: strings.ToLower(addr)})
	}
	return rows
}

func fromHolding(row providers.Holding) *candidate {
	c := &candidate{
		address:  row.TokenAddress,
		symbol:   strings.TrimSpace(row.TokenSymbol),
		name:     strings.TrimSpace(row.TokenName),
		decimals: int(row.TokenDecimals.IntPart()),
		quantity: row.TokenQuantity.Truncate(0).BigInt(),
		price:    row.TokenPrice.InexactFloat64(),
		value:    row.TokenValueInUSD.InexactFloat64(),
	}
	if c.quantity.Sign() < 0 {
		c.quantity = new(big.Int)
	}
	return c
}

// fillMetadata reads symbol, name and decimals for rows the index left blank.
func (s *Scanner) fillMetadata(ctx context.Context, chainID int64, candidates []*candidate) {
	var g errgroup.Group
	g.SetLimit(readConcurrency)
	for _, c := range candidates {
		if c.symbol != "" && c.decimals != 0 {
			continue
		}
		g.Go(func() error {
			token := common.HexToAddress(c.address)
			if c.symbol == "" {
				c.symbol = s.readString(ctx, chainID, token, "symbol", "UNKNOWN")
			}
			if c.name == "" {
				c.name = s.readString(ctx, chainID, token, "name", "Unknown Token")
			}
			if c.decimals == 0 {
				c.decimals = s.readDecimals(ctx, chainID, token)
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, c := range candidates {
		if c.name == "" {
			c.name = c.symbol
		}
		c.spam = IsSpam(c.symbol, c.name)
		c.invalid = InvalidDecimals(c.decimals)
	}
}

func (s *Scanner) readString(ctx context.Context, chainID int64, token common.Address, method, fallback string) string {
	out, err := s.call(ctx, chainID, token, metadataABI, method)
	if err != nil || len(out) == 0 {
		return fallback
	}
	v, ok := out[0].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func (s *Scanner) readDecimals(ctx context.Context, chainID int64, token common.Address) int {
	out, err := s.call(ctx, chainID, token, metadataABI, "decimals")
	if err != nil || len(out) == 0 {
		return 18
	}
	v, ok := out[0].(uint8)
	if !ok || v == 0 {
		return 18
	}
	return int(v)
}

func (s *Scanner) call(ctx context.Context, chainID int64, token common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	if s.chain == nil {
		return nil, clierr.New(clierr.CodeUnavailable, "no chain reader configured")
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := s.chain.CallContract(ctx, chainID, token, data)
	if err != nil {
		return nil, err
	}
	return parsed.Unpack(method, raw)
}

// readBalances replaces indexed quantities with on-chain balances where the
// read succeeds.
func (s *Scanner) readBalances(ctx context.Context, chainID int64, owner common.Address, candidates []*candidate) {
	var g errgroup.Group
	g.SetLimit(readConcurrency)
	for _, c := range candidates {
		g.Go(func() error {
			out, err := s.call(ctx, chainID, common.HexToAddress(c.address), erc20ABI, "balanceOf", owner)
			if err != nil || len(out) == 0 {
				logger.Debugf("[Holdings] balanceOf %s failed, keeping indexed quantity: %v", c.address, err)
				return nil
			}
			if bal, ok := out[0].(*big.Int); ok {
				c.quantity = bal
			}
			return nil
		})
	}
	_ = g.Wait()
}

// checkLiquidity marks tokens as liquid when they pass the spam and value
// checks and, with a route checker, have a route to the chain's USDC (or the
// native token where USDC is not listed).
func (s *Scanner) checkLiquidity(ctx context.Context, chainID int64, user string, held []*candidate) {
	destination, ok := registry.TokenAddress(chainID, "USDC")
	if !ok {
		destination = registry.NativeTokenAddress
	}
	var g errgroup.Group
	g.SetLimit(routeConcurrency)
	for _, c := range held {
		if c.spam || c.invalid || c.value < MinVisibleValueUSD {
			c.liquid = false
			continue
		}
		if s.routes == nil {
			c.liquid = true
			continue
		}
		g.Go(func() error {
			c.liquid = s.routes.CheckRouteAvailable(ctx, chainID, c.address, destination, user, c.decimals, c.quantity)
			return nil
		})
	}
	_ = g.Wait()
}

// nativeToken reads the native balance. Read failures yield a zero balance.
func (s *Scanner) nativeToken(ctx context.Context, owner common.Address, chainID int64) model.Token {
	balance := new(big.Int)
	if s.chain != nil {
		if bal, err := s.chain.BalanceAt(ctx, chainID, owner); err == nil && bal != nil {
			balance = bal
		} else if err != nil {
			logger.Warnf("[Holdings] native balance on chain %d unavailable: %v", chainID, err)
		}
	}
	price := registry.NativePriceUSD(chainID)
	value := id.UnitsToFloat(balance, nativeDecimals) * price
	if balance.Sign() == 0 {
		price = 0
	}
	liquid := true
	return model.Token{
		Address:          registry.NativeTokenAddress,
		ChainID:          chainID,
		Name:             "Native Token",
		Symbol:           registry.NativeSymbol(chainID),
		Decimals:         nativeDecimals,
		Balance:          balance,
		BalanceFormatted: decimal.NewFromBigInt(balance, -nativeDecimals).String(),
		PriceUSD:         price,
		ValueUSD:         value,
		RiskLevel:        model.RiskLow,
		IsLiquid:         &liquid,
	}
}
