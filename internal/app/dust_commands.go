package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ggonzalez94/dustsweep/internal/cache"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution"
	"github.com/ggonzalez94/dustsweep/internal/holdings"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/session"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

const holdingsCacheTTL = 2 * time.Minute

var sweepTargets = []id.Target{id.TargetETH, id.TargetUSDC, id.TargetDAI}

type scanOutput struct {
	Address        string        `json:"address"`
	ChainID        int64         `json:"chain_id"`
	ScannedAt      time.Time     `json:"scanned_at"`
	TokenCount     int           `json:"token_count"`
	DustCount      int           `json:"dust_count"`
	DustValueUSD   float64       `json:"dust_value_usd"`
	MainTokens     []model.Token `json:"main_tokens"`
	LowValueTokens []model.Token `json:"low_value_tokens"`
}

type quotedToken struct {
	Token model.Token          `json:"token"`
	Quote *model.QuoteResponse `json:"quote"`
}

type quoteOutput struct {
	Address        string             `json:"address"`
	ChainID        int64              `json:"chain_id"`
	Target         id.Target          `json:"target"`
	Tokens         []quotedToken      `json:"tokens"`
	TotalValueUSD  float64            `json:"total_value_usd"`
	TotalOutput    string             `json:"total_output"`
	AvgPriceImpact float64            `json:"avg_price_impact"`
	QuoteError     string             `json:"quote_error,omitempty"`
	Gas            *model.GasEstimate `json:"gas,omitempty"`
}

type strategyOutput struct {
	Address          string                  `json:"address"`
	ChainID          int64                   `json:"chain_id"`
	Strategy         model.ExecutionStrategy `json:"strategy"`
	Description      string                  `json:"description"`
	TransactionCount int                     `json:"transaction_count"`
	Gas              model.GasEstimate       `json:"gas"`
}

type routeCheckOutput struct {
	ChainID     int64     `json:"chain_id"`
	Token       string    `json:"token"`
	Target      id.Target `json:"target"`
	Destination string    `json:"destination"`
	Amount      string    `json:"amount"`
	Available   bool      `json:"available"`
}

// dustFilterFlags are the shared holdings filter flags of scan, quote and sweep.
type dustFilterFlags struct {
	minValue    float64
	maxValue    float64
	excludeTax  bool
	includeHigh bool
}

func (f *dustFilterFlags) register(cmd *cobra.Command) {
	defaults := holdings.DefaultDustFilter()
	cmd.Flags().Float64Var(&f.minValue, "min-value", defaults.MinValueUSD, "Minimum token value in USD")
	cmd.Flags().Float64Var(&f.maxValue, "max-value", defaults.MaxValueUSD, "Maximum token value in USD")
	cmd.Flags().BoolVar(&f.excludeTax, "exclude-tax", false, "Skip fee-on-transfer tokens")
	cmd.Flags().BoolVar(&f.includeHigh, "include-high-risk", true, "Keep HIGH risk tokens in the dust set")
}

func (f dustFilterFlags) filter() (holdings.DustFilter, error) {
	if f.minValue < 0 || f.maxValue < f.minValue {
		return holdings.DustFilter{}, clierr.New(clierr.CodeUsage, "--min-value must be >= 0 and <= --max-value")
	}
	levels := []model.RiskLevel{model.RiskLow, model.RiskMedium}
	if f.includeHigh {
		levels = append(levels, model.RiskHigh)
	}
	return holdings.DustFilter{
		MinValueUSD:       f.minValue,
		MaxValueUSD:       f.maxValue,
		ExcludeTaxTokens:  f.excludeTax,
		AllowedRiskLevels: levels,
	}, nil
}

func (f dustFilterFlags) cacheParts() []any {
	return []any{f.minValue, f.maxValue, f.excludeTax, f.includeHigh}
}

func (s *runtimeState) newScanCommand() *cobra.Command {
	var addressArg, chainArg string
	var filterFlags dustFilterFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a wallet's holdings and list its dust",
		RunE: func(cmd *cobra.Command, args []string) error {
			address, chain, err := parseWalletChain(addressArg, chainArg)
			if err != nil {
				return err
			}
			filter, err := filterFlags.filter()
			if err != nil {
				return err
			}
			key := cache.Key(cache.NamespaceHoldings, append([]any{address, chain.EVMChainID}, filterFlags.cacheParts()...)...)
			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), key, holdingsCacheTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				ds, err := s.scanDust(ctx, address, chain.EVMChainID, filter, nil)
				status := []model.ProviderStatus{{Name: "holdings", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
				if err != nil {
					return nil, status, nil, false, err
				}
				dust := ds.Filtered()
				data := scanOutput{
					Address:        address,
					ChainID:        chain.EVMChainID,
					ScannedAt:      ds.LastScan(),
					TokenCount:     len(ds.Scanned()),
					DustCount:      len(dust),
					DustValueUSD:   holdings.TotalValue(dust),
					MainTokens:     ds.MainTokens(),
					LowValueTokens: ds.LowValueTokens(),
				}
				return data, status, execution.TokenWarnings(dust), false, nil
			})
		},
	}
	cmd.Flags().StringVar(&addressArg, "address", "", "Wallet address")
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain id, slug or CAIP-2")
	filterFlags.register(cmd)
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

// scanDust builds a dust session for address on chainID and runs its first
// scan. A nil wallet state gets a fresh one.
func (s *runtimeState) scanDust(ctx context.Context, address string, chainID int64, filter holdings.DustFilter, state *session.WalletState) (*session.DustSession, error) {
	if state == nil {
		state = session.NewWalletState()
		if err := state.Connect(address, chainID); err != nil {
			return nil, err
		}
	}
	ds := session.NewDustSession(state, session.DustDeps{
		Holdings: s.holdings,
		Quotes:   s.quotes,
		Gas:      s.gas,
		Filter:   filter,
	})
	if err := ds.Scan(ctx); err != nil {
		return nil, err
	}
	return ds, nil
}

// selectDust applies a --tokens / --all selection and returns warnings for
// addresses outside the dust set.
func selectDust(ctx context.Context, ds *session.DustSession, tokensArg string, all bool) ([]string, error) {
	tokens := splitCSV(tokensArg)
	if all == (len(tokens) > 0) {
		return nil, clierr.New(clierr.CodeUsage, "use exactly one of --tokens or --all")
	}
	if all {
		if err := ds.SelectAll(ctx); err != nil {
			return nil, err
		}
	} else {
		for _, token := range tokens {
			if !id.IsEVMAddress(token) {
				return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid token address %q", token))
			}
		}
		missing, err := ds.SelectTokens(ctx, tokens)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return []string{"not in the dust set: " + strings.Join(missing, ", ")}, nil
		}
	}
	if len(ds.Selected()) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "no sweepable tokens selected")
	}
	return nil, nil
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var addressArg, chainArg, targetArg, tokensArg, strategyArg string
	var all bool
	var filterFlags dustFilterFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote sweeping selected dust into a target asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			address, chain, err := parseWalletChain(addressArg, chainArg)
			if err != nil {
				return err
			}
			target, err := id.ParseTarget(lo.Ternary(targetArg == "", s.settings.DefaultTarget, targetArg))
			if err != nil {
				return err
			}
			filter, err := filterFlags.filter()
			if err != nil {
				return err
			}
			state := session.NewWalletState()
			if err := state.Connect(address, chain.EVMChainID); err != nil {
				return err
			}
			if strategyArg != "" {
				strategy, err := parseStrategy(strategyArg)
				if err != nil {
					return err
				}
				state.SetStrategy(strategy)
			}

			ctx, cancel := s.operationContext()
			defer cancel()
			stop := startSpinner(s.runner.stderr, s.settings, "Fetching quotes...")
			data, warnings, err := s.quoteDust(ctx, state, filter, target, tokensArg, all)
			stop()
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&addressArg, "address", "", "Wallet address")
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain id, slug or CAIP-2")
	cmd.Flags().StringVar(&targetArg, "target", "", "Target asset: ETH, USDC or DAI (default from config)")
	cmd.Flags().StringVar(&tokensArg, "tokens", "", "Token addresses to quote (comma-separated)")
	cmd.Flags().BoolVar(&all, "all", false, "Quote every sweepable dust token")
	cmd.Flags().StringVar(&strategyArg, "strategy", "", "Include a gas estimate for this strategy (SMART_BATCH, STANDARD_BATCH, LEGACY)")
	filterFlags.register(cmd)
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

func (s *runtimeState) quoteDust(ctx context.Context, state *session.WalletState, filter holdings.DustFilter, target id.Target, tokensArg string, all bool) (quoteOutput, []string, error) {
	ds, err := s.scanDust(ctx, state.Address(), state.ChainID(), filter, state)
	if err != nil {
		return quoteOutput{}, nil, err
	}
	if err := ds.SetTargetToken(ctx, target); err != nil {
		return quoteOutput{}, nil, err
	}
	warnings, err := selectDust(ctx, ds, tokensArg, all)
	if err != nil {
		return quoteOutput{}, nil, err
	}

	selected, quotes := ds.Selected(), ds.Quotes()
	data := quoteOutput{
		Address:        state.Address(),
		ChainID:        state.ChainID(),
		Target:         target,
		TotalValueUSD:  ds.TotalValue(),
		TotalOutput:    ds.TotalOutput().String(),
		AvgPriceImpact: ds.AvgPriceImpact(),
		QuoteError:     ds.QuoteError(),
	}
	for i, token := range selected {
		item := quotedToken{Token: token}
		if i < len(quotes) {
			item.Quote = quotes[i]
		}
		data.Tokens = append(data.Tokens, item)
	}
	if state.Detected() {
		est := execution.EstimateGasCost(ctx, s.gas, state.ChainID(), state.Strategy(), len(selected))
		data.Gas = &est
	}
	warnings = append(warnings, execution.TokenWarnings(selected)...)
	return data, warnings, nil
}

func (s *runtimeState) newStrategyCommand() *cobra.Command {
	root := &cobra.Command{Use: "strategy", Short: "Wallet execution strategy"}
	var addressArg, chainArg string
	var tokenCount int
	detect := &cobra.Command{
		Use:   "detect",
		Short: "Detect the signing wallet's batching strategy and estimate sweep gas",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			if tokenCount < 0 {
				return clierr.New(clierr.CodeUsage, "--tokens must be >= 0")
			}
			ctx, cancel := s.operationContext()
			defer cancel()
			conn, err := s.connect(ctx, addressArg, chain.EVMChainID)
			if err != nil {
				return err
			}
			defer conn.release()

			strategy := conn.state.Strategy()
			data := strategyOutput{
				Address:          conn.state.Address(),
				ChainID:          chain.EVMChainID,
				Strategy:         strategy,
				Description:      execution.StrategyDescription(strategy),
				TransactionCount: execution.EstimateTransactionCount(strategy, tokenCount),
				Gas:              execution.EstimateGasCost(ctx, s.gas, chain.EVMChainID, strategy, tokenCount),
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	detect.Flags().StringVar(&addressArg, "address", "", "Wallet address (required with a wallet rpc bridge)")
	detect.Flags().StringVar(&chainArg, "chain", "", "Chain id, slug or CAIP-2")
	detect.Flags().IntVar(&tokenCount, "tokens", 1, "Number of tokens to size the estimate for")
	_ = detect.MarkFlagRequired("chain")
	root.AddCommand(detect)
	return root
}

func (s *runtimeState) newRoutesCommand() *cobra.Command {
	root := &cobra.Command{Use: "routes", Short: "Solver route discovery"}

	var checkAddress, checkChain, checkToken, checkTarget, checkAmount string
	var checkDecimals int
	check := &cobra.Command{
		Use:   "check",
		Short: "Check whether a token has a swap route into a target asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, chain, err := parseWalletChain(checkAddress, checkChain)
			if err != nil {
				return err
			}
			if !id.IsEVMAddress(checkToken) {
				return clierr.New(clierr.CodeUsage, "--token must be a valid EVM address")
			}
			target, err := id.ParseTarget(lo.Ternary(checkTarget == "", s.settings.DefaultTarget, checkTarget))
			if err != nil {
				return err
			}
			destination, err := execution.ResolveOutputToken(chain.EVMChainID, target)
			if err != nil {
				return err
			}
			var amount = parsedAmount{}
			if checkAmount != "" {
				if amount, err = parseAmount(checkAmount, checkDecimals); err != nil {
					return err
				}
			}
			key := cache.Key(cache.NamespaceRoutes, chain.EVMChainID, checkToken, destination, amount.String())
			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), key, 10*time.Minute, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				ok := s.quotes.CheckRouteAvailable(ctx, chain.EVMChainID, checkToken, destination, user, checkDecimals, amount.value)
				status := []model.ProviderStatus{{Name: s.quotes.Info().Name, Status: "ok", LatencyMS: time.Since(start).Milliseconds()}}
				data := routeCheckOutput{
					ChainID:     chain.EVMChainID,
					Token:       checkToken,
					Target:      target,
					Destination: destination,
					Amount:      amount.String(),
					Available:   ok,
				}
				return data, status, nil, false, nil
			})
		},
	}
	check.Flags().StringVar(&checkAddress, "address", "", "Wallet address the route is quoted for")
	check.Flags().StringVar(&checkChain, "chain", "", "Chain id, slug or CAIP-2")
	check.Flags().StringVar(&checkToken, "token", "", "Token address")
	check.Flags().StringVar(&checkTarget, "target", "", "Target asset: ETH, USDC or DAI")
	check.Flags().StringVar(&checkAmount, "amount", "", "Amount in token units (default: 0.1 token)")
	check.Flags().IntVar(&checkDecimals, "decimals", 18, "Token decimals")
	_ = check.MarkFlagRequired("address")
	_ = check.MarkFlagRequired("chain")
	_ = check.MarkFlagRequired("token")
	root.AddCommand(check)

	var altAddress, altChain, altToken, altBalance string
	var altDecimals int
	alternatives := &cobra.Command{
		Use:   "alternatives",
		Short: "List the targets a token balance can be swept into",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, chain, err := parseWalletChain(altAddress, altChain)
			if err != nil {
				return err
			}
			if !id.IsEVMAddress(altToken) {
				return clierr.New(clierr.CodeUsage, "--token must be a valid EVM address")
			}
			balance, err := parseAmount(altBalance, altDecimals)
			if err != nil {
				return err
			}
			ctx, cancel := s.operationContext()
			defer cancel()
			stop := startSpinner(s.runner.stderr, s.settings, "Checking routes...")
			start := time.Now()
			routes := s.quotes.CheckAlternativeRoutes(ctx, chain.EVMChainID, altToken, user, altDecimals, balance.value)
			stop()
			status := []model.ProviderStatus{{Name: s.quotes.Info().Name, Status: "ok", LatencyMS: time.Since(start).Milliseconds()}}
			if routes == nil {
				routes = []model.RouteAlternative{}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), routes, nil, cacheMetaBypass(), status, false)
		},
	}
	alternatives.Flags().StringVar(&altAddress, "address", "", "Wallet address the routes are quoted for")
	alternatives.Flags().StringVar(&altChain, "chain", "", "Chain id, slug or CAIP-2")
	alternatives.Flags().StringVar(&altToken, "token", "", "Token address")
	alternatives.Flags().StringVar(&altBalance, "balance", "", "Balance in token units")
	alternatives.Flags().IntVar(&altDecimals, "decimals", 18, "Token decimals")
	_ = alternatives.MarkFlagRequired("address")
	_ = alternatives.MarkFlagRequired("chain")
	_ = alternatives.MarkFlagRequired("token")
	_ = alternatives.MarkFlagRequired("balance")
	root.AddCommand(alternatives)

	return root
}
