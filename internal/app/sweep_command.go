package app

import (
	"context"
	"os"
	"os/signal"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/session"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type sweepOutput struct {
	RunID    string                  `json:"run_id"`
	Address  string                  `json:"address"`
	ChainID  int64                   `json:"chain_id"`
	Strategy model.ExecutionStrategy `json:"strategy"`
	Target   id.Target               `json:"target"`
	Tokens   []string                `json:"tokens"`
	Result   model.ExecutionResult   `json:"result"`
}

func (s *runtimeState) newSweepCommand() *cobra.Command {
	root := &cobra.Command{Use: "sweep", Short: "Sweep dust into a target asset"}

	var addressArg, chainArg, targetArg, tokensArg, strategyArg string
	var all bool
	var filterFlags dustFilterFlags
	run := &cobra.Command{
		Use:   "run",
		Short: "Scan, quote and sweep the selected dust with the signing wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := id.ParseChain(chainArg)
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
			var forced model.ExecutionStrategy
			if strategyArg != "" {
				if forced, err = parseStrategy(strategyArg); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			conn, err := s.connect(ctx, addressArg, chain.EVMChainID)
			if err != nil {
				return err
			}
			defer conn.release()
			if forced != "" {
				conn.state.SetStrategy(forced)
			}
			owner := conn.state.Address()

			journal := execution.NewRun(execution.RunKindSweep, chain.EVMChainID, owner)
			journal.Strategy = conn.state.Strategy()
			journal.Target = string(target)
			ds := session.NewDustSession(conn.state, session.DustDeps{
				Holdings: s.holdings,
				Quotes:   s.quotes,
				Executor: s.newOrchestrator(conn.wallet, journal),
				Gas:      s.gas,
				Filter:   filter,
			})

			stopSpinner := startSpinner(s.runner.stderr, s.settings, "Scanning and quoting...")
			warnings, err := prepareSweep(ctx, ds, target, tokensArg, all)
			stopSpinner()
			if err != nil {
				return err
			}

			selected := ds.Selected()
			printer := newProgressPrinter(s.runner.stderr, s.settings)
			result := ds.Execute(ctx, printer.Status)
			journal.CompleteSweep(result)
			s.saveRun(journal)
			if len(result.TxHashes) > 0 {
				s.invalidateScans(owner)
			}
			logger.Infof("[Sweep] run %s finished success=%t txs=%d", journal.RunID, result.Success, len(result.TxHashes))

			data := sweepOutput{
				RunID:    journal.RunID,
				Address:  owner,
				ChainID:  chain.EVMChainID,
				Strategy: journal.Strategy,
				Target:   target,
				Tokens:   lo.Map(selected, func(t model.Token, _ int) string { return t.Symbol }),
				Result:   result,
			}
			warnings = append(warnings, execution.TokenWarnings(selected)...)
			return s.emitOutcome(trimRootPath(cmd.CommandPath()), data, warnings, sweepFailure(result))
		},
	}
	run.Flags().StringVar(&addressArg, "address", "", "Wallet address (required with a wallet rpc bridge)")
	run.Flags().StringVar(&chainArg, "chain", "", "Chain id, slug or CAIP-2")
	run.Flags().StringVar(&targetArg, "target", "", "Target asset: ETH, USDC or DAI (default from config)")
	run.Flags().StringVar(&tokensArg, "tokens", "", "Token addresses to sweep (comma-separated)")
	run.Flags().BoolVar(&all, "all", false, "Sweep every sweepable dust token")
	run.Flags().StringVar(&strategyArg, "strategy", "", "Override the detected strategy (SMART_BATCH, STANDARD_BATCH, LEGACY)")
	filterFlags.register(run)
	_ = run.MarkFlagRequired("chain")
	root.AddCommand(run)
	return root
}

func prepareSweep(ctx context.Context, ds *session.DustSession, target id.Target, tokensArg string, all bool) ([]string, error) {
	if err := ds.Scan(ctx); err != nil {
		return nil, err
	}
	if err := ds.SetTargetToken(ctx, target); err != nil {
		return nil, err
	}
	return selectDust(ctx, ds, tokensArg, all)
}

func sweepFailure(result model.ExecutionResult) *clierr.Error {
	if result.Success {
		return nil
	}
	msg := lo.Ternary(result.Error == "", "sweep failed", result.Error)
	if msg == execution.MsgUserRejected {
		return clierr.New(clierr.CodeUserRejected, msg)
	}
	return clierr.New(clierr.CodeExecutionFailed, msg)
}
