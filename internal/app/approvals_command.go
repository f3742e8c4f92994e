package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ggonzalez94/dustsweep/internal/cache"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/providers/covalent"
	"github.com/ggonzalez94/dustsweep/internal/session"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

const approvalsCacheTTL = 5 * time.Minute

type approvalsOutput struct {
	Address             string              `json:"address"`
	Chains              []int64             `json:"chains"`
	Items               []model.RevokeItem  `json:"items"`
	ChainStats          []session.ChainStat `json:"chain_stats"`
	TotalValueAtRiskUSD float64             `json:"total_value_at_risk_usd"`
}

type revokeOutput struct {
	RunID   string                  `json:"run_id"`
	Address string                  `json:"address"`
	ChainID int64                   `json:"chain_id"`
	Items   []model.RevokeItem      `json:"items"`
	Result  model.RevokeBatchResult `json:"result"`
}

type singleRevokeOutput struct {
	RunID     string                   `json:"run_id"`
	Address   string                   `json:"address"`
	Item      model.RevokeItem         `json:"item"`
	Allowance string                   `json:"new_allowance,omitempty"`
	Result    model.SingleRevokeResult `json:"result"`
}

func (s *runtimeState) newApprovalsCommand() *cobra.Command {
	root := &cobra.Command{Use: "approvals", Short: "Token and NFT approval exposure"}

	var addressArg, chainsArg string
	var minValue float64
	scan := &cobra.Command{
		Use:   "scan",
		Short: "Scan open token and NFT approvals across chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := id.ParseAddress(addressArg, "--address")
			if err != nil {
				return err
			}
			chains, err := id.ParseChains(chainsArg)
			if err != nil {
				return err
			}
			if minValue < 0 {
				return clierr.New(clierr.CodeUsage, "--min-value must be >= 0")
			}
			owner := addr.Hex()
			chainIDs := lo.Map(chains, func(c id.Chain, _ int) int64 { return c.EVMChainID })
			chainKey := strings.Join(lo.Map(chainIDs, func(v int64, _ int) string { return fmt.Sprint(v) }), ",")
			key := cache.Key(cache.NamespaceApprovals, owner, chainKey, minValue)

			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), key, approvalsCacheTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				rs := session.NewRevokeSession(session.NewWalletState(), s.approvals, covalent.ToRevokeItems, nil)
				rs.SetFilter(session.RevokeFilter{MinValueAtRisk: minValue, Chains: chainIDs})
				if err := rs.Scan(ctx, owner, chainIDs); err != nil {
					return nil, nil, nil, false, err
				}
				warnings, failed := approvalScanWarnings(rs.Results())
				status := []model.ProviderStatus{{Name: "covalent", Status: "ok", LatencyMS: time.Since(start).Milliseconds()}}
				if failed == len(chainIDs) && failed > 0 {
					status[0].Status = "unavailable"
					return nil, status, warnings, false, clierr.New(clierr.CodeUnavailable, "approvals scan failed on every chain")
				}
				data := approvalsOutput{
					Address:             owner,
					Chains:              chainIDs,
					Items:               rs.FilteredItems(),
					ChainStats:          rs.ChainStats(),
					TotalValueAtRiskUSD: rs.TotalValueAtRisk(),
				}
				return data, status, warnings, failed > 0, nil
			})
		},
	}
	scan.Flags().StringVar(&addressArg, "address", "", "Owner address")
	scan.Flags().StringVar(&chainsArg, "chains", "", "Chains to scan (comma-separated, default all)")
	scan.Flags().Float64Var(&minValue, "min-value", 0, "Minimum value at risk in USD")
	_ = scan.MarkFlagRequired("address")
	root.AddCommand(scan)
	return root
}

func approvalScanWarnings(results []model.ChainApprovals) ([]string, int) {
	var warnings []string
	for _, res := range results {
		if res.Error != "" {
			warnings = append(warnings, fmt.Sprintf("chain %d approvals scan failed: %s", res.ChainID, res.Error))
		}
	}
	return warnings, len(warnings)
}

// revokeTarget is an opened wallet plus a revoke session scanned on one chain.
type revokeTarget struct {
	conn    *connectedWallet
	session *session.RevokeSession
	journal *execution.Run
	owner   string
	chainID int64
}

func (s *runtimeState) openRevokeTarget(ctx context.Context, addressArg, chainArg string) (*revokeTarget, error) {
	chain, err := id.ParseChain(chainArg)
	if err != nil {
		return nil, err
	}
	conn, err := s.connect(ctx, addressArg, chain.EVMChainID)
	if err != nil {
		return nil, err
	}
	owner := conn.state.Address()
	journal := execution.NewRun(execution.RunKindRevoke, chain.EVMChainID, owner)
	journal.Strategy = conn.state.Strategy()
	rs := session.NewRevokeSession(conn.state, s.approvals, covalent.ToRevokeItems, s.newOrchestrator(conn.wallet, journal))

	stop := startSpinner(s.runner.stderr, s.settings, "Scanning approvals...")
	err = rs.Scan(ctx, owner, []int64{chain.EVMChainID})
	stop()
	if err != nil {
		conn.release()
		return nil, err
	}
	if warnings, _ := approvalScanWarnings(rs.Results()); len(warnings) > 0 {
		conn.release()
		return nil, clierr.New(clierr.CodeUnavailable, warnings[0])
	}
	return &revokeTarget{conn: conn, session: rs, journal: journal, owner: owner, chainID: chain.EVMChainID}, nil
}

// finish stores the journal and drops cached scans once something landed on chain.
func (s *runtimeState) finishRevoke(t *revokeTarget, result model.RevokeBatchResult) {
	t.journal.CompleteRevoke(result)
	s.saveRun(t.journal)
	if len(result.TxHashes) > 0 {
		s.invalidateScans(t.owner)
	}
	logger.Infof("[Revoke] run %s finished success=%t revoked=%d failed=%d", t.journal.RunID, result.Success, result.RevokedCount, result.FailedCount)
}

func (s *runtimeState) newRevokeCommand() *cobra.Command {
	root := &cobra.Command{Use: "revoke", Short: "Revoke token and NFT approvals"}
	root.AddCommand(s.newRevokeRunCommand())
	root.AddCommand(s.newRevokeSingleCommand())
	root.AddCommand(s.newRevokePartialCommand())
	return root
}

func (s *runtimeState) newRevokeRunCommand() *cobra.Command {
	var addressArg, chainArg, idsArg string
	var all, highRisk, unlimited bool
	var minValue float64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Revoke selected approvals on one chain, batched when the wallet supports it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := splitIDs(idsArg)
			modes := lo.Count([]bool{len(ids) > 0, all, highRisk, unlimited}, true)
			if modes != 1 {
				return clierr.New(clierr.CodeUsage, "use exactly one of --ids, --all, --high-risk or --unlimited")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			target, err := s.openRevokeTarget(ctx, addressArg, chainArg)
			if err != nil {
				return err
			}
			defer target.conn.release()
			rs := target.session

			var warnings []string
			switch {
			case all:
				rs.SelectAll()
			case highRisk:
				rs.SelectHighRisk()
			case unlimited:
				rs.SelectUnlimited()
			default:
				if missing := rs.SelectIDs(ids); len(missing) > 0 {
					warnings = append(warnings, "unknown approval ids: "+strings.Join(missing, ", "))
				}
			}
			selected := lo.Filter(rs.Selected(), func(item model.RevokeItem, _ int) bool {
				return item.ValueAtRiskQuote >= minValue || len(ids) > 0
			})
			if len(selected) != len(rs.Selected()) {
				rs.SelectIDs(lo.Map(selected, func(item model.RevokeItem, _ int) string { return item.ID }))
			}
			if len(selected) == 0 {
				return clierr.New(clierr.CodeUsage, "no approvals selected")
			}

			printer := newProgressPrinter(s.runner.stderr, s.settings)
			rs.SetProgressHook(printer.Progress)
			result, err := rs.ExecuteRevoke(ctx, target.owner, target.chainID)
			if err != nil {
				return err
			}
			s.finishRevoke(target, result)

			data := revokeOutput{
				RunID:   target.journal.RunID,
				Address: target.owner,
				ChainID: target.chainID,
				Items:   selected,
				Result:  result,
			}
			return s.emitOutcome(trimRootPath(cmd.CommandPath()), data, warnings, revokeFailure(result.Success, strings.Join(result.Errors, " | ")))
		},
	}
	cmd.Flags().StringVar(&addressArg, "address", "", "Owner address (required with a wallet rpc bridge)")
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain id, slug or CAIP-2")
	cmd.Flags().StringVar(&idsArg, "ids", "", "Approval ids to revoke (comma-separated)")
	cmd.Flags().BoolVar(&all, "all", false, "Revoke every approval on the chain")
	cmd.Flags().BoolVar(&highRisk, "high-risk", false, "Revoke approvals flagged HIGH RISK")
	cmd.Flags().BoolVar(&unlimited, "unlimited", false, "Revoke unlimited approvals")
	cmd.Flags().Float64Var(&minValue, "min-value", 0, "Skip approvals below this value at risk in USD (ignored with --ids)")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

func (s *runtimeState) newRevokeSingleCommand() *cobra.Command {
	var addressArg, chainArg, itemID string
	cmd := &cobra.Command{
		Use:   "single",
		Short: "Revoke one approval with a direct transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			target, err := s.openRevokeTarget(ctx, addressArg, chainArg)
			if err != nil {
				return err
			}
			defer target.conn.release()

			item, ok := lo.Find(target.session.Items(), func(v model.RevokeItem) bool { return v.ID == itemID })
			if !ok {
				return clierr.New(clierr.CodeUsage, "unknown approval id "+itemID)
			}
			result, err := target.session.RevokeSingle(ctx, itemID, target.owner)
			if err != nil {
				return err
			}
			s.finishRevoke(target, batchFromSingle(item, result))

			data := singleRevokeOutput{RunID: target.journal.RunID, Address: target.owner, Item: item, Result: result}
			return s.emitOutcome(trimRootPath(cmd.CommandPath()), data, nil, revokeFailure(result.Success, target.session.Err()))
		},
	}
	cmd.Flags().StringVar(&addressArg, "address", "", "Owner address (required with a wallet rpc bridge)")
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain id, slug or CAIP-2")
	cmd.Flags().StringVar(&itemID, "id", "", "Approval id from approvals scan")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func (s *runtimeState) newRevokePartialCommand() *cobra.Command {
	var addressArg, chainArg, itemID, allowanceArg string
	cmd := &cobra.Command{
		Use:   "partial",
		Short: "Lower an ERC20 allowance instead of revoking it",
		RunE: func(cmd *cobra.Command, args []string) error {
			allowance, err := id.ParseBaseUnits(allowanceArg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			target, err := s.openRevokeTarget(ctx, addressArg, chainArg)
			if err != nil {
				return err
			}
			defer target.conn.release()

			item, ok := lo.Find(target.session.Items(), func(v model.RevokeItem) bool { return v.ID == itemID })
			if !ok {
				return clierr.New(clierr.CodeUsage, "unknown approval id "+itemID)
			}
			if item.Type != model.ApprovalERC20 {
				return clierr.New(clierr.CodeUnsupported, "partial revoke only applies to ERC20 approvals")
			}
			result, err := target.session.RevokePartial(ctx, itemID, allowance)
			if err != nil {
				return err
			}
			s.finishRevoke(target, batchFromSingle(item, result))

			data := singleRevokeOutput{
				RunID:     target.journal.RunID,
				Address:   target.owner,
				Item:      item,
				Allowance: id.FormatUnits(allowance, item.TokenDecimals),
				Result:    result,
			}
			return s.emitOutcome(trimRootPath(cmd.CommandPath()), data, nil, revokeFailure(result.Success, target.session.Err()))
		},
	}
	cmd.Flags().StringVar(&addressArg, "address", "", "Owner address (required with a wallet rpc bridge)")
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain id, slug or CAIP-2")
	cmd.Flags().StringVar(&itemID, "id", "", "Approval id from approvals scan")
	cmd.Flags().StringVar(&allowanceArg, "allowance", "", "New allowance in base units")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("allowance")
	return cmd
}

func batchFromSingle(item model.RevokeItem, result model.SingleRevokeResult) model.RevokeBatchResult {
	out := model.RevokeBatchResult{Success: result.Success, TxHashes: []string{}}
	if result.TxHash != "" {
		out.TxHashes = append(out.TxHashes, result.TxHash)
	}
	if result.Success {
		out.RevokedCount = 1
		out.RevokedIDs = []string{item.ID}
	} else {
		out.FailedCount = 1
		out.Errors = []string{result.Error}
	}
	return out
}

func revokeFailure(success bool, msg string) *clierr.Error {
	if success {
		return nil
	}
	if msg == "" {
		msg = "revoke failed"
	}
	if strings.Contains(msg, execution.MsgUserRejected) {
		return clierr.New(clierr.CodeUserRejected, msg)
	}
	return clierr.New(clierr.CodeExecutionFailed, msg)
}
