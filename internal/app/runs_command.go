package app

import (
	"strings"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newRunsCommand() *cobra.Command {
	root := &cobra.Command{Use: "runs", Short: "Inspect persisted sweep and revoke runs"}

	var statusArg, kindArg string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := strings.ToLower(strings.TrimSpace(statusArg))
			switch execution.RunStatus(status) {
			case "", execution.RunStatusPlanned, execution.RunStatusRunning, execution.RunStatusCompleted, execution.RunStatusFailed:
			default:
				return clierr.New(clierr.CodeUsage, "--status must be planned, running, completed or failed")
			}
			kind := strings.ToLower(strings.TrimSpace(kindArg))
			switch execution.RunKind(kind) {
			case "", execution.RunKindSweep, execution.RunKindRevoke:
			default:
				return clierr.New(clierr.CodeUsage, "--kind must be sweep or revoke")
			}
			runs, err := s.runs.List(status, kind, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list runs", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), runs, nil, cacheMetaBypass(), nil, false)
		},
	}
	list.Flags().StringVar(&statusArg, "status", "", "Filter by status")
	list.Flags().StringVar(&kindArg, "kind", "", "Filter by kind (sweep, revoke)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum runs to return")
	root.AddCommand(list)

	var runID string
	get := &cobra.Command{
		Use:   "get",
		Short: "Show one run with its step journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := s.runs.Get(strings.TrimSpace(runID))
			if err != nil {
				if strings.HasPrefix(err.Error(), "run not found") {
					return clierr.Wrap(clierr.CodeUsage, "unknown run id", err)
				}
				return clierr.Wrap(clierr.CodeInternal, "read run", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), run, nil, cacheMetaBypass(), nil, false)
		},
	}
	get.Flags().StringVar(&runID, "id", "", "Run id")
	_ = get.MarkFlagRequired("id")
	root.AddCommand(get)

	return root
}
