package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ggonzalez94/dustsweep/internal/cache"
	"github.com/ggonzalez94/dustsweep/internal/config"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution"
	"github.com/ggonzalez94/dustsweep/internal/execution/signer"
	"github.com/ggonzalez94/dustsweep/internal/holdings"
	"github.com/ggonzalez94/dustsweep/internal/httpx"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/providers/covalent"
	"github.com/ggonzalez94/dustsweep/internal/providers/relay"
	"github.com/ggonzalez94/dustsweep/internal/providers/routescan"
	"github.com/ggonzalez94/dustsweep/internal/session"
	"github.com/ggonzalez94/dustsweep/internal/wallet"
)

// walletOpener returns the signing wallet for from (empty means "whatever
// the local key resolves to"), the address it signs for and a release func.
type walletOpener func(ctx context.Context, from string) (execution.Wallet, string, func(), error)

func (s *runtimeState) initProviders(settings config.Settings) {
	if s.providerInfos != nil {
		return
	}
	jsonClient := httpx.New(settings.Timeout, settings.Retries)
	httpClient := &http.Client{Timeout: settings.Timeout}
	relayClient := relay.New(httpClient, settings.RelayAPIKey).WithBaseURL(settings.RelayBaseURL)
	index := routescan.New(jsonClient, settings.RouteScanAPIKey).WithBaseURL(settings.RouteScanBaseURL)
	approvals := covalent.New(httpClient, settings.CovalentAPIKey).WithBaseURL(settings.CovalentBaseURL)
	s.providerInfos = []model.ProviderInfo{relayClient.Info(), index.Info(), approvals.Info()}

	if s.reader == nil {
		s.pool = wallet.NewClientPool(settings.RPCURLs)
		opts := wallet.DefaultOptions()
		opts.PollInterval = settings.PollInterval
		opts.ReceiptTimeout = settings.ReceiptTimeout
		s.reader = wallet.NewChainReader(s.pool, opts)
	}
	if s.quotes == nil {
		s.quotes = relayClient
	}
	if s.holdings == nil {
		s.holdings = holdings.NewScanner(index, s.reader, holdings.WithRouteChecker(s.quotes))
	}
	if s.approvals == nil {
		s.approvals = approvals
	}
	if s.gas == nil {
		s.gas = s.reader
	}
	if s.openWallet == nil {
		s.openWallet = s.openConfiguredWallet
	}
}

// openConfiguredWallet bridges to an EIP-5792 wallet endpoint when one is
// configured and signs locally otherwise.
func (s *runtimeState) openConfiguredWallet(ctx context.Context, from string) (execution.Wallet, string, func(), error) {
	if url := strings.TrimSpace(s.settings.WalletRPCURL); url != "" {
		addr, err := id.ParseAddress(from, "--address")
		if err != nil {
			return nil, "", nil, err
		}
		w, err := wallet.DialRPCWallet(ctx, url, addr, s.reader)
		if err != nil {
			return nil, "", nil, err
		}
		logger.Infof("[Wallet] using wallet rpc bridge for %s", addr.Hex())
		return w, addr.Hex(), w.Close, nil
	}

	txSigner, err := signer.NewLocalSignerFromInputs(s.settings.KeySource, "")
	if err != nil {
		return nil, "", nil, clierr.Wrap(clierr.CodeSigner, "load local signer", err)
	}
	address := txSigner.Address().Hex()
	if strings.TrimSpace(from) != "" && !strings.EqualFold(strings.TrimSpace(from), address) {
		return nil, "", nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("signer address %s does not match --address %s", address, from))
	}
	return wallet.NewLocalWallet(s.reader, txSigner), address, func() {}, nil
}

// connectedWallet is an opened signing wallet plus the session state that
// tracks its chain and detected strategy.
type connectedWallet struct {
	wallet  execution.Wallet
	state   *session.WalletState
	release func()
}

// connect opens the wallet, binds it to chainID and detects its strategy.
func (s *runtimeState) connect(ctx context.Context, from string, chainID int64) (*connectedWallet, error) {
	w, address, release, err := s.openWallet(ctx, from)
	if err != nil {
		return nil, err
	}
	state := session.NewWalletState()
	if err := state.Connect(address, chainID); err != nil {
		release()
		return nil, err
	}
	strategy := execution.NewDetector(w, state).Detect(ctx, address, chainID)
	logger.Infof("[Strategy] %s on chain %d: %s", state.ShortAddress(), chainID, strategy)
	return &connectedWallet{wallet: w, state: state, release: release}, nil
}

func (s *runtimeState) newOrchestrator(w execution.Wallet, run *execution.Run) *execution.Orchestrator {
	opts := append([]execution.Option{execution.WithRecorder(run)}, s.orchestratorOpts...)
	return execution.NewOrchestrator(w, s.quotes, opts...)
}

// saveRun persists the run journal. Save failures are only logged.
func (s *runtimeState) saveRun(run *execution.Run) {
	if s.runs == nil || run == nil {
		return
	}
	if err := s.runs.Save(run); err != nil {
		logger.Errorf("[Runs] save %s: %v", run.RunID, err)
	}
}

// invalidateScans drops cached holdings and approvals of owner after its
// balances or allowances changed.
func (s *runtimeState) invalidateScans(owner string) {
	if s.cache == nil {
		return
	}
	for _, prefix := range []string{cache.Key(cache.NamespaceHoldings, owner), cache.Key(cache.NamespaceApprovals, owner)} {
		if _, err := s.cache.Invalidate(prefix); err != nil {
			logger.Warnf("[Cache] invalidate %s: %v", prefix, err)
		}
	}
}
