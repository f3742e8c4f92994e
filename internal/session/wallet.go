package session

import (
	"sync"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/registry"
)

// WalletState is the connected account, its chain and the last detected
// execution strategy. Switching account or chain clears the strategy.
type WalletState struct {
	mu       sync.RWMutex
	address  string
	chainID  int64
	strategy model.ExecutionStrategy
}

var _ execution.StrategySink = (*WalletState)(nil)

func NewWalletState() *WalletState {
	return &WalletState{}
}

// Connect sets the account. An unsupported chain leaves the account connected
// with no active chain.
func (w *WalletState) Connect(address string, chainID int64) error {
	if !id.IsEVMAddress(address) {
		return clierr.New(clierr.CodeUsage, "Invalid wallet address format")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.address != address {
		w.strategy = ""
	}
	w.address = address
	w.setChainLocked(chainID)
	return nil
}

func (w *WalletState) SetChain(chainID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setChainLocked(chainID)
}

func (w *WalletState) setChainLocked(chainID int64) {
	if !registry.IsSupportedChain(chainID) {
		logger.Warnf("[Wallet] unsupported chain %d", chainID)
		chainID = 0
	}
	if chainID != w.chainID {
		w.strategy = ""
	}
	w.chainID = chainID
}

func (w *WalletState) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.address, w.chainID, w.strategy = "", 0, ""
}

func (w *WalletState) SetStrategy(strategy model.ExecutionStrategy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.strategy = strategy
}

// Strategy returns the detected strategy, or LEGACY when none was detected.
func (w *WalletState) Strategy() model.ExecutionStrategy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.strategy == "" {
		return model.StrategyLegacy
	}
	return w.strategy
}

func (w *WalletState) Detected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.strategy != ""
}

func (w *WalletState) Address() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.address
}

func (w *WalletState) ChainID() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chainID
}

// Ready reports whether an account is connected on a supported chain.
func (w *WalletState) Ready() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.address != "" && w.chainID != 0
}

func (w *WalletState) ShortAddress() string {
	addr := w.Address()
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
