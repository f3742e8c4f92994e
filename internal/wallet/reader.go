package wallet

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/logger"
)

type Options struct {
	PollInterval       time.Duration
	ReceiptTimeout     time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	Simulate           bool
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
		Simulate:       true,
	}
}

func (o Options) normalized() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 2 * time.Minute
	}
	if o.GasMultiplier <= 1 {
		o.GasMultiplier = 1.2
	}
	return o
}

// ChainReader serves the read side of the wallet collaborator from pooled
// public RPC clients.
type ChainReader struct {
	pool *ClientPool
	opts Options
}

func NewChainReader(pool *ClientPool, opts Options) *ChainReader {
	return &ChainReader{pool: pool, opts: opts.normalized()}
}

func (r *ChainReader) BalanceAt(ctx context.Context, chainID int64, owner common.Address) (*big.Int, error) {
	client, err := r.pool.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	balance, err := client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
	}
	return balance, nil
}

func (r *ChainReader) CallContract(ctx context.Context, chainID int64, to common.Address, data []byte) ([]byte, error) {
	client, err := r.pool.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "eth_call", err)
	}
	return out, nil
}

func (r *ChainReader) SuggestGasPrice(ctx context.Context, chainID int64) (*big.Int, error) {
	client, err := r.pool.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "suggest gas price", err)
	}
	return price, nil
}

// WaitForReceipt polls until the receipt appears or ReceiptTimeout elapses.
// Transient polling errors are ignored until the deadline.
func (r *ChainReader) WaitForReceipt(ctx context.Context, chainID int64, hash common.Hash) (bool, error) {
	client, err := r.pool.Client(ctx, chainID)
	if err != nil {
		return false, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt.Status == types.ReceiptStatusSuccessful, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			logger.Debugf("[Wallet] receipt poll for %s: %v", hash.Hex(), err)
		}
		select {
		case <-waitCtx.Done():
			return false, clierr.Wrap(clierr.CodeActionTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}
