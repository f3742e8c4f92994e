package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution"
	"github.com/ggonzalez94/dustsweep/internal/execution/signer"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

// LocalWallet signs with a local key and broadcasts through the public RPC
// pool. It has no call batching, so strategy detection resolves to LEGACY.
type LocalWallet struct {
	*ChainReader
	signer signer.Signer
}

var _ execution.Wallet = (*LocalWallet)(nil)

func NewLocalWallet(reader *ChainReader, txSigner signer.Signer) *LocalWallet {
	return &LocalWallet{ChainReader: reader, signer: txSigner}
}

func (w *LocalWallet) Address() common.Address {
	return w.signer.Address()
}

func (w *LocalWallet) GetCapabilities(context.Context, common.Address) (execution.Capabilities, error) {
	return execution.Capabilities{}, nil
}

func (w *LocalWallet) SendCalls(context.Context, execution.SendCallsRequest) (json.RawMessage, error) {
	return nil, clierr.New(clierr.CodeBatchRejected, "local signer does not support wallet_sendCalls")
}

func (w *LocalWallet) SendTransaction(ctx context.Context, chainID int64, call model.Call) (common.Hash, error) {
	if w.signer == nil {
		return common.Hash{}, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if !common.IsHexAddress(call.To) {
		return common.Hash{}, clierr.New(clierr.CodeUsage, "missing target for transaction")
	}
	client, err := w.pool.Client(ctx, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	remoteChainID, err := client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if remoteChainID.Int64() != chainID {
		return common.Hash{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("rpc chain mismatch: expected %d, got %d", chainID, remoteChainID.Int64()))
	}
	target := common.HexToAddress(call.To)
	data, err := decodeHex(call.Data)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUsage, "decode calldata", err)
	}
	value := new(big.Int)
	if call.Value != nil {
		value.Set(call.Value)
	}
	msg := ethereum.CallMsg{From: w.signer.Address(), To: &target, Value: value, Data: data}

	if w.opts.Simulate {
		if _, err := client.CallContract(ctx, msg, nil); err != nil {
			return common.Hash{}, clierr.Wrap(clierr.CodeExecutionFailed, "simulate transaction (eth_call)", err)
		}
	}
	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeExecutionFailed, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * w.opts.GasMultiplier)

	tipCap, err := resolveTipCap(ctx, client, w.opts.MaxPriorityFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, w.opts.MaxFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := client.PendingNonceAt(ctx, w.signer.Address())
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   remoteChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := signer.SignChecked(w.signer, remoteChainID, tx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	logger.Infof("[Wallet] broadcast %s on chain %d nonce=%d", signed.Hash().Hex(), chainID, nonce)
	return signed.Hash(), nil
}

type tipCapSuggester interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

func resolveTipCap(ctx context.Context, client tipCapSuggester, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	if clean == "" || clean == "0x" {
		return []byte{}, nil
	}
	if !strings.HasPrefix(clean, "0x") {
		clean = "0x" + clean
	}
	if len(clean)%2 != 0 {
		clean = "0x0" + clean[2:]
	}
	return hexutil.Decode(clean)
}
