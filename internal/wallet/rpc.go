package wallet

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

// RPCWallet forwards signing requests to an EIP-1193 style wallet endpoint
// (a browser bridge or a smart account provider) and reads chain state from
// the public RPC pool. JSON-RPC errors from the endpoint keep their codes,
// so a 4001 answer is recognized as a user rejection.
type RPCWallet struct {
	*ChainReader
	client *rpc.Client
	from   common.Address
}

var _ execution.Wallet = (*RPCWallet)(nil)

func DialRPCWallet(ctx context.Context, url string, from common.Address, reader *ChainReader) (*RPCWallet, error) {
	if strings.TrimSpace(url) == "" {
		return nil, clierr.New(clierr.CodeUsage, "wallet rpc url is required")
	}
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect wallet rpc", err)
	}
	return &RPCWallet{ChainReader: reader, client: client, from: from}, nil
}

func (w *RPCWallet) Address() common.Address { return w.from }

func (w *RPCWallet) Close() {
	if w.client != nil {
		w.client.Close()
	}
}

func (w *RPCWallet) GetCapabilities(ctx context.Context, owner common.Address) (execution.Capabilities, error) {
	var caps execution.Capabilities
	if err := w.client.CallContext(ctx, &caps, "wallet_getCapabilities", owner.Hex()); err != nil {
		return nil, err
	}
	return caps, nil
}

func (w *RPCWallet) SendCalls(ctx context.Context, req execution.SendCallsRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := w.client.CallContext(ctx, &raw, "wallet_sendCalls", req); err != nil {
		return nil, err
	}
	logger.Infof("[Wallet] wallet_sendCalls accepted %d calls on chain %s", len(req.Calls), req.ChainID)
	return raw, nil
}

type sendTxArgs struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

func (w *RPCWallet) SendTransaction(ctx context.Context, chainID int64, call model.Call) (common.Hash, error) {
	args := sendTxArgs{From: w.from.Hex(), To: call.To, Data: call.Data, Value: "0x0"}
	if args.Data == "" {
		args.Data = "0x"
	}
	if call.Value != nil {
		args.Value = hexutil.EncodeBig(call.Value)
	}
	var hash common.Hash
	if err := w.client.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, err
	}
	logger.Infof("[Wallet] wallet submitted %s on chain %d", hash.Hex(), chainID)
	return hash, nil
}
