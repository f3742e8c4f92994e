package execution

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

// Capabilities mirrors the wallet_getCapabilities response: chain id (hex or
// decimal string) to capability name to capability payload.
type Capabilities map[string]map[string]json.RawMessage

type CapabilityQuerier interface {
	GetCapabilities(ctx context.Context, owner common.Address) (Capabilities, error)
}

type BalanceReader interface {
	BalanceAt(ctx context.Context, chainID int64, owner common.Address) (*big.Int, error)
}

type ContractReader interface {
	CallContract(ctx context.Context, chainID int64, to common.Address, data []byte) ([]byte, error)
}

type TxSender interface {
	SendTransaction(ctx context.Context, chainID int64, call model.Call) (common.Hash, error)
}

type BatchSender interface {
	SendCalls(ctx context.Context, req SendCallsRequest) (json.RawMessage, error)
}

// ReceiptWaiter blocks until the transaction is mined and reports whether
// its receipt status is successful.
type ReceiptWaiter interface {
	WaitForReceipt(ctx context.Context, chainID int64, hash common.Hash) (bool, error)
}

type Wallet interface {
	CapabilityQuerier
	BalanceReader
	ContractReader
	TxSender
	BatchSender
	ReceiptWaiter
}

// SendCallsRequest is the wallet_sendCalls parameter object.
type SendCallsRequest struct {
	Version string     `json:"version"`
	ChainID string     `json:"chainId"`
	From    string     `json:"from"`
	Calls   []WireCall `json:"calls"`
}

type WireCall struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

func NewSendCallsRequest(chainID int64, from common.Address, calls []model.Call) SendCallsRequest {
	wire := make([]WireCall, 0, len(calls))
	for _, call := range calls {
		value := call.Value
		if value == nil {
			value = new(big.Int)
		}
		data := call.Data
		if data == "" {
			data = "0x"
		}
		wire = append(wire, WireCall{To: call.To, Data: data, Value: hexutil.EncodeBig(value)})
	}
	return SendCallsRequest{
		Version: "1.0",
		ChainID: hexutil.EncodeUint64(uint64(chainID)),
		From:    from.Hex(),
		Calls:   wire,
	}
}

// BatchReference extracts the call bundle id from a wallet_sendCalls result.
// Wallets answer with a bare string, an array whose first entry is the id, or
// an object carrying an id field.
func BatchReference(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return ""
		}
		return BatchReference(list[0])
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return strings.Trim(string(raw), `"`)
}
