package planner

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/id"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"github.com/ggonzalez94/dustsweep/internal/registry"
)

// BuildApproveCall packs ERC20 approve(spender, amount) against token.
func BuildApproveCall(token, spender string, amount *big.Int) (model.Call, error) {
	if !id.IsEVMAddress(token) {
		return model.Call{}, clierr.New(clierr.CodeUsage, "approval requires ERC20 token address")
	}
	if !id.IsEVMAddress(spender) {
		return model.Call{}, clierr.New(clierr.CodeUsage, "approval spender must be a valid EVM address")
	}
	if amount == nil || amount.Sign() < 0 {
		return model.Call{}, clierr.New(clierr.CodeUsage, "approval amount must be a non-negative integer in base units")
	}
	data, err := plannerERC20ABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return model.Call{}, clierr.Wrap(clierr.CodeInternal, "pack approval calldata", err)
	}
	return newCall(token, data), nil
}

// BuildRevokeCall zeroes an approval: approve(spender, 0) for ERC20 and
// setApprovalForAll(operator, false) for NFT collections.
func BuildRevokeCall(item model.RevokeItem) (model.Call, error) {
	switch item.Type {
	case model.ApprovalERC20:
		return BuildApproveCall(item.TokenAddress, item.SpenderAddress, new(big.Int))
	case model.ApprovalNFT:
		if !id.IsEVMAddress(item.TokenAddress) {
			return model.Call{}, clierr.New(clierr.CodeUsage, "revoke requires a collection address")
		}
		if !id.IsEVMAddress(item.SpenderAddress) {
			return model.Call{}, clierr.New(clierr.CodeUsage, "revoke operator must be a valid EVM address")
		}
		data, err := plannerERC721ABI.Pack("setApprovalForAll", common.HexToAddress(item.SpenderAddress), false)
		if err != nil {
			return model.Call{}, clierr.Wrap(clierr.CodeInternal, "pack setApprovalForAll calldata", err)
		}
		return newCall(item.TokenAddress, data), nil
	default:
		return model.Call{}, clierr.New(clierr.CodeUsage, "unknown approval type: "+string(item.Type))
	}
}

// BuildPartialRevokeCall lowers an ERC20 allowance to newAllowance.
func BuildPartialRevokeCall(item model.RevokeItem, newAllowance *big.Int) (model.Call, error) {
	if item.Type != model.ApprovalERC20 {
		return model.Call{}, clierr.New(clierr.CodeUsage, "Partial revoke only supported for ERC20 tokens")
	}
	return BuildApproveCall(item.TokenAddress, item.SpenderAddress, newAllowance)
}

// EncodeAllowanceCall packs allowance(owner, spender).
func EncodeAllowanceCall(owner, spender common.Address) ([]byte, error) {
	return plannerERC20ABI.Pack("allowance", owner, spender)
}

// DecodeAllowance unpacks the uint256 returned by allowance.
func DecodeAllowance(raw []byte) (*big.Int, error) {
	out, err := plannerERC20ABI.Unpack("allowance", raw)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeInternal, "empty allowance result")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeInternal, "unexpected allowance result type")
	}
	return v, nil
}

func newCall(to string, data []byte) model.Call {
	return model.Call{
		To:    common.HexToAddress(to).Hex(),
		Data:  hexutil.Encode(data),
		Value: new(big.Int),
	}
}

var (
	plannerERC20ABI  = mustPlannerABI(registry.ERC20MinimalABI)
	plannerERC721ABI = mustPlannerABI(registry.ERC721ApprovalABI)
)

func mustPlannerABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
