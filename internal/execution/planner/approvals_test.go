package planner

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

const (
	testToken   = "0x00000000000000000000000000000000000000AA"
	testSpender = "0x00000000000000000000000000000000000000BB"
)

func TestBuildApproveCall(t *testing.T) {
	call, err := BuildApproveCall(testToken, testSpender, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("BuildApproveCall failed: %v", err)
	}
	if call.To != common.HexToAddress(testToken).Hex() {
		t.Fatalf("unexpected call target: %s", call.To)
	}
	if !strings.HasPrefix(call.Data, "0x095ea7b3") {
		t.Fatalf("expected approve selector, got %s", call.Data[:10])
	}
	if call.Value == nil || call.Value.Sign() != 0 {
		t.Fatalf("expected zero value, got %v", call.Value)
	}
}

func TestBuildApproveCallRejectsInvalidInput(t *testing.T) {
	if _, err := BuildApproveCall("not-an-address", testSpender, big.NewInt(1)); err == nil {
		t.Fatal("expected invalid token error")
	}
	if _, err := BuildApproveCall(testToken, "0x123", big.NewInt(1)); err == nil {
		t.Fatal("expected invalid spender error")
	}
	if _, err := BuildApproveCall(testToken, testSpender, big.NewInt(-1)); err == nil {
		t.Fatal("expected negative amount error")
	}
}

func TestBuildRevokeCallERC20ZeroesAllowance(t *testing.T) {
	call, err := BuildRevokeCall(model.RevokeItem{Type: model.ApprovalERC20, TokenAddress: testToken, SpenderAddress: testSpender})
	if err != nil {
		t.Fatalf("BuildRevokeCall failed: %v", err)
	}
	raw, err := hexutil.Decode(call.Data)
	if err != nil {
		t.Fatalf("decode calldata: %v", err)
	}
	args, err := plannerERC20ABI.Methods["approve"].Inputs.Unpack(raw[4:])
	if err != nil {
		t.Fatalf("unpack approve args: %v", err)
	}
	if args[1].(*big.Int).Sign() != 0 {
		t.Fatalf("expected zero allowance, got %v", args[1])
	}
}

func TestBuildRevokeCallNFTUsesSetApprovalForAll(t *testing.T) {
	call, err := BuildRevokeCall(model.RevokeItem{Type: model.ApprovalNFT, TokenAddress: testToken, SpenderAddress: testSpender})
	if err != nil {
		t.Fatalf("BuildRevokeCall failed: %v", err)
	}
	if !strings.HasPrefix(call.Data, "0xa22cb465") {
		t.Fatalf("expected setApprovalForAll selector, got %s", call.Data[:10])
	}
	raw, _ := hexutil.Decode(call.Data)
	args, err := plannerERC721ABI.Methods["setApprovalForAll"].Inputs.Unpack(raw[4:])
	if err != nil {
		t.Fatalf("unpack args: %v", err)
	}
	if args[1].(bool) {
		t.Fatal("expected approved=false")
	}
}

func TestBuildPartialRevokeCallRejectsNFT(t *testing.T) {
	_, err := BuildPartialRevokeCall(model.RevokeItem{Type: model.ApprovalNFT, TokenAddress: testToken, SpenderAddress: testSpender}, big.NewInt(5))
	if err == nil || err.Error() != "Partial revoke only supported for ERC20 tokens" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAllowanceRoundTrip(t *testing.T) {
	data, err := EncodeAllowanceCall(common.HexToAddress(testToken), common.HexToAddress(testSpender))
	if err != nil {
		t.Fatalf("EncodeAllowanceCall failed: %v", err)
	}
	if hexutil.Encode(data[:4]) != "0xdd62ed3e" {
		t.Fatalf("unexpected allowance selector: %x", data[:4])
	}
	packed, err := plannerERC20ABI.Methods["allowance"].Outputs.Pack(big.NewInt(42))
	if err != nil {
		t.Fatalf("pack output: %v", err)
	}
	got, err := DecodeAllowance(packed)
	if err != nil {
		t.Fatalf("DecodeAllowance failed: %v", err)
	}
	if got.Int64() != 42 {
		t.Fatalf("expected 42, got %s", got)
	}
}
