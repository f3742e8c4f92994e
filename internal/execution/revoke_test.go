package execution

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/ggonzalez94/dustsweep/internal/model"
)

func revokeItem(symbol, token string, kind model.ApprovalType) model.RevokeItem {
	return model.RevokeItem{
		ID:             symbol + "-" + testRouter,
		Type:           kind,
		ChainID:        testChain,
		TokenAddress:   token,
		TokenSymbol:    symbol,
		SpenderAddress: testRouter,
		IsUnlimited:    true,
	}
}

var (
	revokeA = revokeItem("AAA", "0x000000000000000000000000000000000000A001", model.ApprovalERC20)
	revokeB = revokeItem("BBB", "0x000000000000000000000000000000000000B002", model.ApprovalERC20)
	revokeN = revokeItem("PUNK", "0x000000000000000000000000000000000000D004", model.ApprovalNFT)
)

func TestExecuteBatchRevokeBundlesEveryItem(t *testing.T) {
	w := newFakeWallet()
	w.batchResult = json.RawMessage(`"0x2222222222222222222222222222222222222222222222222222222222222222"`)
	o := newTestOrchestrator(w, nil)

	result := o.ExecuteBatchRevoke(context.Background(), []model.RevokeItem{revokeA, revokeN}, testOwner, testChain, nil)

	if !result.Success || result.RevokedCount != 2 || result.FailedCount != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !reflect.DeepEqual(result.RevokedIDs, []string{revokeA.ID, revokeN.ID}) {
		t.Fatalf("unexpected revoked ids %v", result.RevokedIDs)
	}
	if len(w.batches) != 1 || len(w.batches[0].Calls) != 2 {
		t.Fatalf("expected one bundle with two calls, got %+v", w.batches)
	}
	calls := w.batches[0].Calls
	if !strings.HasPrefix(calls[0].Data, "0x095ea7b3") {
		t.Fatalf("expected approve(spender, 0) for ERC20, got %s", calls[0].Data)
	}
	if !strings.HasPrefix(calls[1].Data, "0xa22cb465") {
		t.Fatalf("expected setApprovalForAll for NFT, got %s", calls[1].Data)
	}
	if len(w.waited) != 1 {
		t.Fatalf("expected batch receipt wait, got %d", len(w.waited))
	}
}

func TestExecuteBatchRevokeCountsUnbuildableItems(t *testing.T) {
	w := newFakeWallet()
	w.batchResult = json.RawMessage(`{"id":"bundle-1"}`)
	bad := revokeItem("BAD", "not-an-address", model.ApprovalNFT)

	result := newTestOrchestrator(w, nil).ExecuteBatchRevoke(context.Background(), []model.RevokeItem{revokeA, bad}, testOwner, testChain, nil)

	if !result.Success || result.RevokedCount != 1 || result.FailedCount != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "BAD: ") {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
}

func TestExecuteBatchRevokeFallsBackToSequential(t *testing.T) {
	w := newFakeWallet()
	w.batchErr = errors.New("unsupported method")
	var progress [][2]int

	result := newTestOrchestrator(w, nil).ExecuteBatchRevoke(context.Background(), []model.RevokeItem{revokeA, revokeB}, testOwner, testChain, func(current, total int) {
		progress = append(progress, [2]int{current, total})
	})

	if !result.Success || result.RevokedCount != 2 || len(result.TxHashes) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !reflect.DeepEqual(progress, [][2]int{{1, 2}, {2, 2}}) {
		t.Fatalf("unexpected progress: %v", progress)
	}
}

func TestExecuteBatchRevokeRejectionStops(t *testing.T) {
	w := newFakeWallet()
	w.batchErr = errUserRejected

	result := newTestOrchestrator(w, nil).ExecuteBatchRevoke(context.Background(), []model.RevokeItem{revokeA, revokeB}, testOwner, testChain, nil)

	if result.Success || result.FailedCount != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !reflect.DeepEqual(result.Errors, []string{"Transaction rejected by user"}) {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(w.sent) != 0 {
		t.Fatalf("expected no sequential fallback, got %d sends", len(w.sent))
	}
}

func TestExecuteLegacyRevokeStopsOnRejection(t *testing.T) {
	w := newFakeWallet()
	w.sendErrs[1] = errUserRejected
	third := revokeItem("CCC", "0x000000000000000000000000000000000000C003", model.ApprovalERC20)
	delays := &recordedDelays{}

	result := NewOrchestrator(w, nil, WithSleep(delays.sleep)).ExecuteLegacyRevoke(context.Background(), []model.RevokeItem{revokeA, revokeB, third}, testOwner, testChain, nil)

	if !result.Success || result.RevokedCount != 1 || result.FailedCount != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(w.sent) != 2 {
		t.Fatalf("expected the third item to be skipped, got %d sends", len(w.sent))
	}
	if len(delays.delays) != 1 || delays.delays[0] != DefaultDelays().RevokeItem {
		t.Fatalf("unexpected delays: %v", delays.delays)
	}
}

func TestExecuteLegacyRevokeContinuesAfterRevert(t *testing.T) {
	w := newFakeWallet()
	w.reverted[txHash(0)] = true

	result := newTestOrchestrator(w, nil).ExecuteLegacyRevoke(context.Background(), []model.RevokeItem{revokeA, revokeB}, testOwner, testChain, nil)

	if !result.Success || result.RevokedCount != 1 || result.FailedCount != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !reflect.DeepEqual(result.Errors, []string{"AAA: Transaction failed"}) {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if !reflect.DeepEqual(result.RevokedIDs, []string{revokeB.ID}) {
		t.Fatalf("expected only BBB to be revoked, got %v", result.RevokedIDs)
	}
	if len(result.TxHashes) != 2 {
		t.Fatalf("expected both hashes, got %v", result.TxHashes)
	}
}

func TestExecuteSingleRevoke(t *testing.T) {
	w := newFakeWallet()
	o := newTestOrchestrator(w, nil)

	result := o.ExecuteSingleRevoke(context.Background(), revokeA, testOwner, testChain)
	if !result.Success || result.TxHash != txHash(0).Hex() {
		t.Fatalf("unexpected result: %+v", result)
	}

	w.reverted[txHash(1)] = true
	result = o.ExecuteSingleRevoke(context.Background(), revokeB, testOwner, testChain)
	if result.Success || result.Error != "Transaction failed on chain" {
		t.Fatalf("expected on-chain failure, got %+v", result)
	}

	w.sendErrs[2] = errUserRejected
	result = o.ExecuteSingleRevoke(context.Background(), revokeN, testOwner, testChain)
	if result.Success || result.Error == "" {
		t.Fatalf("expected rejection error, got %+v", result)
	}
}

func TestExecutePartialRevoke(t *testing.T) {
	w := newFakeWallet()
	o := newTestOrchestrator(w, nil)

	result := o.ExecutePartialRevoke(context.Background(), revokeA, big.NewInt(1000), testChain)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	want := "0x095ea7b3" + strings.Repeat("0", 24) + strings.ToLower(testRouter[2:]) + strings.Repeat("0", 61) + "3e8"
	if w.sent[0].Data != want {
		t.Fatalf("unexpected calldata:\n got %s\nwant %s", w.sent[0].Data, want)
	}

	result = o.ExecutePartialRevoke(context.Background(), revokeN, big.NewInt(1), testChain)
	if result.Success || result.Error != "Partial revoke only supported for ERC20 tokens" {
		t.Fatalf("expected ERC20-only error, got %+v", result)
	}
	if len(w.sent) != 1 {
		t.Fatalf("expected no transaction for NFT partial revoke")
	}
}

func TestRevokeWithoutWallet(t *testing.T) {
	o := NewOrchestrator(nil, nil, WithSleep(noSleep))

	single := o.ExecuteSingleRevoke(context.Background(), revokeA, testOwner, testChain)
	if single.Success || single.Error != "No wallet client available" {
		t.Fatalf("unexpected single result: %+v", single)
	}
	batch := o.ExecuteBatchRevoke(context.Background(), []model.RevokeItem{revokeA}, testOwner, testChain, nil)
	if batch.Success || batch.FailedCount != 1 {
		t.Fatalf("unexpected batch result: %+v", batch)
	}
}
