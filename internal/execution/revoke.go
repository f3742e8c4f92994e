package execution

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/execution/planner"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

type ProgressFunc func(current, total int)

var (
	errNoWallet       = clierr.New(clierr.CodeSigner, "No wallet client available")
	errRevokeReverted = clierr.New(clierr.CodeExecutionFailed, "Transaction failed")
)

// ExecuteBatchRevoke zeroes every approval in one wallet_sendCalls bundle and
// falls back to one transaction per item when the wallet cannot batch.
func (o *Orchestrator) ExecuteBatchRevoke(ctx context.Context, items []model.RevokeItem, owner string, chainID int64, onProgress ProgressFunc) model.RevokeBatchResult {
	var (
		calls []model.Call
		ids   []string
		errs  []string
	)
	for _, item := range items {
		call, err := planner.BuildRevokeCall(item)
		if err != nil {
			errs = append(errs, item.TokenSymbol+": "+err.Error())
			continue
		}
		calls = append(calls, call)
		ids = append(ids, item.ID)
	}
	if len(calls) == 0 {
		if len(errs) == 0 {
			errs = []string{"No valid revoke transactions to execute"}
		}
		return model.RevokeBatchResult{TxHashes: []string{}, FailedCount: len(items), Errors: errs}
	}
	if o.wallet == nil {
		return model.RevokeBatchResult{TxHashes: []string{}, FailedCount: len(items), Errors: []string{"No wallet client available"}}
	}

	raw, err := o.wallet.SendCalls(ctx, NewSendCallsRequest(chainID, common.HexToAddress(owner), calls))
	if err != nil {
		if IsUserRejection(err) {
			o.record(RunStep{Type: StepTypeBatch, Status: StepStatusFailed, Detail: MsgUserRejected})
			return model.RevokeBatchResult{TxHashes: []string{}, FailedCount: len(items), Errors: []string{MsgUserRejected}}
		}
		logger.Warnf("[Revoke] batch revoke failed, falling back to sequential revokes: %v", err)
		o.record(RunStep{Type: StepTypeBatch, Status: StepStatusFailed, Detail: err.Error()})
		return o.ExecuteLegacyRevoke(ctx, items, owner, chainID, onProgress)
	}

	ref := BatchReference(raw)
	o.record(RunStep{Type: StepTypeBatch, Status: StepStatusSubmitted, TxHash: ref})
	if strings.HasPrefix(ref, "0x") && len(ref) == 66 {
		ok, err := o.wallet.WaitForReceipt(ctx, chainID, common.HexToHash(ref))
		if err != nil {
			logger.Infof("[Revoke] could not wait for batch receipt: %v", err)
		} else if ok {
			o.record(RunStep{Type: StepTypeBatch, Status: StepStatusConfirmed, TxHash: ref})
		}
	}
	return model.RevokeBatchResult{
		Success:      true,
		TxHashes:     []string{ref},
		RevokedCount: len(calls),
		FailedCount:  len(errs),
		RevokedIDs:   ids,
		Errors:       errs,
	}
}

// ExecuteLegacyRevoke revokes items one at a time. A user rejection stops the
// queue; other failures are recorded and the queue continues.
func (o *Orchestrator) ExecuteLegacyRevoke(ctx context.Context, items []model.RevokeItem, owner string, chainID int64, onProgress ProgressFunc) model.RevokeBatchResult {
	hashes := []string{}
	var errs, ids []string
	revoked := 0
	for i, item := range items {
		if i > 0 {
			if err := o.sleep(ctx, o.delays.RevokeItem); err != nil {
				errs = append(errs, err.Error())
				break
			}
		}
		if onProgress != nil {
			onProgress(i+1, len(items))
		}
		call, err := planner.BuildRevokeCall(item)
		if err == nil {
			err = o.revokeOne(ctx, chainID, item, call, &hashes)
		}
		if err != nil {
			if IsUserRejection(err) {
				logger.Warnf("[Revoke] %s rejected by user, stopping", item.TokenSymbol)
				return model.RevokeBatchResult{
					Success:      revoked > 0,
					TxHashes:     hashes,
					RevokedCount: revoked,
					FailedCount:  len(items) - revoked,
					RevokedIDs:   ids,
					Errors:       []string{MsgUserRejected},
				}
			}
			errs = append(errs, item.TokenSymbol+": "+err.Error())
			continue
		}
		revoked++
		ids = append(ids, item.ID)
	}
	return model.RevokeBatchResult{
		Success:      revoked > 0,
		TxHashes:     hashes,
		RevokedCount: revoked,
		FailedCount:  len(errs),
		RevokedIDs:   ids,
		Errors:       errs,
	}
}

func (o *Orchestrator) revokeOne(ctx context.Context, chainID int64, item model.RevokeItem, call model.Call, hashes *[]string) error {
	if o.wallet == nil {
		return errNoWallet
	}
	hash, err := o.wallet.SendTransaction(ctx, chainID, call)
	if err != nil {
		o.record(RunStep{Type: StepTypeRevoke, Status: StepStatusFailed, Token: item.TokenSymbol, Target: item.SpenderAddress, Detail: err.Error()})
		return err
	}
	*hashes = append(*hashes, hash.Hex())
	ok, err := o.wallet.WaitForReceipt(ctx, chainID, hash)
	if err != nil {
		o.record(RunStep{Type: StepTypeRevoke, Status: StepStatusFailed, Token: item.TokenSymbol, TxHash: hash.Hex(), Detail: err.Error()})
		return err
	}
	if !ok {
		o.record(RunStep{Type: StepTypeRevoke, Status: StepStatusFailed, Token: item.TokenSymbol, TxHash: hash.Hex(), Detail: "Transaction failed"})
		return errRevokeReverted
	}
	o.record(RunStep{Type: StepTypeRevoke, Status: StepStatusConfirmed, Token: item.TokenSymbol, Target: item.SpenderAddress, TxHash: hash.Hex()})
	return nil
}

// ExecuteSingleRevoke zeroes one approval outside the bulk flow.
func (o *Orchestrator) ExecuteSingleRevoke(ctx context.Context, item model.RevokeItem, owner string, chainID int64) model.SingleRevokeResult {
	call, err := planner.BuildRevokeCall(item)
	if err != nil {
		return model.SingleRevokeResult{Error: err.Error()}
	}
	logger.Debugf("[Revoke] single revoke %s for owner %s", item.TokenSymbol, owner)
	return o.sendSingle(ctx, chainID, item, call)
}

// ExecutePartialRevoke lowers an ERC20 allowance to newAllowance.
func (o *Orchestrator) ExecutePartialRevoke(ctx context.Context, item model.RevokeItem, newAllowance *big.Int, chainID int64) model.SingleRevokeResult {
	call, err := planner.BuildPartialRevokeCall(item, newAllowance)
	if err != nil {
		return model.SingleRevokeResult{Error: err.Error()}
	}
	return o.sendSingle(ctx, chainID, item, call)
}

func (o *Orchestrator) sendSingle(ctx context.Context, chainID int64, item model.RevokeItem, call model.Call) model.SingleRevokeResult {
	if o.wallet == nil {
		return model.SingleRevokeResult{Error: errNoWallet.Error()}
	}
	hash, err := o.wallet.SendTransaction(ctx, chainID, call)
	if err != nil {
		o.record(RunStep{Type: StepTypeRevoke, Status: StepStatusFailed, Token: item.TokenSymbol, Detail: err.Error()})
		return model.SingleRevokeResult{Error: err.Error()}
	}
	ok, err := o.wallet.WaitForReceipt(ctx, chainID, hash)
	if err != nil {
		o.record(RunStep{Type: StepTypeRevoke, Status: StepStatusFailed, Token: item.TokenSymbol, TxHash: hash.Hex(), Detail: err.Error()})
		return model.SingleRevokeResult{Error: err.Error()}
	}
	if !ok {
		o.record(RunStep{Type: StepTypeRevoke, Status: StepStatusFailed, Token: item.TokenSymbol, TxHash: hash.Hex(), Detail: "Transaction failed on chain"})
		return model.SingleRevokeResult{Error: "Transaction failed on chain"}
	}
	o.record(RunStep{Type: StepTypeRevoke, Status: StepStatusConfirmed, Token: item.TokenSymbol, TxHash: hash.Hex()})
	return model.SingleRevokeResult{Success: true, TxHash: hash.Hex()}
}
