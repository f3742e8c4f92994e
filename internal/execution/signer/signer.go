package signer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer produces signatures for sweep and revoke transactions sent by the
// local wallet.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// SignChecked signs tx for chainID and verifies the recovered sender is the
// signer's address before the transaction is handed to an RPC node.
func SignChecked(s Signer, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id %v", chainID)
	}
	signed, err := s.SignTx(chainID, tx)
	if err != nil {
		return nil, err
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	if sender != s.Address() {
		return nil, fmt.Errorf("signed sender %s does not match wallet %s", sender.Hex(), s.Address().Hex())
	}
	return signed, nil
}
