package main

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
)

// NotifyChainChanged tells every connected client about the new chain.
func (r *RPCRouter) NotifyChainChanged(chainID *big.Int) {
	encoded := hexutil.EncodeBig(chainID)
	r.Node.Broadcast(rpc.ChainChangedEvent.String(), encoded)
	r.lg.Info("chain changed notification sent", "chainId", encoded, "connections", r.Node.ConnectionCount())
}
