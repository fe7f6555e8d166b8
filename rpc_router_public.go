package main

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
)

// HandleChainID returns the chain id of the current endpoint as a 0x quantity.
func (r *RPCRouter) HandleChainID(c *rpc.Context) {
	chainID, err := r.Wallet.ChainID(c.Context)
	if err != nil {
		r.fail(c, err)
		return
	}

	c.Succeed(hexutil.EncodeBig(chainID))
}
