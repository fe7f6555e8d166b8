package main

import (
	"bytes"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
	"github.com/erc7824/nitrolite/walletnode/pkg/wallet"
)

func (r *RPCRouter) HandleAccounts(c *rpc.Context) {
	r.handleAccounts(c, wallet.GetAccounts{})
}

// HandleRequestAccounts behaves like eth_accounts. The node has a single key
// and no approval step.
func (r *RPCRouter) HandleRequestAccounts(c *rpc.Context) {
	r.handleAccounts(c, wallet.RequestAccounts{})
}

func (r *RPCRouter) handleAccounts(c *rpc.Context, req wallet.Request) {
	res, ok := r.dispatch(c, req)
	if !ok {
		return
	}
	c.Succeed(res.Accounts)
}

// HandleGetEncryptionPublicKey expects [from].
func (r *RPCRouter) HandleGetEncryptionPublicKey(c *rpc.Context) {
	from, err := c.Request.Params.StringAt(0)
	if err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	r.dispatchValue(c, wallet.EncryptionPublicKey{From: from})
}

// HandlePersonalSign expects [data, from].
func (r *RPCRouter) HandlePersonalSign(c *rpc.Context) {
	data, from, err := stringPair(c.Request.Params)
	if err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	r.dispatchValue(c, wallet.PersonalMessage{From: from, Data: data})
}

// HandleEthSign expects [from, digest].
func (r *RPCRouter) HandleEthSign(c *rpc.Context) {
	from, digest, err := stringPair(c.Request.Params)
	if err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	r.dispatchValue(c, wallet.EthSignMessage{From: from, Data: digest})
}

// HandleSignTransaction expects [tx] and returns the signed raw transaction.
func (r *RPCRouter) HandleSignTransaction(c *rpc.Context) {
	var tx wallet.TxParams
	if err := c.Request.Params.Translate(0, &tx); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	r.dispatchValue(c, wallet.SignTransaction{Tx: tx})
}

// HandleSendTransaction expects [tx] and returns the transaction hash.
func (r *RPCRouter) HandleSendTransaction(c *rpc.Context) {
	var tx wallet.TxParams
	if err := c.Request.Params.Translate(0, &tx); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	res, ok := r.dispatch(c, wallet.Transaction{Tx: tx})
	if !ok {
		return
	}
	r.recordTx(c, res.Value)
	c.Succeed(res.Value)
}

// HandleSignTypedDataV4 expects [from, typedData]. The document may be sent
// as a JSON string or as an object.
func (r *RPCRouter) HandleSignTypedDataV4(c *rpc.Context) {
	from, err := c.Request.Params.StringAt(0)
	if err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	var raw json.RawMessage
	if err := c.Request.Params.Translate(1, &raw); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	document := string(raw)
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
		if err := json.Unmarshal(raw, &document); err != nil {
			c.Fail(rpc.Errorf(rpc.CodeInvalidParams, "invalid typed data"), "")
			return
		}
	}

	r.dispatchValue(c, wallet.TypedMessageV4{From: from, Data: document})
}

// HandleDecrypt expects [ciphertext, from].
func (r *RPCRouter) HandleDecrypt(c *rpc.Context) {
	ciphertext, from, err := stringPair(c.Request.Params)
	if err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	r.dispatchValue(c, wallet.DecryptMessage{From: from, Data: ciphertext})
}

func (r *RPCRouter) dispatchValue(c *rpc.Context, req wallet.Request) {
	res, ok := r.dispatch(c, req)
	if !ok {
		return
	}
	c.Succeed(res.Value)
}

func (r *RPCRouter) HandleGetBalance(c *rpc.Context) {
	balance, err := r.Wallet.Balance(c.Context)
	if err != nil {
		r.fail(c, err)
		return
	}

	c.Succeed(rpc.GetBalanceResponse{
		Address: r.Wallet.Address().Hex(),
		Wei:     balance.String(),
		Ether:   weiToEther(balance),
	})
}

func (r *RPCRouter) HandleGetAccount(c *rpc.Context) {
	address := r.Wallet.Address().Hex()
	publicKey, err := r.Wallet.Account().PublicKey(address)
	if err != nil {
		r.fail(c, err)
		return
	}

	c.Succeed(rpc.GetAccountResponse{
		Address:   address,
		PublicKey: publicKey,
	})
}

// HandleSetProvider points the wallet at a new endpoint, given either by
// URL or by network name. A network endpoint must report the network's
// chain id. Clients are told when the chain changes.
func (r *RPCRouter) HandleSetProvider(c *rpc.Context) {
	ctx := c.Context
	logger := log.FromContext(ctx)

	var params rpc.SetProviderRequest
	if err := parseParams(c.Request.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	if (params.URL == "") == (params.Network == "") {
		c.Fail(rpc.Errorf(rpc.CodeInvalidParams, "exactly one of url or network is required"), "")
		return
	}

	endpoint := params.URL
	var checks []wallet.EndpointCheck
	if params.Network != "" {
		network, ok := r.Config.Networks().Lookup(params.Network)
		if !ok {
			c.Fail(rpc.Errorf(rpc.CodeInvalidParams, "unknown network %q", params.Network), "")
			return
		}
		if network.RPCURL == "" {
			c.Fail(rpc.Errorf(rpc.CodeInvalidParams, "network %q has no rpc url", params.Network), "")
			return
		}
		endpoint = network.RPCURL
		checks = append(checks, wallet.ExpectChainID(network.ID))
	}

	// An offline wallet has no previous chain id.
	previous, _ := r.Wallet.ChainID(ctx)

	chainID, err := r.Wallet.SetEndpoint(ctx, endpoint, checks...)
	if err != nil {
		logger.Warn("endpoint switch failed", "endpoint", wallet.RedactURL(endpoint), "error", err)
		r.fail(c, err)
		return
	}
	r.Metrics.EndpointSwaps.Inc()
	callRecordFromContext(ctx).chainID = chainID.String()

	encoded := hexutil.EncodeBig(chainID)
	if previous == nil || previous.Cmp(chainID) != 0 {
		r.NotifyChainChanged(chainID)
	}

	c.Succeed(rpc.SetProviderResponse{
		ChainID:  encoded,
		Endpoint: wallet.RedactURL(endpoint),
	})
}

func (r *RPCRouter) HandleSendToken(c *rpc.Context) {
	var transfer wallet.TokenTransfer
	if err := c.Request.Params.Translate(0, &transfer); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	r.noteCall(c, "TokenTransfer", transfer.From)

	hash, err := r.Wallet.SendToken(c.Context, transfer)
	if err != nil {
		r.fail(c, err)
		return
	}
	r.recordTx(c, hash.Hex())
	c.Succeed(hash.Hex())
}

func (r *RPCRouter) HandleEstimateTokenGas(c *rpc.Context) {
	var transfer wallet.TokenTransfer
	if err := c.Request.Params.Translate(0, &transfer); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	r.noteCall(c, "TokenTransfer", transfer.From)

	gas, err := r.Wallet.EstimateTokenGas(c.Context, transfer)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.Succeed(hexutil.EncodeUint64(gas))
}

func (r *RPCRouter) HandleSendNFT(c *rpc.Context) {
	var transfer wallet.NFTTransfer
	if err := c.Request.Params.Translate(0, &transfer); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	r.noteCall(c, "NFTTransfer", transfer.From)

	hash, err := r.Wallet.SendNFT(c.Context, transfer)
	if err != nil {
		r.fail(c, err)
		return
	}
	r.recordTx(c, hash.Hex())
	c.Succeed(hash.Hex())
}

func (r *RPCRouter) HandleEstimateNFTGas(c *rpc.Context) {
	var transfer wallet.NFTTransfer
	if err := c.Request.Params.Translate(0, &transfer); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}
	r.noteCall(c, "NFTTransfer", transfer.From)

	gas, err := r.Wallet.EstimateNFTGas(c.Context, transfer)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.Succeed(hexutil.EncodeUint64(gas))
}

// HandleGetHistory lists journal rows, newest first by default.
func (r *RPCRouter) HandleGetHistory(c *rpc.Context) {
	ctx := c.Context
	logger := log.FromContext(ctx)

	var params rpc.GetHistoryRequest
	if err := parseParams(c.Request.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	filter := HistoryFilter{Method: params.Method, Outcome: params.Outcome}
	records, err := r.Store.List(ctx, filter, &params.ListOptions)
	if err != nil {
		logger.Error("failed to retrieve RPC history", "error", err)
		c.Fail(nil, "failed to retrieve RPC history")
		return
	}

	total, err := r.Store.Count(ctx, filter)
	if err != nil {
		logger.Error("failed to count RPC history", "error", err)
		c.Fail(nil, "failed to retrieve RPC history")
		return
	}

	entries := make([]rpc.HistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, record.ToHistoryEntry())
	}
	c.Succeed(rpc.GetHistoryResponse{Entries: entries, Total: total})
}

// noteCall records the kind and sender of a call that does not go through dispatch.
func (r *RPCRouter) noteCall(c *rpc.Context, kind, from string) {
	rec := callRecordFromContext(c.Context)
	rec.kind = kind
	rec.from = from
}

// recordTx records a broadcast transaction in the journal.
func (r *RPCRouter) recordTx(c *rpc.Context, hash string) {
	rec := callRecordFromContext(c.Context)
	rec.txHash = hash
	if chainID, err := r.Wallet.ChainID(c.Context); err == nil {
		rec.chainID = chainID.String()
	}
}

func stringPair(params rpc.Params) (string, string, error) {
	first, err := params.StringAt(0)
	if err != nil {
		return "", "", err
	}
	second, err := params.StringAt(1)
	if err != nil {
		return "", "", err
	}
	return first, second, nil
}
