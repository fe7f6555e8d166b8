package main

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/walletnode/pkg/ecies/eciestest"
	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
	"github.com/erc7824/nitrolite/walletnode/pkg/sign"
	"github.com/erc7824/nitrolite/walletnode/pkg/wallet"
)

const greetingTypedData = `{
	"types": {
		"EIP712Domain": [{"name": "name", "type": "string"}, {"name": "chainId", "type": "uint256"}],
		"Greeting": [{"name": "text", "type": "string"}]
	},
	"primaryType": "Greeting",
	"domain": {"name": "walletnode", "chainId": 1},
	"message": {"text": "hi"}
}`

func TestRPCRouterAccounts(t *testing.T) {
	tr := setupTestRPCRouter(t, testRouterOptions{})
	client := tr.connect(t, "")
	ctx := testContext(t)

	select {
	case accounts := <-tr.accountsChanged:
		assert.Equal(t, []string{testAddress}, accounts)
	case <-time.After(2 * time.Second):
		t.Fatal("expected accountsChanged on connect")
	}

	accounts, err := client.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testAddress}, accounts)

	requested, err := client.RequestAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, accounts, requested)

	records := tr.journal(t)
	require.Len(t, records, 2)
	assert.Equal(t, string(wallet.OpGetAccounts), records[0].Kind)
	assert.Equal(t, string(wallet.OpRequestAccounts), records[1].Kind)
	assert.Equal(t, OutcomeSuccess, records[0].Outcome)
	assert.Empty(t, records[0].Sender)
}

func TestRPCRouterSigning(t *testing.T) {
	tr := setupTestRPCRouter(t, testRouterOptions{})
	client := tr.connect(t, "")
	ctx := testContext(t)

	t.Run("personal_sign", func(t *testing.T) {
		sig, err := client.PersonalSign(ctx, "Some data", testAddress)
		require.NoError(t, err)
		assert.Equal(t, someDataSig, sig)
	})

	t.Run("eth_sign", func(t *testing.T) {
		digest := "0x1da44b586eb0729ff70a73c326926f6ed5a25f5b056e7f47fbc6e58d86871655"
		sig, err := client.EthSign(ctx, testAddress, digest)
		require.NoError(t, err)
		assert.Equal(t, someDataSig, sig)
	})

	t.Run("eth_signTypedData_v4 as string", func(t *testing.T) {
		sig, err := client.SignTypedDataV4(ctx, testAddress, greetingTypedData)
		require.NoError(t, err)

		hash, err := sign.TypedDataHash(greetingTypedData)
		require.NoError(t, err)
		addr, err := sign.RecoverAddressFromHash(hash, hexutil.MustDecode(sig))
		require.NoError(t, err)
		assert.Equal(t, testAddress, addr.String())
	})

	t.Run("eth_signTypedData_v4 as object", func(t *testing.T) {
		expected, err := client.SignTypedDataV4(ctx, testAddress, greetingTypedData)
		require.NoError(t, err)

		var sig string
		err = client.Call(ctx, rpc.SignTypedDataV4Method, &sig, testAddress, jsonObject(t, greetingTypedData))
		require.NoError(t, err)
		assert.Equal(t, expected, sig)
	})

	t.Run("Unknown address", func(t *testing.T) {
		_, err := client.PersonalSign(ctx, "Some data", otherAddr)
		rpcErr := requireRPCError(t, err, rpc.CodeUnauthorized)
		assert.NotContains(t, rpcErr.Message, testPrivKey[2:])
	})

	t.Run("Missing param", func(t *testing.T) {
		var sig string
		err := client.Call(ctx, rpc.PersonalSignMethod, &sig, "Some data")
		requireRPCError(t, err, rpc.CodeInvalidParams)
	})

	t.Run("Malformed typed data", func(t *testing.T) {
		_, err := client.SignTypedDataV4(ctx, testAddress, "{broken")
		requireRPCError(t, err, rpc.CodeInvalidParams)
	})
}

func TestRPCRouterJournalStoresNamesOnly(t *testing.T) {
	tr := setupTestRPCRouter(t, testRouterOptions{})
	client := tr.connect(t, "")
	ctx := testContext(t)

	_, err := client.PersonalSign(ctx, "top secret message", testAddress)
	require.NoError(t, err)
	_, err = client.PersonalSign(ctx, "Some data", otherAddr)
	require.Error(t, err)

	records := tr.journal(t)
	require.Len(t, records, 2)

	ok := records[0]
	assert.Equal(t, rpc.PersonalSignMethod.String(), ok.Method)
	assert.Equal(t, string(wallet.OpPersonalMessage), ok.Kind)
	assert.Equal(t, testAddress, ok.Sender)
	assert.Equal(t, []string{"data", "from"}, []string(ok.ParamNames))
	assert.Equal(t, OutcomeSuccess, ok.Outcome)
	assert.Empty(t, ok.ErrorKind)
	assert.NotContains(t, string(ok.Meta), "top secret")

	failed := records[1]
	assert.Equal(t, OutcomeFailure, failed.Outcome)
	assert.Equal(t, wallet.KindNoWalletForAddress.String(), failed.ErrorKind)
	assert.Equal(t, otherAddr, failed.Sender)
}

func TestRPCRouterTransactions(t *testing.T) {
	to := "0x3535353535353535353535353535353535353535"

	t.Run("Sign without chain id", func(t *testing.T) {
		tr := setupTestRPCRouter(t, testRouterOptions{})
		client := tr.connect(t, "")

		_, err := client.SignTransaction(testContext(t), wallet.TxParams{From: testAddress, To: to})
		requireRPCError(t, err, rpc.CodeInvalidParams)

		records := tr.journal(t)
		require.Len(t, records, 1)
		assert.Equal(t, wallet.KindInvalidPayload.String(), records[0].ErrorKind)
	})

	t.Run("Sign with chain id", func(t *testing.T) {
		tr := setupTestRPCRouter(t, testRouterOptions{})
		client := tr.connect(t, "")

		raw, err := client.SignTransaction(testContext(t), wallet.TxParams{
			From:     testAddress,
			To:       to,
			Value:    (*hexutil.Big)(big.NewInt(1000)),
			GasPrice: (*hexutil.Big)(big.NewInt(1)),
			ChainID:  (*hexutil.Big)(big.NewInt(5)),
		})
		require.NoError(t, err)

		var tx types.Transaction
		require.NoError(t, tx.UnmarshalBinary(hexutil.MustDecode(raw)))
		assert.Equal(t, int64(5), tx.ChainId().Int64())
		sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), &tx)
		require.NoError(t, err)
		assert.Equal(t, testAddress, sender.Hex())
		assert.Empty(t, tr.backends[mainnetURL].sentTxs())
	})

	t.Run("Send", func(t *testing.T) {
		tr := setupTestRPCRouter(t, testRouterOptions{})
		client := tr.connect(t, "")

		hash, err := client.SendTransaction(testContext(t), wallet.TxParams{
			From:  testAddress,
			To:    to,
			Value: (*hexutil.Big)(big.NewInt(1000)),
		})
		require.NoError(t, err)

		sent := tr.backends[mainnetURL].sentTxs()
		require.Len(t, sent, 1)
		assert.Equal(t, sent[0].Hash().Hex(), hash)
		assert.Equal(t, int64(1), sent[0].ChainId().Int64())

		records := tr.journal(t)
		require.Len(t, records, 1)
		assert.Equal(t, string(wallet.OpTransaction), records[0].Kind)
		assert.Equal(t, hash, records[0].TxHash)
		assert.Equal(t, "1", records[0].ChainID)
		assert.Equal(t, []string{"from", "to", "value"}, []string(records[0].ParamNames))
	})

	t.Run("Node error is surfaced", func(t *testing.T) {
		tr := setupTestRPCRouter(t, testRouterOptions{})
		client := tr.connect(t, "")
		tr.backends[mainnetURL].setErr(&nodeError{msg: "insufficient funds for gas * price + value", data: "0xdead"})

		_, err := client.SendTransaction(testContext(t), wallet.TxParams{From: testAddress, To: to})
		rpcErr := requireRPCError(t, err, rpc.CodeInternalError)
		assert.Contains(t, rpcErr.Message, "insufficient funds")
		assert.Equal(t, "0xdead", rpcErr.Data)

		records := tr.journal(t)
		require.Len(t, records, 1)
		assert.Equal(t, wallet.KindNetworkError.String(), records[0].ErrorKind)
	})
}

func TestRPCRouterDecrypt(t *testing.T) {
	tr := setupTestRPCRouter(t, testRouterOptions{})
	client := tr.connect(t, "")
	ctx := testContext(t)

	publicKey, err := client.GetEncryptionPublicKey(ctx, testAddress)
	require.NoError(t, err)
	assert.Equal(t, testPubKey, publicKey)

	t.Run("Round trip", func(t *testing.T) {
		msg, err := eciestest.Encrypt(hexutil.MustDecode(publicKey), []byte("hello wallet"))
		require.NoError(t, err)

		plain, err := client.Decrypt(ctx, msg.String(), testAddress)
		require.NoError(t, err)
		assert.Equal(t, "hello wallet", plain)

		plain, err = client.Decrypt(ctx, msg.JSON(), testAddress)
		require.NoError(t, err)
		assert.Equal(t, "hello wallet", plain)
	})

	t.Run("Wrong recipient", func(t *testing.T) {
		key, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		msg, err := eciestest.Encrypt(ethcrypto.FromECDSAPub(&key.PublicKey), []byte("not for you"))
		require.NoError(t, err)

		_, err = client.Decrypt(ctx, msg.String(), testAddress)
		rpcErr := requireRPCError(t, err, rpc.CodeServerError)
		assert.Equal(t, "decryption failed", rpcErr.Message)
	})

	t.Run("Malformed ciphertext", func(t *testing.T) {
		_, err := client.Decrypt(ctx, "00", testAddress)
		requireRPCError(t, err, rpc.CodeInvalidParams)
	})
}

func TestRPCRouterWalletInfo(t *testing.T) {
	tr := setupTestRPCRouter(t, testRouterOptions{})
	tr.backends[mainnetURL].balance, _ = new(big.Int).SetString("1500000000000000000", 10)
	client := tr.connect(t, "")
	ctx := testContext(t)

	balance, err := client.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, balance.Address)
	assert.Equal(t, "1500000000000000000", balance.Wei)
	assert.Equal(t, "1.5", balance.Ether.String())

	account, err := client.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, account.Address)
	assert.Equal(t, testPubKey, account.PublicKey)

	// Informational methods are not journaled.
	assert.Empty(t, tr.journal(t))
}

func TestRPCRouterSetProvider(t *testing.T) {
	networks := Networks{
		"sepolia": {Name: "sepolia", ID: 11155111, RPCURL: sepoliaURL, NativeSymbol: "ETH"},
		"broken":  {Name: "broken", ID: 5, RPCURL: sepoliaURL, NativeSymbol: "ETH"},
		"nourl":   {Name: "nourl", ID: 7, NativeSymbol: "ETH"},
	}

	t.Run("By URL", func(t *testing.T) {
		tr := setupTestRPCRouter(t, testRouterOptions{networks: networks})
		tr.backends[sepoliaURL+"/v3/secret-key"] = tr.backends[sepoliaURL]
		client := tr.connect(t, "")
		ctx := testContext(t)

		res, err := client.SetProvider(ctx, rpc.SetProviderRequest{URL: sepoliaURL + "/v3/secret-key"})
		require.NoError(t, err)
		assert.Equal(t, "0xaa36a7", res.ChainID)
		assert.Equal(t, sepoliaURL, res.Endpoint)

		select {
		case chainID := <-tr.chainChanged:
			assert.Equal(t, "0xaa36a7", chainID)
		case <-time.After(2 * time.Second):
			t.Fatal("expected chainChanged notification")
		}

		chainID, err := client.ChainID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "0xaa36a7", chainID)

		records := tr.journal(t)
		require.Len(t, records, 1)
		assert.Equal(t, "11155111", records[0].ChainID)
		assert.Equal(t, []string{"url"}, []string(records[0].ParamNames))
	})

	t.Run("By network", func(t *testing.T) {
		tr := setupTestRPCRouter(t, testRouterOptions{networks: networks})
		client := tr.connect(t, "")

		res, err := client.SetProvider(testContext(t), rpc.SetProviderRequest{Network: "sepolia"})
		require.NoError(t, err)
		assert.Equal(t, "0xaa36a7", res.ChainID)
		assert.Equal(t, sepoliaURL, tr.router.Wallet.Endpoint())
	})

	t.Run("Same chain sends no notification", func(t *testing.T) {
		tr := setupTestRPCRouter(t, testRouterOptions{})
		tr.backends["http://mainnet-backup.test"] = newFakeBackend(1)
		client := tr.connect(t, "")

		_, err := client.SetProvider(testContext(t), rpc.SetProviderRequest{URL: "http://mainnet-backup.test"})
		require.NoError(t, err)

		select {
		case chainID := <-tr.chainChanged:
			t.Fatalf("unexpected chainChanged %s", chainID)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("Chain id failure keeps the current endpoint", func(t *testing.T) {
		tr := setupTestRPCRouter(t, testRouterOptions{networks: networks})
		dead := newFakeBackend(5)
		dead.chainErr = errors.New("connection reset")
		tr.backends["http://dead.test"] = dead
		client := tr.connect(t, "")
		ctx := testContext(t)

		_, err := client.SetProvider(ctx, rpc.SetProviderRequest{URL: "http://dead.test"})
		requireRPCError(t, err, rpc.CodeInternalError)

		assert.Equal(t, mainnetURL, tr.router.Wallet.Endpoint())
		chainID, err := client.ChainID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "0x1", chainID)
		assert.Equal(t, 0.0, testutil.ToFloat64(tr.router.Metrics.EndpointSwaps))

		select {
		case chainID := <-tr.chainChanged:
			t.Fatalf("unexpected chainChanged %s", chainID)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("Network endpoint is asked once", func(t *testing.T) {
		tr := setupTestRPCRouter(t, testRouterOptions{networks: networks})
		tr.backends[sepoliaURL].chainErr = errors.New("connection reset")
		client := tr.connect(t, "")

		start := time.Now()
		_, err := client.SetProvider(testContext(t), rpc.SetProviderRequest{Network: "sepolia"})
		requireRPCError(t, err, rpc.CodeInternalError)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, 1, tr.backends[sepoliaURL].chainIDCallCount())
		assert.Equal(t, mainnetURL, tr.router.Wallet.Endpoint())
	})

	t.Run("Invalid requests", func(t *testing.T) {
		tr := setupTestRPCRouter(t, testRouterOptions{networks: networks})
		client := tr.connect(t, "")
		ctx := testContext(t)

		_, err := client.SetProvider(ctx, rpc.SetProviderRequest{})
		requireRPCError(t, err, rpc.CodeInvalidParams)

		_, err = client.SetProvider(ctx, rpc.SetProviderRequest{URL: sepoliaURL, Network: "sepolia"})
		requireRPCError(t, err, rpc.CodeInvalidParams)

		_, err = client.SetProvider(ctx, rpc.SetProviderRequest{Network: "unknown"})
		requireRPCError(t, err, rpc.CodeInvalidParams)

		_, err = client.SetProvider(ctx, rpc.SetProviderRequest{Network: "nourl"})
		requireRPCError(t, err, rpc.CodeInvalidParams)

		_, err = client.SetProvider(ctx, rpc.SetProviderRequest{URL: "not a url"})
		requireRPCError(t, err, rpc.CodeInvalidParams)

		_, err = client.SetProvider(ctx, rpc.SetProviderRequest{URL: "http://unreachable.test"})
		requireRPCError(t, err, rpc.CodeInternalError)

		// The endpoint reports a chain id other than the network's.
		_, err = client.SetProvider(ctx, rpc.SetProviderRequest{Network: "broken"})
		requireRPCError(t, err, rpc.CodeInternalError)

		assert.Equal(t, mainnetURL, tr.router.Wallet.Endpoint())
	})
}

func TestRPCRouterTokens(t *testing.T) {
	tr := setupTestRPCRouter(t, testRouterOptions{})
	client := tr.connect(t, "")
	ctx := testContext(t)

	contract := "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	transfer := wallet.TokenTransfer{From: testAddress, Contract: contract, To: otherAddr, Amount: "1000"}

	gas, err := client.EstimateTokenGas(ctx, transfer)
	require.NoError(t, err)
	assert.Equal(t, "0x5208", gas)

	hash, err := client.SendToken(ctx, transfer)
	require.NoError(t, err)
	sent := tr.backends[mainnetURL].sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].Hash().Hex(), hash)
	assert.Equal(t, contract, sent[0].To().Hex())

	nft := wallet.NFTTransfer{Standard: wallet.ERC721, From: testAddress, Contract: contract, To: otherAddr, TokenID: "7"}
	gas, err = client.EstimateNFTGas(ctx, nft)
	require.NoError(t, err)
	assert.Equal(t, "0x5208", gas)

	_, err = client.SendNFT(ctx, nft)
	require.NoError(t, err)

	_, err = client.SendToken(ctx, wallet.TokenTransfer{From: testAddress, Contract: contract, To: otherAddr, Amount: "lots"})
	requireRPCError(t, err, rpc.CodeInvalidParams)

	records := tr.journal(t)
	require.Len(t, records, 5)
	assert.Equal(t, "TokenTransfer", records[1].Kind)
	assert.Equal(t, hash, records[1].TxHash)
	assert.Equal(t, "NFTTransfer", records[3].Kind)
	assert.Equal(t, []string{"amount", "contract", "from", "to"}, []string(records[0].ParamNames))
}

func TestRPCRouterGetHistory(t *testing.T) {
	tr := setupTestRPCRouter(t, testRouterOptions{})
	client := tr.connect(t, "")
	ctx := testContext(t)

	_, err := client.Accounts(ctx)
	require.NoError(t, err)
	_, err = client.PersonalSign(ctx, "Some data", otherAddr)
	require.Error(t, err)
	_, err = client.PersonalSign(ctx, "Some data", testAddress)
	require.NoError(t, err)

	res, err := client.GetHistory(ctx, rpc.GetHistoryRequest{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, int64(3), res.Total)

	failures, err := client.GetHistory(ctx, rpc.GetHistoryRequest{Outcome: OutcomeFailure})
	require.NoError(t, err)
	require.Len(t, failures.Entries, 1)
	assert.Equal(t, int64(1), failures.Total)
	assert.Equal(t, "no_wallet_for_address", failures.Entries[0].ErrorKind)

	signs, err := client.GetHistory(ctx, rpc.GetHistoryRequest{Method: rpc.PersonalSignMethod.String()})
	require.NoError(t, err)
	assert.Len(t, signs.Entries, 2)

	asc := rpc.SortTypeAscending
	page, err := client.GetHistory(ctx, rpc.GetHistoryRequest{ListOptions: rpc.ListOptions{Limit: 1, Sort: &asc}})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, rpc.AccountsMethod.String(), page.Entries[0].Method)
	assert.Equal(t, int64(3), page.Total, "total ignores paging")

	_, err = client.GetHistory(ctx, rpc.GetHistoryRequest{Outcome: "maybe"})
	requireRPCError(t, err, rpc.CodeInvalidParams)
}

func TestRPCRouterMetrics(t *testing.T) {
	tr := setupTestRPCRouter(t, testRouterOptions{})
	client := tr.connect(t, "")
	ctx := testContext(t)

	_, err := client.Accounts(ctx)
	require.NoError(t, err)
	_, err = client.PersonalSign(ctx, "Some data", otherAddr)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.RPCRequests.WithLabelValues("eth_accounts", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.RPCRequests.WithLabelValues("personal_sign", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.ConnectedClients))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.ConnectionsTotal))
	assert.GreaterOrEqual(t, testutil.ToFloat64(tr.metrics.MessageReceived), 2.0)
}

func jsonObject(t *testing.T, doc string) map[string]any {
	t.Helper()
	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &obj))
	return obj
}
