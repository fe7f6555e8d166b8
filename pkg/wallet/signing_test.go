package wallet

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/walletnode/pkg/ecies/eciestest"
	"github.com/erc7824/nitrolite/walletnode/pkg/sign"
)

func hexBig(v int64) *hexutil.Big { return (*hexutil.Big)(big.NewInt(v)) }

func hexUint(v uint64) *hexutil.Uint64 { return (*hexutil.Uint64)(&v) }

const (
	// personal_sign("Some data") digest and its signature by testPrivKey.
	someDataHash = "0x1da44b586eb0729ff70a73c326926f6ed5a25f5b056e7f47fbc6e58d86871655"
	someDataSig  = "0xb91467e570a6466aa9e9876cbcd013baba02900b8979d43fe208a4a4f339f5fd6007e74cd82e037b800186422fc2da167c747ef045e5d18a5f5d4300f8e1a0291c"

	deadbeefEthSig      = "0x4c922488fe9f98488ec1edb94194d5b25f6340ceb267f364830bd0a70268cbbe0ef74ce3d17eac5c1975073479d52eca6b9c2ab518552d13db09330968aa77db1c"
	deadbeefPersonalSig = "0x27c9251b613f25a4d52f5375c0be39ea8b8f5bb46a29034620f613d71520ac24034d84dcd3e6251af82cff1bda9c38141a238abaa1830bd8ca064474b60c641f1c"
)

func TestEthSign(t *testing.T) {
	h := setupHandler(t, nil, "")

	t.Run("Fixed vector", func(t *testing.T) {
		sig, err := h.EthSign(testAddress, someDataHash)
		require.NoError(t, err)
		assert.Equal(t, someDataSig, sig)
	})

	t.Run("Short digest is left padded", func(t *testing.T) {
		sig, err := h.EthSign(testAddress, "0xdeadbeef")
		require.NoError(t, err)
		assert.Equal(t, deadbeefEthSig, sig)

		padded, err := h.EthSign(testAddress, "0x00000000000000000000000000000000000000000000000000000000deadbeef")
		require.NoError(t, err)
		assert.Equal(t, sig, padded)
	})

	t.Run("Deterministic", func(t *testing.T) {
		a, err := h.EthSign(testAddress, someDataHash)
		require.NoError(t, err)
		b, err := h.EthSign(strings.ToLower(testAddress), someDataHash)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("Recovers to the owner", func(t *testing.T) {
		sig, err := h.EthSign(testAddress, someDataHash)
		require.NoError(t, err)
		addr, err := sign.RecoverAddressFromHash(hexutil.MustDecode(someDataHash), hexutil.MustDecode(sig))
		require.NoError(t, err)
		assert.Equal(t, testAddress, addr.String())
	})

	t.Run("Digest too long", func(t *testing.T) {
		_, err := h.EthSign(testAddress, someDataHash+"00")
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("Not hex", func(t *testing.T) {
		_, err := h.EthSign(testAddress, "hello")
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("Odd length digest", func(t *testing.T) {
		_, err := h.EthSign(testAddress, "0xdeadbee")
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("Uppercase prefix", func(t *testing.T) {
		_, err := h.EthSign(testAddress, "0X"+someDataHash[2:])
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}

func TestPersonalSign(t *testing.T) {
	h := setupHandler(t, nil, "")

	t.Run("Text and its hex form agree", func(t *testing.T) {
		text, err := h.PersonalSign(testAddress, "Some data")
		require.NoError(t, err)
		assert.Equal(t, someDataSig, text)

		asHex, err := h.PersonalSign(testAddress, hexutil.Encode([]byte("Some data")))
		require.NoError(t, err)
		assert.Equal(t, text, asHex)
	})

	t.Run("Domain separated from eth_sign", func(t *testing.T) {
		personal, err := h.PersonalSign(testAddress, "0xdeadbeef")
		require.NoError(t, err)
		raw, err := h.EthSign(testAddress, "0xdeadbeef")
		require.NoError(t, err)

		assert.Equal(t, deadbeefPersonalSig, personal)
		assert.NotEqual(t, raw, personal)
	})

	t.Run("Uppercase prefix is text", func(t *testing.T) {
		sig, err := h.PersonalSign(testAddress, "0Xdeadbeef")
		require.NoError(t, err)
		text, err := h.PersonalSign(testAddress, hexutil.Encode([]byte("0Xdeadbeef")))
		require.NoError(t, err)
		assert.Equal(t, text, sig)
		assert.NotEqual(t, deadbeefPersonalSig, sig)
	})

	t.Run("Uppercase address", func(t *testing.T) {
		sig, err := h.PersonalSign("0x"+strings.ToUpper(testAddress[2:]), "Some data")
		require.NoError(t, err)
		assert.Equal(t, someDataSig, sig)
	})
}

func TestSignTypedDataV4(t *testing.T) {
	h := setupHandler(t, nil, "")
	doc := `{
		"types": {
			"EIP712Domain": [{"name": "name", "type": "string"}, {"name": "chainId", "type": "uint256"}],
			"Greeting": [{"name": "text", "type": "string"}]
		},
		"primaryType": "Greeting",
		"domain": {"name": "walletnode", "chainId": 1},
		"message": {"text": "hi"}
	}`

	sig, err := h.SignTypedDataV4(testAddress, doc)
	require.NoError(t, err)

	hash, err := sign.TypedDataHash(doc)
	require.NoError(t, err)
	addr, err := sign.RecoverAddressFromHash(hash, hexutil.MustDecode(sig))
	require.NoError(t, err)
	assert.Equal(t, testAddress, addr.String())

	again, err := h.SignTypedDataV4(testAddress, doc)
	require.NoError(t, err)
	assert.Equal(t, sig, again)

	_, err = h.SignTypedDataV4(testAddress, "{broken")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSignTransaction(t *testing.T) {
	to := "0x3535353535353535353535353535353535353535"

	t.Run("Chain id from payload", func(t *testing.T) {
		h := setupHandler(t, nil, "")
		raw, err := h.SignTransaction(TxParams{
			From: testAddress, To: to, Value: hexBig(1), Gas: hexUint(21000),
			GasPrice: hexBig(1), Nonce: hexUint(3), ChainID: hexBig(5),
		})
		require.NoError(t, err)

		tx := decodeTx(t, raw)
		assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
		assert.Equal(t, int64(5), tx.ChainId().Int64())
		assert.Equal(t, uint64(3), tx.Nonce())
		assert.Equal(t, testAddress, sender(t, tx).Hex())
	})

	t.Run("Configured default chain id", func(t *testing.T) {
		h, err := NewHandler(context.Background(), Config{PrivateKey: testPrivKey, SignChainID: big.NewInt(137)})
		require.NoError(t, err)

		raw, err := h.SignTransaction(TxParams{From: testAddress, To: to})
		require.NoError(t, err)
		tx := decodeTx(t, raw)
		assert.Equal(t, int64(137), tx.ChainId().Int64())
		assert.Equal(t, uint64(0), tx.Nonce())
		assert.Equal(t, uint64(0), tx.Gas())
	})

	t.Run("No chain id anywhere", func(t *testing.T) {
		h := setupHandler(t, nil, "")
		_, err := h.SignTransaction(TxParams{From: testAddress, To: to})
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("Dynamic fee", func(t *testing.T) {
		h := setupHandler(t, nil, "")
		raw, err := h.SignTransaction(TxParams{
			From: testAddress, To: to, ChainID: hexBig(1),
			MaxFeePerGas: hexBig(30), MaxPriorityFeePerGas: hexBig(2),
		})
		require.NoError(t, err)
		tx := decodeTx(t, raw)
		assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
		assert.Equal(t, int64(30), tx.GasFeeCap().Int64())
		assert.Equal(t, int64(2), tx.GasTipCap().Int64())
	})

	t.Run("Invalid payloads", func(t *testing.T) {
		h := setupHandler(t, nil, "")
		tests := []struct {
			name string
			tx   TxParams
		}{
			{"Bad recipient", TxParams{From: testAddress, To: "0x1234", ChainID: hexBig(1)}},
			{"Mixed fees", TxParams{From: testAddress, ChainID: hexBig(1), GasPrice: hexBig(1), MaxFeePerGas: hexBig(1)}},
			{"Unsupported type", TxParams{From: testAddress, ChainID: hexBig(1), Type: hexUint(3)}},
			{"Legacy with dynamic fee", TxParams{From: testAddress, ChainID: hexBig(1), Type: hexUint(0), MaxFeePerGas: hexBig(1)}},
			{"Gas disagrees", TxParams{From: testAddress, ChainID: hexBig(1), Gas: hexUint(1), GasLimit: hexUint(2)}},
			{"Zero chain id", TxParams{From: testAddress, ChainID: hexBig(0)}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := h.SignTransaction(tc.tx)
				assert.ErrorIs(t, err, ErrInvalidPayload)
			})
		}
	})
}

func TestSignAndSendProduceSameBytes(t *testing.T) {
	backend := newFakeBackend(11155111)
	h := setupHandler(t, map[string]*fakeBackend{"http://node": backend}, "http://node")
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		tx   TxParams
	}{
		{"Legacy", TxParams{
			From: testAddress, To: otherAddr, Value: hexBig(42), Data: hexutil.Bytes{0x01, 0x02},
			Gas: hexUint(50000), GasPrice: hexBig(3), Nonce: hexUint(7), ChainID: hexBig(11155111),
		}},
		{"Dynamic fee", TxParams{
			From: testAddress, To: otherAddr, Value: hexBig(42),
			Gas: hexUint(50000), MaxFeePerGas: hexBig(10), MaxPriorityFeePerGas: hexBig(1), Nonce: hexUint(8), ChainID: hexBig(11155111),
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			signed, err := h.Dispatch(ctx, SignTransaction{Tx: tc.tx})
			require.NoError(t, err)

			res, err := h.Dispatch(ctx, Transaction{Tx: tc.tx})
			require.NoError(t, err)

			sent := backend.lastSent(t)
			raw, err := sent.MarshalBinary()
			require.NoError(t, err)
			assert.Equal(t, signed.Value, hexutil.Encode(raw))
			assert.Equal(t, sent.Hash().Hex(), res.Value)
		})
	}
}

func TestSendTransactionFillsFields(t *testing.T) {
	ctx := context.Background()

	t.Run("Dynamic fees when the head has a base fee", func(t *testing.T) {
		backend := newFakeBackend(1)
		backend.baseFee = big.NewInt(10_000_000_000)
		backend.nonce = 12
		backend.gas = 30000
		h := setupHandler(t, map[string]*fakeBackend{"http://node": backend}, "http://node")

		_, err := h.SendTransaction(ctx, TxParams{From: testAddress, To: otherAddr, Value: hexBig(1)})
		require.NoError(t, err)

		tx := backend.lastSent(t)
		assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
		assert.Equal(t, uint64(12), tx.Nonce())
		assert.Equal(t, uint64(30000), tx.Gas())
		assert.Equal(t, int64(2_000_000_000), tx.GasTipCap().Int64())
		assert.Equal(t, int64(22_000_000_000), tx.GasFeeCap().Int64())
		assert.Equal(t, int64(1), tx.ChainId().Int64())
		assert.Equal(t, testAddress, sender(t, tx).Hex())

		require.NotEmpty(t, backend.estimates)
		assert.Equal(t, common.HexToAddress(testAddress), backend.estimates[0].From)
	})

	t.Run("Gas price without a base fee", func(t *testing.T) {
		backend := newFakeBackend(1)
		h := setupHandler(t, map[string]*fakeBackend{"http://node": backend}, "http://node")

		_, err := h.SendTransaction(ctx, TxParams{From: testAddress, To: otherAddr})
		require.NoError(t, err)

		tx := backend.lastSent(t)
		assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
		assert.Equal(t, int64(1_000_000_000), tx.GasPrice().Int64())
	})

	t.Run("Explicit legacy type on a base fee chain", func(t *testing.T) {
		backend := newFakeBackend(1)
		backend.baseFee = big.NewInt(5)
		h := setupHandler(t, map[string]*fakeBackend{"http://node": backend}, "http://node")

		_, err := h.SendTransaction(ctx, TxParams{From: testAddress, To: otherAddr, Type: hexUint(0)})
		require.NoError(t, err)
		assert.Equal(t, uint8(types.LegacyTxType), backend.lastSent(t).Type())
	})

	t.Run("Chain id mismatch", func(t *testing.T) {
		backend := newFakeBackend(1)
		h := setupHandler(t, map[string]*fakeBackend{"http://node": backend}, "http://node")

		_, err := h.SendTransaction(ctx, TxParams{From: testAddress, To: otherAddr, ChainID: hexBig(5)})
		assert.ErrorIs(t, err, ErrInvalidPayload)
		assert.Empty(t, backend.sent)
	})
}

func TestDecrypt(t *testing.T) {
	h := setupHandler(t, nil, "")
	pub, err := h.EncryptionPublicKey(testAddress)
	require.NoError(t, err)

	msg, err := eciestest.Encrypt(hexutil.MustDecode(pub), []byte("the secret"))
	require.NoError(t, err)

	t.Run("Stringified", func(t *testing.T) {
		res, err := h.Dispatch(context.Background(), DecryptMessage{From: testAddress, Data: msg.String()})
		require.NoError(t, err)
		assert.Equal(t, "the secret", res.Value)
	})

	t.Run("Object", func(t *testing.T) {
		plain, err := h.Decrypt(msg.JSON(), testAddress)
		require.NoError(t, err)
		assert.Equal(t, "the secret", plain)
	})

	t.Run("Ciphertext for another key", func(t *testing.T) {
		other, err := sign.NewEthereumSigner("0x" + strings.Repeat("46", 32))
		require.NoError(t, err)
		foreign, err := eciestest.Encrypt(other.PublicKey().Bytes(), []byte("not yours"))
		require.NoError(t, err)

		_, err = h.Decrypt(foreign.String(), testAddress)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := h.Decrypt("zz", testAddress)
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}

func TestDispatchAccounts(t *testing.T) {
	h := setupHandler(t, nil, "")
	for _, req := range []Request{GetAccounts{}, RequestAccounts{}} {
		res, err := h.Dispatch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, []string{testAddress}, res.Accounts)
		assert.Empty(t, req.Sender())
	}

	_, err := h.Dispatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func decodeTx(t *testing.T, raw string) *types.Transaction {
	t.Helper()
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(hexutil.MustDecode(raw)))
	return tx
}

func sender(t *testing.T, tx *types.Transaction) common.Address {
	t.Helper()
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	return from
}
