package sign

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mailTypedData = `{
  "types": {
    "EIP712Domain": [
      {"name": "name", "type": "string"},
      {"name": "version", "type": "string"},
      {"name": "chainId", "type": "uint256"},
      {"name": "verifyingContract", "type": "address"}
    ],
    "Person": [
      {"name": "name", "type": "string"},
      {"name": "wallet", "type": "address"}
    ],
    "Mail": [
      {"name": "from", "type": "Person"},
      {"name": "to", "type": "Person"},
      {"name": "contents", "type": "string"}
    ]
  },
  "primaryType": "Mail",
  "domain": {
    "name": "Ether Mail",
    "version": "1",
    "chainId": 1,
    "verifyingContract": "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"
  },
  "message": {
    "from": {"name": "Cow", "wallet": "0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826"},
    "to": {"name": "Bob", "wallet": "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"},
    "contents": "Hello, Bob!"
  }
}`

func TestDecodeDigest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "Full hash",
			input: "0x1da44b586eb0729ff70a73c326926f6ed5a25f5b056e7f47fbc6e58d86871655",
			want:  "0x1da44b586eb0729ff70a73c326926f6ed5a25f5b056e7f47fbc6e58d86871655",
		},
		{
			name:  "Short value is left padded",
			input: "0xdeadbeef",
			want:  "0x00000000000000000000000000000000000000000000000000000000deadbeef",
		},
		{
			name:  "No prefix",
			input: "deadbeef",
			want:  "0x00000000000000000000000000000000000000000000000000000000deadbeef",
		},
		{name: "Empty", input: "0x", wantErr: true},
		{name: "Odd length", input: "0xabc", wantErr: true},
		{name: "Uppercase prefix", input: "0Xdeadbeef", wantErr: true},
		{name: "Not hex", input: "0xnothex", wantErr: true},
		{name: "Too long", input: "0x" + "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff00", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeDigest(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, hexutil.Encode(got))
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, DecodeMessage("0xdeadbeef"))
	assert.Equal(t, []byte{0x0a, 0xbc}, DecodeMessage("0xabc"))
	assert.Equal(t, []byte("deadbeef"), DecodeMessage("deadbeef"))
	assert.Equal(t, []byte("0xnothex"), DecodeMessage("0xnothex"))
	assert.Equal(t, []byte("0Xdeadbeef"), DecodeMessage("0Xdeadbeef"))
	assert.Equal(t, []byte{0xde, 0xad}, DecodeMessage("0xDEAD"))
	assert.Equal(t, []byte("Some data"), DecodeMessage("Some data"))
}

func TestPersonalMessageHash(t *testing.T) {
	hash := PersonalMessageHash([]byte("Some data"))
	assert.Equal(t, "0x1da44b586eb0729ff70a73c326926f6ed5a25f5b056e7f47fbc6e58d86871655", hexutil.Encode(hash))

	t.Run("Matches known signature", func(t *testing.T) {
		signer := setupSigner(t)
		sig, err := signer.Sign(hash)
		require.NoError(t, err)
		assert.Equal(t,
			"0xb91467e570a6466aa9e9876cbcd013baba02900b8979d43fe208a4a4f339f5fd6007e74cd82e037b800186422fc2da167c747ef045e5d18a5f5d4300f8e1a0291c",
			sig.String())
	})
}

func TestTypedDataHash(t *testing.T) {
	t.Run("Mail example", func(t *testing.T) {
		hash, err := TypedDataHash(mailTypedData)
		require.NoError(t, err)
		assert.Equal(t, "0xbe609aee343fb3c4b28e1df9e632fca64fcfaede20f02e86244efddf30957bd2", hexutil.Encode(hash))

		cow, err := NewEthereumSigner(hexutil.Encode(ethcrypto.Keccak256([]byte("cow"))))
		require.NoError(t, err)
		assert.Equal(t, "0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826", cow.Address().String())

		sig, err := cow.Sign(hash)
		require.NoError(t, err)
		assert.Equal(t,
			"0x4355c47d63924e8a72e509b65029052eb6c299d53a04e167c5775fd466751c9d07299936d304c153f6443dfa05f40ff007d72911b6f72307f996231605b915621c",
			sig.String())
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		_, err := TypedDataHash("{not json")
		assert.Error(t, err)
	})

	t.Run("Domain fields without types", func(t *testing.T) {
		_, err := TypedDataHash(`{"types":{},"primaryType":"Mail","domain":{"name":"x"},"message":{}}`)
		assert.Error(t, err)
	})
}
