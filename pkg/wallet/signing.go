package wallet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/erc7824/nitrolite/walletnode/pkg/sign"
)

// EthSign signs a raw digest without any prefixing. Short digests are
// left-padded to 32 bytes.
func (h *Handler) EthSign(from, digest string) (string, error) {
	signer, err := h.account.own(from)
	if err != nil {
		return "", err
	}
	hash, err := sign.DecodeDigest(digest)
	if err != nil {
		return "", invalidPayload(err, "eth_sign")
	}
	return signHash(signer, hash)
}

// PersonalSign signs message under the EIP-191 personal message prefix.
// A 0x-prefixed hex message is signed as bytes, anything else as UTF-8 text.
func (h *Handler) PersonalSign(from, message string) (string, error) {
	signer, err := h.account.own(from)
	if err != nil {
		return "", err
	}
	return signHash(signer, sign.PersonalMessageHash(sign.DecodeMessage(message)))
}

// SignTypedDataV4 signs an EIP-712 document given as JSON.
func (h *Handler) SignTypedDataV4(from, document string) (string, error) {
	signer, err := h.account.own(from)
	if err != nil {
		return "", err
	}
	hash, err := sign.TypedDataHash(document)
	if err != nil {
		return "", invalidPayload(err, "typed data")
	}
	return signHash(signer, hash)
}

// SignTransaction signs p offline and returns the 0x-prefixed binary encoding.
// Nonce, gas and fees are taken as given, with absent values meaning zero.
func (h *Handler) SignTransaction(p TxParams) (string, error) {
	signer, err := h.account.own(p.From)
	if err != nil {
		return "", err
	}
	if err := p.validate(); err != nil {
		return "", err
	}

	var chainID *big.Int
	switch {
	case p.ChainID != nil:
		chainID = p.ChainID.ToInt()
	case h.signChainID != nil:
		chainID = h.signChainID
	default:
		return "", invalidPayloadf("chainId is required when no default sign chain id is configured")
	}

	tx, err := signTx(signer, &p, chainID)
	if err != nil {
		return "", err
	}
	return encodeTx(tx)
}

// signTx is the one signing routine for both the sign and the send path.
func signTx(signer *sign.EthereumSigner, p *TxParams, chainID *big.Int) (*types.Transaction, error) {
	signed, err := signer.SignTx(p.build(chainID), chainID)
	if err != nil {
		return nil, invalidPayload(err, "failed to sign transaction")
	}
	return signed, nil
}

func encodeTx(tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", invalidPayload(err, "failed to encode transaction")
	}
	return hexutil.Encode(raw), nil
}

func signHash(signer *sign.EthereumSigner, hash []byte) (string, error) {
	sig, err := signer.Sign(hash)
	if err != nil {
		return "", invalidPayload(err, "failed to sign")
	}
	return sig.String(), nil
}
