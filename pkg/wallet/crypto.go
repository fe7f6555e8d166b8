package wallet

import (
	"github.com/pkg/errors"

	"github.com/erc7824/nitrolite/walletnode/pkg/ecies"
)

// EncryptionPublicKey returns the uncompressed public key of from.
func (h *Handler) EncryptionPublicKey(from string) (string, error) {
	return h.account.PublicKey(from)
}

// Decrypt opens an eth-crypto ciphertext addressed to from.
func (h *Handler) Decrypt(ciphertext, from string) (string, error) {
	signer, err := h.account.own(from)
	if err != nil {
		return "", err
	}
	plain, err := signer.Decrypt(ciphertext)
	switch {
	case err == nil:
		return string(plain), nil
	case errors.Is(err, ecies.ErrMalformed):
		return "", invalidPayload(err, "ciphertext")
	default:
		return "", decryptionFailed(err)
	}
}
