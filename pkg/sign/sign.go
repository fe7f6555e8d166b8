package sign

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// SignatureLength is the size of an r||s||v signature.
const SignatureLength = 65

// Signer is an interface for a key holder able to sign 32-byte digests.
type Signer interface {
	PublicKey() PublicKey                // Public key associated with this signer.
	Sign(hash []byte) (Signature, error) // Sign generates an r||s||v signature over a digest.
}

// TxSigner signs Ethereum transactions with the key behind a Signer.
type TxSigner interface {
	Signer
	// SignTx returns a copy of tx carrying a signature valid for chainID.
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Decrypter opens ciphertexts that were encrypted to the signer's public key.
type Decrypter interface {
	Decrypt(ciphertext string) ([]byte, error)
}

// PublicKey is an interface for a public key that can derive its address.
type PublicKey interface {
	Address() Address
	Bytes() []byte
}

// Address is an interface for an account address.
type Address interface {
	fmt.Stringer

	// Equals returns true if this address equals the other address.
	Equals(other Address) bool
}

// Signature is a 65 byte r||s||v signature with v in {27, 28}.
type Signature []byte

// MarshalJSON encodes the signature as a 0x-prefixed hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	decoded, err := hexutil.Decode(hexStr)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

func (s Signature) String() string {
	return hexutil.Encode(s)
}
