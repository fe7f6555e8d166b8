package sign

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/erc7824/nitrolite/walletnode/pkg/ecies"
)

var _ TxSigner = (*EthereumSigner)(nil)
var _ Decrypter = (*EthereumSigner)(nil)
var _ PublicKey = (*EthereumPublicKey)(nil)
var _ Address = (*EthereumAddress)(nil)

// EthereumAddress implements the Address interface for Ethereum.
type EthereumAddress struct{ common.Address }

func (a EthereumAddress) String() string { return a.Address.Hex() }

// NewEthereumAddress creates a new Ethereum address from a common.Address.
func NewEthereumAddress(addr common.Address) EthereumAddress {
	return EthereumAddress{addr}
}

// NewEthereumAddressFromHex creates a new Ethereum address from a hex string.
func NewEthereumAddressFromHex(hexAddr string) EthereumAddress {
	return EthereumAddress{common.HexToAddress(hexAddr)}
}

// Equals returns true if this address equals the other address.
func (a EthereumAddress) Equals(other Address) bool {
	if otherAddr, ok := other.(EthereumAddress); ok {
		return a.Address == otherAddr.Address
	}
	return strings.EqualFold(a.String(), other.String())
}

// MatchesHex reports whether s is the hex form of this address, ignoring case.
// Only the exact 0x-prefixed 40 digit form matches.
func (a EthereumAddress) MatchesHex(s string) bool {
	return strings.EqualFold(a.Address.Hex(), s)
}

// EthereumPublicKey implements the PublicKey interface for Ethereum.
type EthereumPublicKey struct{ *ecdsa.PublicKey }

func (p EthereumPublicKey) Address() Address {
	return EthereumAddress{ethcrypto.PubkeyToAddress(*p.PublicKey)}
}

// Bytes returns the 65 byte uncompressed encoding.
func (p EthereumPublicKey) Bytes() []byte { return ethcrypto.FromECDSAPub(p.PublicKey) }

// Hex returns the 0x04-prefixed uncompressed encoding.
func (p EthereumPublicKey) Hex() string { return hexutil.Encode(p.Bytes()) }

// NewEthereumPublicKey creates a new Ethereum public key from an ECDSA public key.
func NewEthereumPublicKey(pub *ecdsa.PublicKey) EthereumPublicKey {
	return EthereumPublicKey{pub}
}

// NewEthereumPublicKeyFromBytes creates a new Ethereum public key from raw bytes.
func NewEthereumPublicKeyFromBytes(pubBytes []byte) (EthereumPublicKey, error) {
	pub, err := ethcrypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return EthereumPublicKey{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return EthereumPublicKey{pub}, nil
}

// EthereumSigner holds a single secp256k1 key. The key is set once at
// construction and never leaves the signer.
type EthereumSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  EthereumPublicKey
}

func (s *EthereumSigner) PublicKey() PublicKey { return s.publicKey }

// Address returns the address derived from the signer's key.
func (s *EthereumSigner) Address() EthereumAddress {
	return EthereumAddress{ethcrypto.PubkeyToAddress(*s.publicKey.PublicKey)}
}

// Sign expects the input data to be a 32-byte digest. Nonces are derived
// per RFC6979, so equal inputs give equal signatures.
func (s *EthereumSigner) Sign(hash []byte) (Signature, error) {
	sig, err := ethcrypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, err
	}
	// Adjust V from 0/1 to 27/28 for Ethereum compatibility.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return Signature(sig), nil
}

// SignTx signs tx with the latest signer rules for chainID.
func (s *EthereumSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
}

// Decrypt opens an eth-crypto ciphertext addressed to this key.
func (s *EthereumSigner) Decrypt(ciphertext string) ([]byte, error) {
	c, err := ecies.Parse(ciphertext)
	if err != nil {
		return nil, err
	}
	return ecies.Decrypt(ethcrypto.FromECDSA(s.privateKey), c)
}

// String never prints key material.
func (s *EthereumSigner) String() string {
	return fmt.Sprintf("EthereumSigner(%s)", s.Address())
}

// NewEthereumSigner creates a new Ethereum signer from a hex-encoded private key.
func NewEthereumSigner(privateKeyHex string) (*EthereumSigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	key, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		// The parser error may echo input characters.
		return nil, fmt.Errorf("could not parse ethereum private key")
	}
	return &EthereumSigner{
		privateKey: key,
		publicKey:  EthereumPublicKey{key.Public().(*ecdsa.PublicKey)},
	}, nil
}

// RecoverAddressFromHash recovers an address from a signature using a pre-computed hash.
func RecoverAddressFromHash(hash []byte, sig Signature) (Address, error) {
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("invalid signature length")
	}
	localSig := make([]byte, SignatureLength)
	copy(localSig, sig)
	if localSig[64] >= 27 {
		localSig[64] -= 27
	}
	pubKey, err := ethcrypto.SigToPub(hash, localSig)
	if err != nil {
		return nil, fmt.Errorf("signature recovery failed: %w", err)
	}
	return EthereumAddress{ethcrypto.PubkeyToAddress(*pubKey)}, nil
}
