package sign

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DigestLength is the size of the hashes accepted by Signer.Sign.
const DigestLength = common.HashLength

// DecodeDigest parses a hex digest and left-pads it with zeros to 32 bytes.
// The lowercase 0x prefix is optional. Odd-length digests and digests longer
// than 32 bytes are rejected.
func DecodeDigest(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, fmt.Errorf("empty digest")
	}
	if len(s)%2 == 1 {
		return nil, fmt.Errorf("invalid digest: odd number of hex digits")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid digest: %w", err)
	}
	if len(raw) > DigestLength {
		return nil, fmt.Errorf("digest is %d bytes, at most %d allowed", len(raw), DigestLength)
	}
	return common.LeftPadBytes(raw, DigestLength), nil
}

// DecodeMessage returns the bytes a personal message stands for.
// A 0x-prefixed hex string is decoded, anything else, including a 0X
// prefix, is taken as UTF-8 text.
func DecodeMessage(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		if raw, err := decodeLooseHex(s[2:]); err == nil {
			return raw
		}
	}
	return []byte(s)
}

// PersonalMessageHash computes the EIP-191 version 0x45 hash of msg:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func PersonalMessageHash(msg []byte) []byte {
	return accounts.TextHash(msg)
}

// TypedDataHash parses an EIP-712 document and returns its signing hash.
func TypedDataHash(document string) ([]byte, error) {
	var typedData apitypes.TypedData
	if err := json.Unmarshal([]byte(document), &typedData); err != nil {
		return nil, fmt.Errorf("invalid typed data: %w", err)
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// decodeLooseHex decodes hex digits, padding odd lengths with a leading zero.
func decodeLooseHex(s string) ([]byte, error) {
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}
