// Package ecies opens messages produced by the eth-crypto encryptWithPublicKey
// scheme: ECDH on secp256k1, SHA-512 key derivation, AES-256-CBC and an
// HMAC-SHA256 tag over iv, ephemeral public key and ciphertext.
//
// Ciphertexts travel either as the JSON object
//
//	{"iv": "...", "ephemPublicKey": "...", "ciphertext": "...", "mac": "..."}
//
// or as the flat hex string iv(16) | compressed ephemPublicKey(33) | mac(32) | ciphertext.
package ecies

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
)

const (
	ivLength        = aes.BlockSize
	compressedLen   = 33
	uncompressedLen = 65
	macLength       = sha256.Size
)

var (
	// ErrMalformed is returned when the ciphertext cannot be parsed.
	ErrMalformed = errors.New("malformed ciphertext")
	// ErrAuthentication is returned when the ciphertext was not produced for the given key
	// or was tampered with.
	ErrAuthentication = errors.New("ciphertext authentication failed")
)

// Ciphertext is a parsed eth-crypto message.
type Ciphertext struct {
	IV             []byte
	EphemPublicKey *secp256k1.PublicKey
	Ciphertext     []byte
	MAC            []byte
}

type jsonCiphertext struct {
	IV             string `json:"iv"`
	EphemPublicKey string `json:"ephemPublicKey"`
	Ciphertext     string `json:"ciphertext"`
	MAC            string `json:"mac"`
}

// Parse accepts both the JSON object and the stringified hex form.
func Parse(s string) (*Ciphertext, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		return parseJSON(s)
	}
	return parseHex(s)
}

func parseJSON(s string) (*Ciphertext, error) {
	var raw jsonCiphertext
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	iv, err := decodeField("iv", raw.IV)
	if err != nil {
		return nil, err
	}
	pub, err := decodeField("ephemPublicKey", raw.EphemPublicKey)
	if err != nil {
		return nil, err
	}
	ct, err := decodeField("ciphertext", raw.Ciphertext)
	if err != nil {
		return nil, err
	}
	mac, err := decodeField("mac", raw.MAC)
	if err != nil {
		return nil, err
	}
	return assemble(iv, pub, mac, ct)
}

func parseHex(s string) (*Ciphertext, error) {
	blob, err := hex.DecodeString(trim0x(s))
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, "not a hex string")
	}
	header := ivLength + compressedLen + macLength
	if len(blob) <= header {
		return nil, errors.Wrapf(ErrMalformed, "got %d bytes, need more than %d", len(blob), header)
	}
	iv := blob[:ivLength]
	pub := blob[ivLength : ivLength+compressedLen]
	mac := blob[ivLength+compressedLen : header]
	return assemble(iv, pub, mac, blob[header:])
}

func assemble(iv, pub, mac, ct []byte) (*Ciphertext, error) {
	if len(iv) != ivLength {
		return nil, errors.Wrapf(ErrMalformed, "iv must be %d bytes", ivLength)
	}
	if len(mac) != macLength {
		return nil, errors.Wrapf(ErrMalformed, "mac must be %d bytes", macLength)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, errors.Wrap(ErrMalformed, "ciphertext is not a whole number of blocks")
	}
	if len(pub) != compressedLen && len(pub) != uncompressedLen {
		return nil, errors.Wrapf(ErrMalformed, "ephemeral key has invalid length %d", len(pub))
	}
	// A well formed key that is not on the curve cannot come from the sender,
	// so it fails authentication rather than parsing.
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return nil, errors.Wrap(ErrAuthentication, err.Error())
	}
	return &Ciphertext{IV: iv, EphemPublicKey: key, Ciphertext: ct, MAC: mac}, nil
}

// Decrypt opens c with the 32 byte secp256k1 private key.
func Decrypt(privateKey []byte, c *Ciphertext) ([]byte, error) {
	if c == nil {
		return nil, errors.Wrap(ErrMalformed, "nil ciphertext")
	}
	priv := secp256k1.PrivKeyFromBytes(privateKey)
	defer priv.Zero()

	shared := secp256k1.GenerateSharedSecret(priv, c.EphemPublicKey)

	encKey, macKey := deriveKeys(shared)
	if !hmac.Equal(c.MAC, tag(macKey, c)) {
		// Some encoders drop leading zero bytes of the shared x coordinate.
		trimmed := bytes.TrimLeft(shared, "\x00")
		if len(trimmed) == len(shared) {
			return nil, ErrAuthentication
		}
		encKey, macKey = deriveKeys(trimmed)
		if !hmac.Equal(c.MAC, tag(macKey, c)) {
			return nil, ErrAuthentication
		}
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	plain := make([]byte, len(c.Ciphertext))
	cipher.NewCBCDecrypter(block, c.IV).CryptBlocks(plain, c.Ciphertext)
	return unpad(plain)
}

func deriveKeys(shared []byte) (encKey, macKey []byte) {
	h := sha512.Sum512(shared)
	return h[:32], h[32:]
}

func tag(macKey []byte, c *Ciphertext) []byte {
	m := hmac.New(sha256.New, macKey)
	m.Write(c.IV)
	m.Write(c.EphemPublicKey.SerializeUncompressed())
	m.Write(c.Ciphertext)
	return m.Sum(nil)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.Wrap(ErrAuthentication, "invalid padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.Wrap(ErrAuthentication, "invalid padding")
		}
	}
	return b[:len(b)-n], nil
}

func decodeField(name, v string) ([]byte, error) {
	b, err := hex.DecodeString(trim0x(v))
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "field %s is not hex", name)
	}
	return b, nil
}

func trim0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
