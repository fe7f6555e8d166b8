// Package eciestest produces eth-crypto compatible ciphertexts for tests.
package eciestest

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Message is the object form of an encrypted message.
type Message struct {
	IV             string `json:"iv"`
	EphemPublicKey string `json:"ephemPublicKey"`
	Ciphertext     string `json:"ciphertext"`
	MAC            string `json:"mac"`

	raw [4][]byte
}

// Encrypt encrypts plaintext to the serialized secp256k1 public key pub.
func Encrypt(pub, plaintext []byte) (*Message, error) {
	to, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return nil, err
	}
	ephem, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keys := sha512.Sum512(secp256k1.GenerateSharedSecret(ephem, to))

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	block, err := aes.NewCipher(keys[:32])
	if err != nil {
		return nil, err
	}
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	ephemPub := ephem.PubKey()
	m := hmac.New(sha256.New, keys[32:])
	m.Write(iv)
	m.Write(ephemPub.SerializeUncompressed())
	m.Write(ct)
	mac := m.Sum(nil)

	return &Message{
		IV:             hex.EncodeToString(iv),
		EphemPublicKey: hex.EncodeToString(ephemPub.SerializeUncompressed()),
		Ciphertext:     hex.EncodeToString(ct),
		MAC:            hex.EncodeToString(mac),
		raw:            [4][]byte{iv, ephemPub.SerializeCompressed(), mac, ct},
	}, nil
}

// String returns the flat hex form iv | compressed key | mac | ciphertext.
func (m *Message) String() string {
	return hex.EncodeToString(bytes.Join(m.raw[:], nil))
}

// JSON returns the object form.
func (m *Message) JSON() string {
	b, _ := json.Marshal(m)
	return string(b)
}
