// Package sign holds the wallet key and every primitive that needs it.
//
// An EthereumSigner is built once from a hex private key. Callers can sign
// 32-byte digests, sign transactions and decrypt eth-crypto messages through
// it, but can never read the key back. String and the error values returned
// by the constructor never include key material.
//
// The encoding helpers turn user supplied payloads into digests:
//
//   - DecodeDigest for raw eth_sign hashes
//   - PersonalMessageHash for EIP-191 personal messages
//   - TypedDataHash for EIP-712 v4 documents
//
// Usage
//
//	signer, err := sign.NewEthereumSigner(privateKeyHex)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	hash := sign.PersonalMessageHash(sign.DecodeMessage("hello world"))
//	signature, err := signer.Sign(hash)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(signer.Address(), signature)
package sign
