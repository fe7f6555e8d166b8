// Package wallet implements a single key wallet account handler.
//
// A Handler owns one secp256k1 key. Every operation names the address it
// acts for, and only the owned address (compared without regard to letter
// case) is served. Anything else fails with ErrNoWalletForAddress.
//
// Requests arrive as one of nine kinds and are routed by Dispatch:
//
//	GetAccounts, RequestAccounts       -> the owned address
//	EncryptionPublicKey                -> uncompressed public key
//	PersonalMessage                    -> EIP-191 signature
//	EthSignMessage                     -> raw digest signature
//	TypedMessageV4                     -> EIP-712 signature
//	SignTransaction                    -> signed transaction bytes
//	Transaction                        -> hash of the broadcast transaction
//	DecryptMessage                     -> eth-crypto plaintext
//
// Signing is deterministic (RFC6979) and signatures are r||s||v with v in {27, 28}.
//
// Network calls go through the current endpoint, which can be replaced at
// runtime with SetEndpoint. A call pins the endpoint it started on.
//
// Failures are *Error values whose Kind tells them apart; match them with
// errors.Is against the Err sentinels or use KindOf.
package wallet
