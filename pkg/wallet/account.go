package wallet

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/erc7824/nitrolite/walletnode/pkg/sign"
)

// Account owns the single wallet key and answers ownership questions.
type Account struct {
	signer *sign.EthereumSigner
}

// NewAccount builds the account from a hex private key, with or without 0x.
func NewAccount(privateKeyHex string) (*Account, error) {
	signer, err := sign.NewEthereumSigner(privateKeyHex)
	if err != nil {
		return nil, invalidPayload(err, "wallet key")
	}
	return &Account{signer: signer}, nil
}

// Address returns the owned address.
func (a *Account) Address() common.Address {
	return a.signer.Address().Address
}

// Addresses returns the checksummed owned address as a one element list.
func (a *Account) Addresses() []string {
	return []string{a.signer.Address().String()}
}

// Resolve returns the signer when address is the owned address in any letter case.
func (a *Account) Resolve(address string) (*sign.EthereumSigner, bool) {
	if !a.signer.Address().MatchesHex(address) {
		return nil, false
	}
	return a.signer, true
}

// PublicKey returns the uncompressed 0x04-prefixed public key of address.
func (a *Account) PublicKey(address string) (string, error) {
	if _, err := a.own(address); err != nil {
		return "", err
	}
	return hexutil.Encode(a.signer.PublicKey().Bytes()), nil
}

func (a *Account) own(address string) (*sign.EthereumSigner, error) {
	signer, ok := a.Resolve(address)
	if !ok {
		return nil, noWallet(address)
	}
	return signer, nil
}
