package wallet

// Op names a request kind.
type Op string

const (
	OpGetAccounts         Op = "GetAccounts"
	OpRequestAccounts     Op = "RequestAccounts"
	OpEncryptionPublicKey Op = "EncryptionPublicKey"
	OpPersonalMessage     Op = "PersonalMessage"
	OpEthSignMessage      Op = "EthSignMessage"
	OpSignTransaction     Op = "SignTransaction"
	OpTransaction         Op = "Transaction"
	OpTypedMessageV4      Op = "TypedMessageV4"
	OpDecryptMessage      Op = "DecryptMessage"
)

// Request is one of the nine wallet request kinds. The set is closed.
type Request interface {
	Op() Op
	// Sender is the address the request claims to act for, if any.
	Sender() string
	isRequest()
}

// GetAccounts lists the owned accounts.
type GetAccounts struct{}

// RequestAccounts lists the owned accounts. There is no approval step.
type RequestAccounts struct{}

// EncryptionPublicKey asks for the public key of From.
type EncryptionPublicKey struct {
	From string
}

// PersonalMessage asks for an EIP-191 signature over Data.
type PersonalMessage struct {
	From string
	Data string
}

// EthSignMessage asks for a raw signature over the digest in Data.
type EthSignMessage struct {
	From string
	Data string
}

// SignTransaction asks for a signed transaction without broadcasting it.
type SignTransaction struct {
	Tx TxParams
}

// Transaction asks for a transaction to be signed and broadcast.
type Transaction struct {
	Tx TxParams
}

// TypedMessageV4 asks for an EIP-712 signature over the JSON document in Data.
type TypedMessageV4 struct {
	From string
	Data string
}

// DecryptMessage asks to decrypt the ciphertext in Data.
type DecryptMessage struct {
	From string
	Data string
}

func (GetAccounts) Op() Op         { return OpGetAccounts }
func (RequestAccounts) Op() Op     { return OpRequestAccounts }
func (EncryptionPublicKey) Op() Op { return OpEncryptionPublicKey }
func (PersonalMessage) Op() Op     { return OpPersonalMessage }
func (EthSignMessage) Op() Op      { return OpEthSignMessage }
func (SignTransaction) Op() Op     { return OpSignTransaction }
func (Transaction) Op() Op         { return OpTransaction }
func (TypedMessageV4) Op() Op      { return OpTypedMessageV4 }
func (DecryptMessage) Op() Op      { return OpDecryptMessage }

func (GetAccounts) Sender() string           { return "" }
func (RequestAccounts) Sender() string       { return "" }
func (r EncryptionPublicKey) Sender() string { return r.From }
func (r PersonalMessage) Sender() string     { return r.From }
func (r EthSignMessage) Sender() string      { return r.From }
func (r SignTransaction) Sender() string     { return r.Tx.From }
func (r Transaction) Sender() string         { return r.Tx.From }
func (r TypedMessageV4) Sender() string      { return r.From }
func (r DecryptMessage) Sender() string      { return r.From }

func (GetAccounts) isRequest()         {}
func (RequestAccounts) isRequest()     {}
func (EncryptionPublicKey) isRequest() {}
func (PersonalMessage) isRequest()     {}
func (EthSignMessage) isRequest()      {}
func (SignTransaction) isRequest()     {}
func (Transaction) isRequest()         {}
func (TypedMessageV4) isRequest()      {}
func (DecryptMessage) isRequest()      {}

// Result is the outcome of a dispatched request. Account requests fill
// Accounts, every other kind fills Value.
type Result struct {
	Accounts []string
	Value    string
}
