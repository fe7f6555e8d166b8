package rpc

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method is a JSON-RPC method served by the wallet node.
type Method string

const (
	// EIP-1193 provider methods.
	AccountsMethod               Method = "eth_accounts"
	RequestAccountsMethod        Method = "eth_requestAccounts"
	ChainIDMethod                Method = "eth_chainId"
	GetEncryptionPublicKeyMethod Method = "eth_getEncryptionPublicKey"
	PersonalSignMethod           Method = "personal_sign"
	EthSignMethod                Method = "eth_sign"
	SignTransactionMethod        Method = "eth_signTransaction"
	SendTransactionMethod        Method = "eth_sendTransaction"
	SignTypedDataV4Method        Method = "eth_signTypedData_v4"
	DecryptMethod                Method = "eth_decrypt"

	// Wallet extensions.
	GetBalanceMethod       Method = "wallet_getBalance"
	GetAccountMethod       Method = "wallet_getAccount"
	SetProviderMethod      Method = "wallet_setProvider"
	SendTokenMethod        Method = "wallet_sendToken"
	EstimateTokenGasMethod Method = "wallet_estimateTokenGas"
	SendNFTMethod          Method = "wallet_sendNft"
	EstimateNFTGasMethod   Method = "wallet_estimateNftGas"
	GetHistoryMethod       Method = "wallet_getHistory"
	AuthenticateMethod     Method = "wallet_authenticate"
)

func (m Method) String() string { return string(m) }

// Event is a notification pushed by the node.
type Event string

const (
	// ChainChangedEvent carries the new chain id as a 0x quantity.
	ChainChangedEvent Event = "chainChanged"
	// AccountsChangedEvent carries the account list. It is sent on connect.
	AccountsChangedEvent Event = "accountsChanged"
)

func (e Event) String() string { return string(e) }

type GetBalanceResponse struct {
	Address string          `json:"address"`
	Wei     string          `json:"wei"`
	Ether   decimal.Decimal `json:"ether"`
}

type GetAccountResponse struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// SetProviderRequest names the new endpoint either by URL or by a network
// from the node's network list.
type SetProviderRequest struct {
	URL     string `json:"url,omitempty"`
	Network string `json:"network,omitempty"`
}

type SetProviderResponse struct {
	ChainID  string `json:"chainId"`
	Endpoint string `json:"endpoint"`
}

type AuthenticateRequest struct {
	Token string `json:"token"`
}

type AuthenticateResponse struct {
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SortType string

const (
	SortTypeAscending  SortType = "asc"
	SortTypeDescending SortType = "desc"
)

func (s SortType) ToString() string {
	return strings.ToUpper(string(s))
}

// ListOptions pages list results. A zero limit means the default.
type ListOptions struct {
	Offset uint32    `json:"offset,omitempty"`
	Limit  uint32    `json:"limit,omitempty"`
	Sort   *SortType `json:"sort,omitempty" validate:"omitempty,oneof=asc desc"`
}

type GetHistoryRequest struct {
	ListOptions
	Method  string `json:"method,omitempty"`
	Outcome string `json:"outcome,omitempty" validate:"omitempty,oneof=success failure"`
}

type GetHistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
	// Total counts every call matching the filter, ignoring paging.
	Total int64 `json:"total"`
}

// HistoryEntry describes one served call. Payload values are never recorded.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	Kind       string    `json:"kind,omitempty"`
	From       string    `json:"from,omitempty"`
	ParamNames []string  `json:"paramNames,omitempty"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	TxHash     string    `json:"txHash,omitempty"`
	ChainID    string    `json:"chainId,omitempty"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}
