package wallet

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

const erc20ABIJSON = `[{"type":"function","name":"transfer","stateMutability":"nonpayable",
"inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],
"outputs":[{"name":"","type":"bool"}]}]`

const erc721ABIJSON = `[{"type":"function","name":"transferFrom","stateMutability":"nonpayable",
"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],
"outputs":[]}]`

const erc1155ABIJSON = `[{"type":"function","name":"safeTransferFrom","stateMutability":"nonpayable",
"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"id","type":"uint256"},
{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],
"outputs":[]}]`

var (
	erc20ABI   = mustParseABI(erc20ABIJSON)
	erc721ABI  = mustParseABI(erc721ABIJSON)
	erc1155ABI = mustParseABI(erc1155ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// NFTStandard is the token standard of an NFT contract.
type NFTStandard string

const (
	ERC721  NFTStandard = "erc721"
	ERC1155 NFTStandard = "erc1155"
)

// TokenTransfer moves ERC-20 tokens from the owned account.
type TokenTransfer struct {
	From     string       `json:"from"               validate:"required,hexaddr"`
	Contract string       `json:"contract"           validate:"required,hexaddr"`
	To       string       `json:"to"                 validate:"required,hexaddr"`
	Amount   string       `json:"amount"             validate:"required,bigint"`
	GasPrice *hexutil.Big `json:"gasPrice,omitempty"`
}

// NFTTransfer moves an ERC-721 token or an amount of an ERC-1155 token
// from the owned account.
type NFTTransfer struct {
	Standard NFTStandard  `json:"standard"           validate:"required,oneof=erc721 erc1155"`
	From     string       `json:"from"               validate:"required,hexaddr"`
	Contract string       `json:"contract"           validate:"required,hexaddr"`
	To       string       `json:"to"                 validate:"required,hexaddr"`
	TokenID  string       `json:"tokenId"            validate:"required,bigint"`
	Amount   string       `json:"amount,omitempty"   validate:"omitempty,bigint"`
	GasPrice *hexutil.Big `json:"gasPrice,omitempty"`
}

// SendToken broadcasts an ERC-20 transfer and returns the transaction hash.
func (h *Handler) SendToken(ctx context.Context, t TokenTransfer) (common.Hash, error) {
	p, err := h.tokenTx(t)
	if err != nil {
		return common.Hash{}, err
	}
	return h.SendTransaction(ctx, p)
}

// EstimateTokenGas estimates the gas of an ERC-20 transfer.
func (h *Handler) EstimateTokenGas(ctx context.Context, t TokenTransfer) (uint64, error) {
	p, err := h.tokenTx(t)
	if err != nil {
		return 0, err
	}
	return h.EstimateGas(ctx, p)
}

// SendNFT broadcasts an NFT transfer and returns the transaction hash.
func (h *Handler) SendNFT(ctx context.Context, t NFTTransfer) (common.Hash, error) {
	p, err := h.nftTx(t)
	if err != nil {
		return common.Hash{}, err
	}
	return h.SendTransaction(ctx, p)
}

// EstimateNFTGas estimates the gas of an NFT transfer.
func (h *Handler) EstimateNFTGas(ctx context.Context, t NFTTransfer) (uint64, error) {
	p, err := h.nftTx(t)
	if err != nil {
		return 0, err
	}
	return h.EstimateGas(ctx, p)
}

func (h *Handler) tokenTx(t TokenTransfer) (TxParams, error) {
	if _, err := h.account.own(t.From); err != nil {
		return TxParams{}, err
	}
	if err := payloadValidator.Struct(&t); err != nil {
		return TxParams{}, invalidPayload(err, "token transfer")
	}
	amount, _ := math.ParseBig256(t.Amount)

	data, err := erc20ABI.Pack("transfer", common.HexToAddress(t.To), amount)
	if err != nil {
		return TxParams{}, invalidPayload(err, "token transfer")
	}
	return TxParams{From: t.From, To: t.Contract, Data: data, GasPrice: t.GasPrice}, nil
}

func (h *Handler) nftTx(t NFTTransfer) (TxParams, error) {
	if _, err := h.account.own(t.From); err != nil {
		return TxParams{}, err
	}
	if err := payloadValidator.Struct(&t); err != nil {
		return TxParams{}, invalidPayload(err, "nft transfer")
	}
	from, to := common.HexToAddress(t.From), common.HexToAddress(t.To)
	tokenID, _ := math.ParseBig256(t.TokenID)

	var (
		data []byte
		err  error
	)
	switch t.Standard {
	case ERC1155:
		amount := big.NewInt(1)
		if t.Amount != "" {
			amount, _ = math.ParseBig256(t.Amount)
		}
		data, err = erc1155ABI.Pack("safeTransferFrom", from, to, tokenID, amount, []byte{})
	default:
		data, err = erc721ABI.Pack("transferFrom", from, to, tokenID)
	}
	if err != nil {
		return TxParams{}, invalidPayload(err, "nft transfer")
	}
	return TxParams{From: t.From, To: t.Contract, Data: data, GasPrice: t.GasPrice}, nil
}
