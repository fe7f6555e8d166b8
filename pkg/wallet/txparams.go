package wallet

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-playground/validator/v10"
)

func getValidator() *validator.Validate {
	validate := validator.New()

	// bigint accepts a non-negative decimal or 0x-prefixed hex integer.
	if err := validate.RegisterValidation("bigint", func(fl validator.FieldLevel) bool {
		n, ok := math.ParseBig256(fmt.Sprint(fl.Field()))
		return ok && n.Sign() >= 0
	}); err != nil {
		panic(fmt.Sprintf("failed to register bigint validation: %v", err))
	}

	// hexaddr accepts a 0x or 0X prefixed 20 byte hex address in any case,
	// matching how owned addresses are resolved.
	if err := validate.RegisterValidation("hexaddr", func(fl validator.FieldLevel) bool {
		return isHexAddress(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("failed to register hexaddr validation: %v", err))
	}
	return validate
}

var payloadValidator = getValidator()

func isHexAddress(s string) bool {
	return len(s) == 2+2*common.AddressLength && (s[:2] == "0x" || s[:2] == "0X") && common.IsHexAddress(s)
}

// TxParams is an eth_signTransaction / eth_sendTransaction payload.
// Absent fields stay nil so the send path can tell what to fill in.
type TxParams struct {
	From                 string          `json:"from"                           validate:"required,hexaddr"`
	To                   string          `json:"to,omitempty"                   validate:"omitempty,hexaddr"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Data                 hexutil.Bytes   `json:"data,omitempty"`
	Input                hexutil.Bytes   `json:"input,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasLimit             *hexutil.Uint64 `json:"gasLimit,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
	Type                 *hexutil.Uint64 `json:"type,omitempty"`
}

func (p *TxParams) validate() error {
	if err := payloadValidator.Struct(p); err != nil {
		return invalidPayload(err, "transaction")
	}

	legacyFee := p.GasPrice != nil
	dynamicFee := p.MaxFeePerGas != nil || p.MaxPriorityFeePerGas != nil
	if legacyFee && dynamicFee {
		return invalidPayloadf("gasPrice cannot be combined with maxFeePerGas or maxPriorityFeePerGas")
	}
	if p.Type != nil {
		switch uint64(*p.Type) {
		case types.LegacyTxType:
			if dynamicFee {
				return invalidPayloadf("legacy transaction cannot carry dynamic fee fields")
			}
		case types.DynamicFeeTxType:
			if legacyFee {
				return invalidPayloadf("dynamic fee transaction cannot carry gasPrice")
			}
		default:
			return invalidPayloadf("unsupported transaction type %d", uint64(*p.Type))
		}
	}
	if p.Gas != nil && p.GasLimit != nil && *p.Gas != *p.GasLimit {
		return invalidPayloadf("gas and gasLimit disagree")
	}
	if len(p.Data) > 0 && len(p.Input) > 0 && !bytes.Equal(p.Data, p.Input) {
		return invalidPayloadf("data and input disagree")
	}
	if p.ChainID != nil && p.ChainID.ToInt().Sign() <= 0 {
		return invalidPayloadf("chainId must be positive")
	}
	return nil
}

func (p *TxParams) isDynamic() bool {
	if p.Type != nil {
		return uint64(*p.Type) == types.DynamicFeeTxType
	}
	return p.MaxFeePerGas != nil || p.MaxPriorityFeePerGas != nil
}

func (p *TxParams) from() common.Address { return common.HexToAddress(p.From) }

func (p *TxParams) to() *common.Address {
	if p.To == "" {
		return nil
	}
	to := common.HexToAddress(p.To)
	return &to
}

func (p *TxParams) data() []byte {
	if len(p.Data) > 0 {
		return p.Data
	}
	return p.Input
}

func (p *TxParams) gas() (uint64, bool) {
	switch {
	case p.Gas != nil:
		return uint64(*p.Gas), true
	case p.GasLimit != nil:
		return uint64(*p.GasLimit), true
	}
	return 0, false
}

// build assembles the unsigned transaction. Missing values are zero.
func (p *TxParams) build(chainID *big.Int) *types.Transaction {
	var nonce uint64
	if p.Nonce != nil {
		nonce = uint64(*p.Nonce)
	}
	gas, _ := p.gas()

	if p.isDynamic() {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: bigOrZero(p.MaxPriorityFeePerGas),
			GasFeeCap: bigOrZero(p.MaxFeePerGas),
			Gas:       gas,
			To:        p.to(),
			Value:     bigOrZero(p.Value),
			Data:      p.data(),
		})
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: bigOrZero(p.GasPrice),
		Gas:      gas,
		To:       p.to(),
		Value:    bigOrZero(p.Value),
		Data:     p.data(),
	})
}

func bigOrZero(b *hexutil.Big) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.ToInt())
}
