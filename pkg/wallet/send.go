package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SendTransaction fills the missing fields of p from the network, signs it
// with the same routine as SignTransaction and broadcasts it.
// The endpoint is captured once, so a concurrent SetEndpoint does not split
// the call across two networks.
func (h *Handler) SendTransaction(ctx context.Context, p TxParams) (common.Hash, error) {
	signer, err := h.account.own(p.From)
	if err != nil {
		return common.Hash{}, err
	}
	if err := p.validate(); err != nil {
		return common.Hash{}, err
	}

	b, err := h.network.acquire()
	if err != nil {
		return common.Hash{}, err
	}
	defer b.release()

	chainID, err := b.loadChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	if p.ChainID != nil && p.ChainID.ToInt().Cmp(chainID) != 0 {
		return common.Hash{}, invalidPayloadf("chainId %s does not match network chain id %s", p.ChainID.ToInt(), chainID)
	}

	filled, err := fillTx(ctx, b.backend, p)
	if err != nil {
		return common.Hash{}, err
	}
	filled.ChainID = (*hexutil.Big)(chainID)

	tx, err := signTx(signer, &filled, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	if err := b.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, networkError(err, "failed to broadcast transaction")
	}

	h.logger.Info("transaction sent", "hash", tx.Hash().Hex(), "chainId", chainID.String(), "nonce", tx.Nonce())
	return tx.Hash(), nil
}

// EstimateGas estimates the gas p would use on the current endpoint.
func (h *Handler) EstimateGas(ctx context.Context, p TxParams) (uint64, error) {
	if _, err := h.account.own(p.From); err != nil {
		return 0, err
	}
	if err := p.validate(); err != nil {
		return 0, err
	}

	b, err := h.network.acquire()
	if err != nil {
		return 0, err
	}
	defer b.release()

	gas, err := b.backend.EstimateGas(ctx, callMsg(&p))
	if err != nil {
		return 0, networkError(err, "failed to estimate gas")
	}
	return gas, nil
}

// fillTx returns a copy of p with nonce, fees and gas set.
func fillTx(ctx context.Context, backend Backend, p TxParams) (TxParams, error) {
	if p.Nonce == nil {
		nonce, err := backend.PendingNonceAt(ctx, p.from())
		if err != nil {
			return p, networkError(err, "failed to fetch nonce")
		}
		p.Nonce = (*hexutil.Uint64)(&nonce)
	}

	if err := fillFees(ctx, backend, &p); err != nil {
		return p, err
	}

	if _, ok := p.gas(); !ok {
		gas, err := backend.EstimateGas(ctx, callMsg(&p))
		if err != nil {
			return p, networkError(err, "failed to estimate gas")
		}
		p.Gas = (*hexutil.Uint64)(&gas)
	}
	return p, nil
}

// fillFees prefers dynamic fees when the head block has a base fee and the
// payload does not ask for a legacy transaction.
func fillFees(ctx context.Context, backend Backend, p *TxParams) error {
	if p.GasPrice != nil || (p.MaxFeePerGas != nil && p.MaxPriorityFeePerGas != nil) {
		return nil
	}

	legacy := p.Type != nil && !p.isDynamic()
	if !legacy {
		head, err := backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return networkError(err, "failed to fetch latest header")
		}
		if head.BaseFee != nil {
			if p.MaxPriorityFeePerGas == nil {
				tip, err := backend.SuggestGasTipCap(ctx)
				if err != nil {
					return networkError(err, "failed to suggest tip")
				}
				p.MaxPriorityFeePerGas = (*hexutil.Big)(tip)
			}
			if p.MaxFeePerGas == nil {
				maxFee := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
				maxFee.Add(maxFee, p.MaxPriorityFeePerGas.ToInt())
				p.MaxFeePerGas = (*hexutil.Big)(maxFee)
			}
			return nil
		}
	}

	price, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return networkError(err, "failed to suggest gas price")
	}
	if p.isDynamic() {
		// Dynamic fee requested on a chain without a base fee.
		if p.MaxPriorityFeePerGas == nil {
			p.MaxPriorityFeePerGas = (*hexutil.Big)(price)
		}
		if p.MaxFeePerGas == nil {
			p.MaxFeePerGas = (*hexutil.Big)(price)
		}
		return nil
	}
	p.GasPrice = (*hexutil.Big)(price)
	return nil
}

func callMsg(p *TxParams) ethereum.CallMsg {
	msg := ethereum.CallMsg{
		From:  p.from(),
		To:    p.to(),
		Value: bigOrZero(p.Value),
		Data:  p.data(),
	}
	if p.GasPrice != nil {
		msg.GasPrice = p.GasPrice.ToInt()
	}
	if p.MaxFeePerGas != nil {
		msg.GasFeeCap = p.MaxFeePerGas.ToInt()
	}
	if p.MaxPriorityFeePerGas != nil {
		msg.GasTipCap = p.MaxPriorityFeePerGas.ToInt()
	}
	return msg
}
