package wallet

import (
	"context"
)

// Dispatch routes req to its operation. Errors are returned unchanged.
func (h *Handler) Dispatch(ctx context.Context, req Request) (Result, error) {
	switch r := req.(type) {
	case GetAccounts, RequestAccounts:
		return Result{Accounts: h.account.Addresses()}, nil
	case EncryptionPublicKey:
		return value(h.EncryptionPublicKey(r.From))
	case PersonalMessage:
		return value(h.PersonalSign(r.From, r.Data))
	case EthSignMessage:
		return value(h.EthSign(r.From, r.Data))
	case SignTransaction:
		return value(h.SignTransaction(r.Tx))
	case Transaction:
		hash, err := h.SendTransaction(ctx, r.Tx)
		if err != nil {
			return Result{}, err
		}
		return Result{Value: hash.Hex()}, nil
	case TypedMessageV4:
		return value(h.SignTypedDataV4(r.From, r.Data))
	case DecryptMessage:
		return value(h.Decrypt(r.Data, r.From))
	default:
		return Result{}, invalidPayloadf("unsupported request %T", req)
	}
}

func value(v string, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v}, nil
}
