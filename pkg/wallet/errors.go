package wallet

import (
	"github.com/pkg/errors"
)

// Kind classifies a wallet failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNoWalletForAddress
	KindInvalidPayload
	KindDecryptionFailed
	KindNetworkError
)

func (k Kind) String() string {
	switch k {
	case KindNoWalletForAddress:
		return "no_wallet_for_address"
	case KindInvalidPayload:
		return "invalid_payload"
	case KindDecryptionFailed:
		return "decryption_failed"
	case KindNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// Error is returned by every wallet operation. Messages never carry key material.
type Error struct {
	Kind  Kind
	cause error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNoWalletForAddress = &Error{Kind: KindNoWalletForAddress}
	ErrInvalidPayload     = &Error{Kind: KindInvalidPayload}
	ErrDecryptionFailed   = &Error{Kind: KindDecryptionFailed}
	ErrNetwork            = &Error{Kind: KindNetworkError}
)

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindNoWalletForAddress:
		msg = "no wallet found for the provided address"
	case KindInvalidPayload:
		msg = "invalid payload"
	case KindDecryptionFailed:
		msg = "decryption failed"
	case KindNetworkError:
		msg = "network error"
	default:
		msg = "wallet error"
	}
	if e.cause == nil {
		return msg
	}
	return msg + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.cause == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindUnknown
}

func noWallet(address string) error {
	return &Error{Kind: KindNoWalletForAddress, cause: errors.Errorf("address %q", address)}
}

func invalidPayload(cause error, msg string) error {
	if cause == nil {
		return &Error{Kind: KindInvalidPayload, cause: errors.New(msg)}
	}
	return &Error{Kind: KindInvalidPayload, cause: errors.Wrap(cause, msg)}
}

func invalidPayloadf(format string, args ...any) error {
	return &Error{Kind: KindInvalidPayload, cause: errors.Errorf(format, args...)}
}

func decryptionFailed(cause error) error {
	return &Error{Kind: KindDecryptionFailed, cause: cause}
}

func networkError(cause error, msg string) error {
	return &Error{Kind: KindNetworkError, cause: errors.Wrap(cause, msg)}
}
