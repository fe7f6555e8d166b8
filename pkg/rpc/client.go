package rpc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
)

// ChainChangedHandler receives the new chain id as a 0x quantity.
type ChainChangedHandler func(ctx context.Context, chainID string)

// AccountsChangedHandler receives the current account list.
type AccountsChangedHandler func(ctx context.Context, accounts []string)

// Client is a typed wrapper over a Dialer.
//
//	client := rpc.NewClient(rpc.NewWebsocketDialer(rpc.DefaultWebsocketDialerConfig))
//	if err := client.Start(ctx, "ws://localhost:8000/ws", onClose); err != nil {
//	    return err
//	}
//	sig, err := client.PersonalSign(ctx, "hello", "0xabc...")
type Client struct {
	dialer Dialer
	ids    atomic.Uint64

	mu                sync.RWMutex
	onChainChanged    ChainChangedHandler
	onAccountsChanged AccountsChangedHandler
}

func NewClient(dialer Dialer) *Client {
	return &Client{dialer: dialer}
}

// Start dials url and dispatches notifications until the connection ends.
func (c *Client) Start(ctx context.Context, url string, handleClosure func(err error)) error {
	ctx, cancel := context.WithCancel(ctx)
	closure := func(err error) {
		cancel()
		if handleClosure != nil {
			handleClosure(err)
		}
	}

	if err := c.dialer.Dial(ctx, url, closure); err != nil {
		cancel()
		return err
	}

	go c.listenNotifications(ctx)
	return nil
}

func (c *Client) HandleChainChanged(handler ChainChangedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChainChanged = handler
}

func (c *Client) HandleAccountsChanged(handler AccountsChangedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAccountsChanged = handler
}

func (c *Client) listenNotifications(ctx context.Context) {
	lg := log.FromContext(ctx).WithName("rpc-client")
	notifs := c.dialer.NotificationCh()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifs:
			if !ok {
				return
			}
			c.dispatchNotification(ctx, lg, n)
		}
	}
}

func (c *Client) dispatchNotification(ctx context.Context, lg log.Logger, n *Notification) {
	c.mu.RLock()
	onChain, onAccounts := c.onChainChanged, c.onAccountsChanged
	c.mu.RUnlock()

	switch Event(n.Method) {
	case ChainChangedEvent:
		var chainID string
		if err := n.Params.Translate(0, &chainID); err != nil {
			lg.Warn("malformed notification", "method", n.Method, "error", err)
			return
		}
		if onChain != nil {
			onChain(ctx, chainID)
		}
	case AccountsChangedEvent:
		var accounts []string
		if err := n.Params.Translate(0, &accounts); err != nil {
			lg.Warn("malformed notification", "method", n.Method, "error", err)
			return
		}
		if onAccounts != nil {
			onAccounts(ctx, accounts)
		}
	default:
		lg.Debug("unhandled notification", "method", n.Method)
	}
}

// Call invokes method with positional args and decodes the result into result.
// A nil result discards it.
func (c *Client) Call(ctx context.Context, method Method, result any, args ...any) error {
	params, err := NewParams(args...)
	if err != nil {
		return err
	}
	req := NewRequest(c.ids.Add(1), method.String(), params)

	res, err := c.dialer.Call(ctx, &req)
	if err != nil {
		return err
	}
	if res.Error != nil {
		return res.Error
	}
	if result == nil {
		return nil
	}
	return res.Decode(result)
}

func (c *Client) Ping(ctx context.Context) error {
	var pong string
	if err := c.Call(ctx, Method(PingMethod), &pong); err != nil {
		return err
	}
	if pong != PongResult {
		return Errorf(CodeInternalError, "unexpected ping result %q", pong)
	}
	return nil
}

func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := c.Call(ctx, AccountsMethod, &accounts)
	return accounts, err
}

func (c *Client) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := c.Call(ctx, RequestAccountsMethod, &accounts)
	return accounts, err
}

func (c *Client) ChainID(ctx context.Context) (string, error) {
	return c.callString(ctx, ChainIDMethod)
}

func (c *Client) GetEncryptionPublicKey(ctx context.Context, from string) (string, error) {
	return c.callString(ctx, GetEncryptionPublicKeyMethod, from)
}

// PersonalSign takes the message first, as personal_sign does.
func (c *Client) PersonalSign(ctx context.Context, data, from string) (string, error) {
	return c.callString(ctx, PersonalSignMethod, data, from)
}

func (c *Client) EthSign(ctx context.Context, from, digest string) (string, error) {
	return c.callString(ctx, EthSignMethod, from, digest)
}

// SignTransaction returns the serialized signed transaction.
func (c *Client) SignTransaction(ctx context.Context, tx any) (string, error) {
	return c.callString(ctx, SignTransactionMethod, tx)
}

// SendTransaction returns the transaction hash.
func (c *Client) SendTransaction(ctx context.Context, tx any) (string, error) {
	return c.callString(ctx, SendTransactionMethod, tx)
}

func (c *Client) SignTypedDataV4(ctx context.Context, from, typedData string) (string, error) {
	return c.callString(ctx, SignTypedDataV4Method, from, typedData)
}

func (c *Client) Decrypt(ctx context.Context, ciphertext, from string) (string, error) {
	return c.callString(ctx, DecryptMethod, ciphertext, from)
}

func (c *Client) GetBalance(ctx context.Context) (GetBalanceResponse, error) {
	var res GetBalanceResponse
	err := c.Call(ctx, GetBalanceMethod, &res)
	return res, err
}

func (c *Client) GetAccount(ctx context.Context) (GetAccountResponse, error) {
	var res GetAccountResponse
	err := c.Call(ctx, GetAccountMethod, &res)
	return res, err
}

func (c *Client) SetProvider(ctx context.Context, req SetProviderRequest) (SetProviderResponse, error) {
	var res SetProviderResponse
	err := c.Call(ctx, SetProviderMethod, &res, req)
	return res, err
}

func (c *Client) SendToken(ctx context.Context, transfer any) (string, error) {
	return c.callString(ctx, SendTokenMethod, transfer)
}

func (c *Client) EstimateTokenGas(ctx context.Context, transfer any) (string, error) {
	return c.callString(ctx, EstimateTokenGasMethod, transfer)
}

func (c *Client) SendNFT(ctx context.Context, transfer any) (string, error) {
	return c.callString(ctx, SendNFTMethod, transfer)
}

func (c *Client) EstimateNFTGas(ctx context.Context, transfer any) (string, error) {
	return c.callString(ctx, EstimateNFTGasMethod, transfer)
}

func (c *Client) GetHistory(ctx context.Context, req GetHistoryRequest) (GetHistoryResponse, error) {
	var res GetHistoryResponse
	err := c.Call(ctx, GetHistoryMethod, &res, req)
	return res, err
}

func (c *Client) Authenticate(ctx context.Context, token string) (AuthenticateResponse, error) {
	var res AuthenticateResponse
	err := c.Call(ctx, AuthenticateMethod, &res, AuthenticateRequest{Token: token})
	return res, err
}

func (c *Client) callString(ctx context.Context, method Method, args ...any) (string, error) {
	var s string
	err := c.Call(ctx, method, &s, args...)
	return s, err
}
