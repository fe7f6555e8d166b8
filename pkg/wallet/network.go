package wallet

import (
	"context"
	"math/big"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
)

// Backend is the subset of the Ethereum JSON-RPC API the wallet uses.
// *ethclient.Client satisfies it.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// Dialer opens a Backend for an endpoint URL.
type Dialer func(ctx context.Context, url string) (Backend, error)

// DialEthereum is the default Dialer.
func DialEthereum(ctx context.Context, url string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// binding is one endpoint. It is never mutated after publication except for
// the cached chain id and the reference count.
type binding struct {
	url     string
	backend Backend
	chainID atomic.Pointer[big.Int]

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

func (b *binding) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.refs++
	return true
}

func (b *binding) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs--
	b.closeIfIdle()
}

func (b *binding) retire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retired = true
	b.closeIfIdle()
}

// closeIfIdle must be called with mu held.
func (b *binding) closeIfIdle() {
	if b.retired && b.refs == 0 && !b.closed {
		b.closed = true
		b.backend.Close()
	}
}

// loadChainID returns the cached chain id, asking the backend once.
func (b *binding) loadChainID(ctx context.Context) (*big.Int, error) {
	if id := b.chainID.Load(); id != nil {
		return new(big.Int).Set(id), nil
	}
	id, err := b.backend.ChainID(ctx)
	if err != nil {
		return nil, networkError(err, "failed to detect chain id")
	}
	b.chainID.CompareAndSwap(nil, id)
	return new(big.Int).Set(b.chainID.Load()), nil
}

// Network holds the current endpoint binding. Operations capture the binding
// when they start, so SetEndpoint only affects calls made after it returns.
type Network struct {
	dial    Dialer
	logger  log.Logger
	swapMu  sync.Mutex
	current atomic.Pointer[binding]
}

// NewNetwork creates a Network without an endpoint. A nil dial uses DialEthereum.
func NewNetwork(dial Dialer, logger log.Logger) *Network {
	if dial == nil {
		dial = DialEthereum
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Network{dial: dial, logger: logger.WithName("network")}
}

// EndpointCheck inspects the chain id of a candidate endpoint before it is
// published.
type EndpointCheck func(chainID *big.Int) error

// ExpectChainID rejects endpoints that do not serve chain id.
func ExpectChainID(id uint64) EndpointCheck {
	return func(chainID *big.Int) error {
		if !chainID.IsUint64() || chainID.Uint64() != id {
			return networkError(errors.Errorf("got %s, want %d", chainID, id), "unexpected chain id")
		}
		return nil
	}
}

// SetEndpoint dials rawURL, reads its chain id once and runs checks against
// it. Only then does the endpoint serve subsequent calls. On any error the
// current endpoint is left untouched. The previous backend is closed once
// its in-flight calls finish.
func (n *Network) SetEndpoint(ctx context.Context, rawURL string, checks ...EndpointCheck) (*big.Int, error) {
	b, err := n.prepare(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	id, err := b.backend.ChainID(ctx)
	if err != nil {
		b.backend.Close()
		return nil, networkError(err, "failed to detect chain id")
	}
	for _, check := range checks {
		if err := check(id); err != nil {
			b.backend.Close()
			return nil, err
		}
	}
	b.chainID.Store(id)

	n.publish(b)
	return new(big.Int).Set(id), nil
}

// attach binds rawURL without contacting the node. The chain id is fetched
// by the first call that needs it.
func (n *Network) attach(ctx context.Context, rawURL string) error {
	b, err := n.prepare(ctx, rawURL)
	if err != nil {
		return err
	}
	n.publish(b)
	return nil
}

func (n *Network) prepare(ctx context.Context, rawURL string) (*binding, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, invalidPayload(err, "endpoint url")
	}
	backend, err := n.dial(ctx, rawURL)
	if err != nil {
		return nil, networkError(err, "failed to dial endpoint")
	}
	return &binding{url: rawURL, backend: backend}, nil
}

func (n *Network) publish(b *binding) {
	n.swapMu.Lock()
	old := n.current.Swap(b)
	n.swapMu.Unlock()

	if old != nil {
		old.retire()
	}
	n.logger.Info("endpoint set", "endpoint", RedactURL(b.url))
}

// Endpoint returns the current endpoint URL, or "" when none is set.
func (n *Network) Endpoint() string {
	if b := n.current.Load(); b != nil {
		return b.url
	}
	return ""
}

// ChainID returns the chain id of the current endpoint.
func (n *Network) ChainID(ctx context.Context) (*big.Int, error) {
	b, err := n.acquire()
	if err != nil {
		return nil, err
	}
	defer b.release()
	return b.loadChainID(ctx)
}

// Close retires the current endpoint.
func (n *Network) Close() {
	n.swapMu.Lock()
	old := n.current.Swap(nil)
	n.swapMu.Unlock()
	if old != nil {
		old.retire()
	}
}

// acquire pins the current binding. Callers must release it.
func (n *Network) acquire() (*binding, error) {
	for {
		b := n.current.Load()
		if b == nil {
			return nil, &Error{Kind: KindNetworkError, cause: errors.New("no endpoint configured")}
		}
		if b.acquire() {
			return b, nil
		}
		// Closed between Load and acquire; a newer binding is already published.
	}
}

// RedactURL strips credentials, path and query, which often carry API keys.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "invalid-url"
	}
	return u.Scheme + "://" + u.Host
}
