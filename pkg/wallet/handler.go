package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
)

// Config configures a Handler.
type Config struct {
	// PrivateKey is the hex secret of the wallet key, with or without 0x.
	PrivateKey string
	// RPCURL is the initial endpoint. Empty leaves the handler offline until SetEndpoint.
	RPCURL string
	// SignChainID is used by SignTransaction when the payload has no chainId.
	// When both are missing the request is rejected, so the handler never
	// produces a transaction without replay protection.
	SignChainID *big.Int
	// Dialer opens endpoints. Defaults to DialEthereum.
	Dialer Dialer
	Logger log.Logger
}

// Handler serves every wallet operation for a single key.
// It is safe for concurrent use.
type Handler struct {
	account     *Account
	network     *Network
	signChainID *big.Int
	logger      log.Logger
}

// NewHandler builds the handler and dials cfg.RPCURL when it is set.
func NewHandler(ctx context.Context, cfg Config) (*Handler, error) {
	account, err := NewAccount(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if cfg.SignChainID != nil && cfg.SignChainID.Sign() <= 0 {
		return nil, invalidPayloadf("sign chain id must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	logger = logger.WithName("wallet")

	h := &Handler{
		account: account,
		network: NewNetwork(cfg.Dialer, logger),
		logger:  logger,
	}
	if cfg.SignChainID != nil {
		h.signChainID = new(big.Int).Set(cfg.SignChainID)
	}

	if cfg.RPCURL != "" {
		if err := h.network.attach(ctx, cfg.RPCURL); err != nil {
			return nil, err
		}
	}
	logger.Info("wallet ready", "address", account.Address().Hex())
	return h, nil
}

// Address returns the owned address.
func (h *Handler) Address() common.Address { return h.account.Address() }

// Addresses returns the owned address as a singleton list.
func (h *Handler) Addresses() []string { return h.account.Addresses() }

// Account returns the ownership resolver.
func (h *Handler) Account() *Account { return h.account }

// Endpoint returns the current endpoint URL.
func (h *Handler) Endpoint() string { return h.network.Endpoint() }

// SetEndpoint switches the endpoint used by later network calls and returns
// the chain id it reports. A failed switch keeps the current endpoint.
func (h *Handler) SetEndpoint(ctx context.Context, url string, checks ...EndpointCheck) (*big.Int, error) {
	return h.network.SetEndpoint(ctx, url, checks...)
}

// ChainID returns the chain id of the current endpoint, cached per endpoint.
func (h *Handler) ChainID(ctx context.Context) (*big.Int, error) {
	return h.network.ChainID(ctx)
}

// Balance returns the wei balance of the owned address at the latest block.
func (h *Handler) Balance(ctx context.Context) (*big.Int, error) {
	b, err := h.network.acquire()
	if err != nil {
		return nil, err
	}
	defer b.release()

	balance, err := b.backend.BalanceAt(ctx, h.account.Address(), nil)
	if err != nil {
		return nil, networkError(err, "failed to fetch balance")
	}
	return balance, nil
}

// Close releases the endpoint.
func (h *Handler) Close() {
	h.network.Close()
}
