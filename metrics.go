package main

import (
	"context"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
)

const balanceCallTimeout = 10 * time.Second

// Metrics contains all Prometheus metrics for the application
type Metrics struct {
	// WebSocket connection metrics
	ConnectedClients prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	MessageReceived  prometheus.Counter
	MessageSent      prometheus.Counter

	// Authentication metrics
	AuthAttempts *prometheus.CounterVec

	// RPC method metrics
	RPCRequests        *prometheus.CounterVec
	RPCRequestDuration *prometheus.HistogramVec

	// Wallet metrics
	WalletBalance *prometheus.GaugeVec
	EndpointSwaps prometheus.Counter
}

// NewMetrics initializes and registers Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletnode_connected_clients",
			Help: "The current number of connected clients",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletnode_connections_total",
			Help: "The total number of WebSocket connections made since server start",
		}),
		MessageReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletnode_ws_messages_received_total",
			Help: "The total number of WebSocket messages received",
		}),
		MessageSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletnode_ws_messages_sent_total",
			Help: "The total number of WebSocket messages sent",
		}),
		AuthAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletnode_auth_attempts_total",
				Help: "The total number of authentication attempts",
			},
			[]string{"status"},
		),
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletnode_rpc_requests_total",
				Help: "The total number of RPC requests by method",
			},
			[]string{"method", "status"},
		),
		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "walletnode_rpc_request_duration_seconds",
				Help:    "RPC request handling time by method",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		WalletBalance: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "walletnode_wallet_balance",
				Help: "Native balance of the wallet account",
			},
			[]string{"address", "chainID", "symbol"},
		),
		EndpointSwaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletnode_endpoint_swaps_total",
			Help: "The total number of RPC endpoint changes",
		}),
	}
}

// BalanceSource is what the balance poller reads.
type BalanceSource interface {
	Balance(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// RecordMetricsPeriodically polls the wallet balance until ctx is done.
func (m *Metrics) RecordMetricsPeriodically(ctx context.Context, source BalanceSource, address string, networks Networks, interval time.Duration, logger log.Logger) {
	logger = logger.WithName("metrics")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateBalanceMetrics(log.SetContextLogger(ctx, logger), source, address, networks)
		}
	}
}

// UpdateBalanceMetrics sets the balance gauge from a single poll.
func (m *Metrics) UpdateBalanceMetrics(ctx context.Context, source BalanceSource, address string, networks Networks) {
	logger := log.FromContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, balanceCallTimeout)
	defer cancel()

	chainID, err := source.ChainID(ctx)
	if err != nil {
		logger.Warn("failed to get chain id", "error", err)
		return
	}
	balance, err := source.Balance(ctx)
	if err != nil {
		logger.Warn("failed to get wallet balance", "error", err)
		return
	}

	symbol := defaultNativeSymbol
	if nw, ok := networks.ByChainID(chainID); ok {
		symbol = nw.NativeSymbol
	}
	m.WalletBalance.WithLabelValues(address, chainID.String(), symbol).Set(weiToEther(balance).InexactFloat64())
}

// weiToEther converts a wei amount to a decimal with 18 places.
func weiToEther(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -18)
}
