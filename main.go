package main

import (
	"context"
	"embed"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
	"github.com/erc7824/nitrolite/walletnode/pkg/wallet"
)

//go:embed config/migrations/*/*.sql
var embedMigrations embed.FS

const (
	rpcListenEndpoint = "/ws"
	metricsEndpoint   = "/metrics"
	shutdownTimeout   = 5 * time.Second
)

func main() {
	logger := newLogger()

	app := &cli.App{
		Name:  "walletnode",
		Usage: "Serve a single-key Ethereum wallet over JSON-RPC",
		Description: `walletnode holds one private key and serves the EIP-1193 wallet methods
(accounts, signing, typed data, decryption and transactions) over a websocket.

Configuration is read from the environment and from the .env and networks.yaml
files in WALLETNODE_CONFIG_DIR_PATH.`,
		Action: func(c *cli.Context) error {
			return serveCommand(c, logger)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the websocket and metrics servers",
				Action: func(c *cli.Context) error {
					return serveCommand(c, logger)
				},
			},
			{
				Name:  "address",
				Usage: "Print the address of the configured key",
				Action: func(c *cli.Context) error {
					return addressCommand(c, logger)
				},
			},
			{
				Name:  "token",
				Usage: "Issue a bearer token for the websocket endpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "subject",
						Usage:    "Identity the token is issued to",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Token lifetime (default: WALLETNODE_AUTH_TOKEN_TTL)",
					},
				},
				Action: func(c *cli.Context) error {
					return tokenCommand(c, logger)
				},
			},
			{
				Name:  "history",
				Usage: "Print the request journal",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "method",
						Usage: "Only show calls of this method",
					},
					&cli.StringFlag{
						Name:  "outcome",
						Usage: "Only show calls with this outcome (success or failure)",
					},
					&cli.UintFlag{
						Name:  "limit",
						Usage: "Number of entries to show",
						Value: DefaultLimit,
					},
					&cli.UintFlag{
						Name:  "offset",
						Usage: "Number of entries to skip",
					},
				},
				Action: func(c *cli.Context) error {
					return historyCommand(c, logger)
				},
			},
			{
				Name:      "console",
				Usage:     "Open an interactive console against a running node",
				ArgsUsage: "<ws-url>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "token",
						Usage:   "Bearer token for nodes with auth enabled",
						EnvVars: []string{"WALLETNODE_TOKEN"},
					},
				},
				Action: consoleCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal("command failed", "error", err)
	}
}

func newLogger() log.Logger {
	conf, err := LoadLogConfig()
	if err != nil {
		conf = log.Config{Format: "console", Level: log.LevelInfo, Output: "stderr"}
	}
	log.SetupSubsystems(conf)
	return log.NewZapLogger(conf).WithName("root")
}

func serveCommand(c *cli.Context, logger log.Logger) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := LoadConfig(logger)
	if err != nil {
		return err
	}

	db, err := ConnectToDB(config.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to setup database: %w", err)
	}

	if config.Network != "" && config.RPCURL != "" {
		network, _ := config.Networks().Lookup(config.Network)
		if err := checkChainID(ctx, wallet.DialEthereum, config.RPCURL, network.ID); err != nil {
			return fmt.Errorf("endpoint does not serve network %s: %w", network.Name, err)
		}
	}

	handler, err := wallet.NewHandler(ctx, wallet.Config{
		PrivateKey:  config.PrivateKey,
		RPCURL:      config.RPCURL,
		SignChainID: config.SignChainIDBig(),
		Dialer:      wallet.DialEthereum,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise wallet: %w", err)
	}
	defer handler.Close()

	var authManager *AuthManager
	if config.Auth.Enabled() {
		authManager, err = NewAuthManager(config.Auth.Secret, config.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("failed to initialize auth manager: %w", err)
		}
	}

	metrics := NewMetrics()
	router, err := NewRPCRouter(config, handler, NewRPCStore(db), authManager, metrics, logger)
	if err != nil {
		return err
	}

	rpcMux := http.NewServeMux()
	rpcMux.Handle(rpcListenEndpoint, router.Node)
	rpcServer := &http.Server{
		Addr:    config.ListenAddr,
		Handler: rpcMux,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle(metricsEndpoint, promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    config.MetricsAddr,
		Handler: metricsMux,
	}

	// Start metrics monitoring
	go metrics.RecordMetricsPeriodically(ctx, handler, handler.Address().Hex(), config.Networks(), config.BalancePollInterval, logger)

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", config.MetricsAddr, "endpoint", metricsEndpoint)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("RPC server available", "listenAddr", config.ListenAddr, "endpoint", rpcListenEndpoint)
		if err := rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("RPC server failure: %w", err)
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down RPC server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func addressCommand(c *cli.Context, logger log.Logger) error {
	config, err := LoadConfig(logger)
	if err != nil {
		return err
	}
	account, err := wallet.NewAccount(config.PrivateKey)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, account.Address().Hex())
	return nil
}

func tokenCommand(c *cli.Context, logger log.Logger) error {
	conf, err := LoadAuthConfig(logger)
	if err != nil {
		return err
	}
	authManager, err := NewAuthManager(conf.Secret, conf.TokenTTL)
	if err != nil {
		return err
	}

	claims, token, err := authManager.GenerateJWT(c.String("subject"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	logger.Info("token issued", "subject", claims.Subject, "expiresAt", claims.ExpiresAt.Time)

	fmt.Fprintln(c.App.Writer, token)
	return nil
}

func historyCommand(c *cli.Context, logger log.Logger) error {
	loadDotEnv(logger)
	dbConf, err := LoadDatabaseConfig()
	if err != nil {
		return err
	}
	db, err := ConnectToDB(dbConf, logger)
	if err != nil {
		return fmt.Errorf("failed to setup database: %w", err)
	}

	filter := HistoryFilter{Method: c.String("method"), Outcome: c.String("outcome")}
	options := &rpc.ListOptions{
		Offset: uint32(c.Uint("offset")),
		Limit:  uint32(c.Uint("limit")),
	}
	records, err := NewRPCStore(db).List(c.Context, filter, options)
	if err != nil {
		return err
	}

	renderHistory(c.App.Writer, records)
	return nil
}

func renderHistory(out io.Writer, records []RPCRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Time", "Method", "Kind", "From", "Outcome", "Error", "Tx Hash", "Duration"})
	t.AppendSeparator()

	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.CreatedAt.Format(time.RFC3339),
			rec.Method,
			rec.Kind,
			rec.Sender,
			rec.Outcome,
			rec.ErrorKind,
			rec.TxHash,
			fmt.Sprintf("%dms", rec.DurationMs),
		})
	}
	t.Render()
}
