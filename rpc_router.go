package main

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
	"github.com/erc7824/nitrolite/walletnode/pkg/wallet"
)

const tracerName = "github.com/erc7824/nitrolite/walletnode"

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// RPCRouter exposes the wallet handler over the websocket node.
type RPCRouter struct {
	Node    *rpc.WebsocketNode
	Config  *Config
	Wallet  *wallet.Handler
	Store   *RPCStore
	Auth    *AuthManager
	Metrics *Metrics

	tracer trace.Tracer
	lg     log.Logger
}

// NewRPCRouter builds the websocket node and registers every method.
// auth may be nil, in which case every connection may call wallet methods.
func NewRPCRouter(
	conf *Config,
	handler *wallet.Handler,
	store *RPCStore,
	auth *AuthManager,
	metrics *Metrics,
	logger log.Logger,
) (*RPCRouter, error) {
	r := &RPCRouter{
		Config:  conf,
		Wallet:  handler,
		Store:   store,
		Auth:    auth,
		Metrics: metrics,
		tracer:  otel.Tracer(tracerName),
		lg:      logger.WithName("rpc-router"),
	}

	nodeConf := rpc.WebsocketNodeConfig{
		Logger:                 logger,
		OnConnectHandler:       r.HandleConnect,
		OnDisconnectHandler:    r.HandleDisconnect,
		OnMessageSentHandler:   r.HandleMessageSent,
		OnAuthenticatedHandler: r.HandleAuthenticated,
		WsUpgraderCheckOrigin:  rpc.AllowOrigins(conf.AllowedOrigins...),
	}
	if auth != nil {
		nodeConf.Authenticate = r.authenticateHandshake
	}

	node, err := rpc.NewWebsocketNode(nodeConf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create websocket node")
	}
	r.Node = node

	r.Node.Use(r.LoggerMiddleware)
	r.Node.Use(r.MetricsMiddleware)
	r.Node.Handle(rpc.ChainIDMethod.String(), r.HandleChainID)
	r.Node.Handle(rpc.AuthenticateMethod.String(), r.HandleAuthenticate)

	walletGroup := r.Node.NewGroup("wallet")
	walletGroup.Use(r.AuthMiddleware)
	walletGroup.Handle(rpc.GetBalanceMethod.String(), r.HandleGetBalance)
	walletGroup.Handle(rpc.GetAccountMethod.String(), r.HandleGetAccount)
	walletGroup.Handle(rpc.GetHistoryMethod.String(), r.HandleGetHistory)

	journalGroup := walletGroup.NewGroup("journal")
	journalGroup.Use(r.JournalMiddleware)
	journalGroup.Handle(rpc.AccountsMethod.String(), r.HandleAccounts)
	journalGroup.Handle(rpc.RequestAccountsMethod.String(), r.HandleRequestAccounts)
	journalGroup.Handle(rpc.GetEncryptionPublicKeyMethod.String(), r.HandleGetEncryptionPublicKey)
	journalGroup.Handle(rpc.PersonalSignMethod.String(), r.HandlePersonalSign)
	journalGroup.Handle(rpc.EthSignMethod.String(), r.HandleEthSign)
	journalGroup.Handle(rpc.SignTransactionMethod.String(), r.HandleSignTransaction)
	journalGroup.Handle(rpc.SendTransactionMethod.String(), r.HandleSendTransaction)
	journalGroup.Handle(rpc.SignTypedDataV4Method.String(), r.HandleSignTypedDataV4)
	journalGroup.Handle(rpc.DecryptMethod.String(), r.HandleDecrypt)
	journalGroup.Handle(rpc.SetProviderMethod.String(), r.HandleSetProvider)
	journalGroup.Handle(rpc.SendTokenMethod.String(), r.HandleSendToken)
	journalGroup.Handle(rpc.EstimateTokenGasMethod.String(), r.HandleEstimateTokenGas)
	journalGroup.Handle(rpc.SendNFTMethod.String(), r.HandleSendNFT)
	journalGroup.Handle(rpc.EstimateNFTGasMethod.String(), r.HandleEstimateNFTGas)

	return r, nil
}

// HandleConnect sends the account list to connections that may use it.
// With auth enabled, anonymous connections get it once they authenticate.
func (r *RPCRouter) HandleConnect(userID string, send rpc.SendNotificationFunc) {
	r.Metrics.ConnectionsTotal.Inc()
	r.Metrics.ConnectedClients.Inc()

	if r.Auth == nil || userID != "" {
		send(rpc.AccountsChangedEvent.String(), r.Wallet.Addresses())
	}
}

func (r *RPCRouter) HandleDisconnect(userID string) {
	r.Metrics.ConnectedClients.Dec()
}

// HandleAuthenticated sends the account list to every connection of userID,
// including the one that just authenticated.
func (r *RPCRouter) HandleAuthenticated(userID string, _ rpc.SendNotificationFunc) {
	r.lg.Info("connection authenticated", "userID", userID)
	r.Node.Notify(userID, rpc.AccountsChangedEvent.String(), r.Wallet.Addresses())
}

func (r *RPCRouter) HandleMessageSent(_ []byte) {
	r.Metrics.MessageSent.Inc()
}

func (r *RPCRouter) LoggerMiddleware(c *rpc.Context) {
	method := c.Request.Method
	ctx, span := r.tracer.Start(c.Context, method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("rpc.method", method)),
	)
	defer span.End()

	logger := r.lg.WithKV("requestID", string(c.Request.ID))
	c.Context = log.SetContextLogger(ctx, logger)
	logger = log.FromContext(c.Context)

	c.Next()

	if c.Failed() {
		span.SetStatus(codes.Error, c.Response.Error.Message)
		logger.Warn("failed to handle RPC request",
			"userID", c.UserID,
			"method", method,
			"code", c.Response.Error.Code,
			"error", c.Response.Error.Message,
		)
		return
	}
	logger.Debug("handled RPC request", "userID", c.UserID, "method", method)
}

func (r *RPCRouter) MetricsMiddleware(c *rpc.Context) {
	r.Metrics.MessageReceived.Inc()

	method := c.Request.Method
	start := time.Now()
	c.Next()

	status := "success"
	if c.Failed() {
		status = "failure"
	}
	r.Metrics.RPCRequests.WithLabelValues(method, status).Inc()
	r.Metrics.RPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// callRecord collects what a handler learned about a call for the journal.
type callRecord struct {
	kind    string
	from    string
	txHash  string
	chainID string
	err     error
}

type callRecordKey struct{}

func callRecordFromContext(ctx context.Context) *callRecord {
	if rec, ok := ctx.Value(callRecordKey{}).(*callRecord); ok {
		return rec
	}
	// Outside the journal group the record is simply dropped.
	return &callRecord{}
}

// JournalMiddleware stores one row per call. Only parameter names are
// recorded, never their values.
func (r *RPCRouter) JournalMiddleware(c *rpc.Context) {
	rec := &callRecord{}
	c.Context = context.WithValue(c.Context, callRecordKey{}, rec)
	start := time.Now()

	c.Next()

	outcome := OutcomeSuccess
	errorKind := ""
	if c.Failed() {
		outcome = OutcomeFailure
		errorKind = journalErrorKind(rec.err, c.Response.Error)
	}

	sender := rec.from
	if !common.IsHexAddress(sender) {
		sender = ""
	}

	record := &RPCRecord{
		Method:     c.Request.Method,
		Kind:       rec.kind,
		Sender:     sender,
		UserID:     c.UserID,
		ParamNames: paramNames(c.Request.Method, c.Request.Params),
		Outcome:    outcome,
		ErrorKind:  errorKind,
		TxHash:     rec.txHash,
		ChainID:    rec.chainID,
		DurationMs: time.Since(start).Milliseconds(),
		Meta:       encodeMeta(map[string]any{"requestId": string(c.Request.ID)}),
	}
	if err := r.Store.Store(c.Context, record); err != nil {
		log.FromContext(c.Context).Error("failed to store RPC record", "error", err)
	}
}

// dispatch runs req on the wallet and fails c on error.
func (r *RPCRouter) dispatch(c *rpc.Context, req wallet.Request) (wallet.Result, bool) {
	rec := callRecordFromContext(c.Context)
	rec.kind = string(req.Op())
	rec.from = req.Sender()

	res, err := r.Wallet.Dispatch(c.Context, req)
	if err != nil {
		r.fail(c, err)
		return wallet.Result{}, false
	}
	return res, true
}

// fail maps err to a client-facing error and keeps the original for the journal.
func (r *RPCRouter) fail(c *rpc.Context, err error) {
	callRecordFromContext(c.Context).err = err

	rpcErr := walletRPCError(err)
	if rpcErr == nil {
		log.FromContext(c.Context).Error("unexpected handler error", "error", err)
		c.Fail(nil, "")
		return
	}
	c.Fail(rpcErr, "")
}

// walletRPCError converts a wallet error to the JSON-RPC error sent to clients.
// It returns nil for errors of unknown kind, which must not reach clients.
func walletRPCError(err error) *rpc.Error {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	switch wallet.KindOf(err) {
	case wallet.KindNoWalletForAddress:
		return rpc.Errorf(rpc.CodeUnauthorized, "no wallet found for the provided address")
	case wallet.KindInvalidPayload:
		return rpc.Errorf(rpc.CodeInvalidParams, "%s", err.Error())
	case wallet.KindDecryptionFailed:
		return rpc.Errorf(rpc.CodeServerError, "decryption failed")
	case wallet.KindNetworkError:
		return networkRPCError(err)
	default:
		return nil
	}
}

// networkRPCError keeps the message and data of an error reported by the
// node so clients see reverts and nonce errors.
func networkRPCError(err error) *rpc.Error {
	var nodeErr gethrpc.Error
	if !errors.As(err, &nodeErr) {
		return rpc.Errorf(rpc.CodeInternalError, "network error")
	}

	res := rpc.Errorf(rpc.CodeInternalError, "network error: %s", nodeErr.Error())
	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		res = res.WithData(dataErr.ErrorData())
	}
	return res
}

func journalErrorKind(err error, rpcErr *rpc.Error) string {
	if kind := wallet.KindOf(err); kind != wallet.KindUnknown {
		return kind.String()
	}
	if rpcErr == nil {
		return ""
	}
	switch rpcErr.Code {
	case rpc.CodeInvalidParams:
		return "invalid_params"
	case rpc.CodeUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

var positionalParamNames = map[string][]string{
	rpc.GetEncryptionPublicKeyMethod.String(): {"from"},
	rpc.PersonalSignMethod.String():           {"data", "from"},
	rpc.EthSignMethod.String():                {"from", "data"},
	rpc.SignTypedDataV4Method.String():        {"from", "typedData"},
	rpc.DecryptMethod.String():                {"ciphertext", "from"},
}

// paramNames lists the names of the call's parameters. Positions without a
// known name contribute the sorted keys of an object, or their index.
func paramNames(method string, params rpc.Params) []string {
	names := positionalParamNames[method]

	var res []string
	for i, raw := range params {
		if i < len(names) {
			res = append(res, names[i])
			continue
		}
		var obj map[string]json.RawMessage
		if len(raw) > 0 && raw[0] == '{' && json.Unmarshal(raw, &obj) == nil {
			res = append(res, slices.Sorted(maps.Keys(obj))...)
			continue
		}
		res = append(res, "param"+strconv.Itoa(i))
	}
	return res
}

// parseParams decodes the first parameter into v and validates it.
func parseParams(params rpc.Params, v any) error {
	if err := params.Object(v); err != nil {
		return err
	}
	if err := payloadValidator.Struct(v); err != nil {
		return rpc.Errorf(rpc.CodeInvalidParams, "invalid parameters: %v", err)
	}
	return nil
}
