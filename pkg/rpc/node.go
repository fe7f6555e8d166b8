package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
)

const defaultNodeErrorMessage = "an error occurred while processing the request"

const (
	nodeGroupHandlerPrefix = "group."
	nodeGroupRoot          = "root"
)

const (
	PingMethod = "ping"
	PongResult = "pong"
)

// Node routes JSON-RPC calls to handlers and pushes notifications to clients.
type Node interface {
	Handle(method string, handler Handler)
	Use(middleware Handler)
	NewGroup(name string) HandlerGroup
	// Notify sends a notification to every connection of userID.
	Notify(userID, method string, args ...any)
	// Broadcast sends a notification to every connection.
	Broadcast(method string, args ...any)
}

// HandlerGroup shares middleware between a set of methods. Groups nest.
type HandlerGroup interface {
	Handle(method string, handler Handler)
	Use(middleware Handler)
	NewGroup(name string) HandlerGroup
}

var (
	_ Node         = &WebsocketNode{}
	_ http.Handler = &WebsocketNode{}
	_ HandlerGroup = &WebsocketHandlerGroup{}
)

type WebsocketNodeConfig struct {
	// Logger is required.
	Logger log.Logger

	// Authenticate runs before the upgrade. The returned id becomes the
	// connection's UserID; an error rejects the upgrade with 401.
	Authenticate func(r *http.Request) (userID string, err error)

	OnConnectHandler       func(userID string, send SendNotificationFunc)
	OnDisconnectHandler    func(userID string)
	OnMessageSentHandler   func([]byte)
	OnAuthenticatedHandler func(userID string, send SendNotificationFunc)

	WsUpgraderReadBufferSize  int
	WsUpgraderWriteBufferSize int
	// WsUpgraderCheckOrigin defaults to AllowOrigins with no extra origins,
	// which accepts same-origin browsers and clients that send no Origin.
	WsUpgraderCheckOrigin func(r *http.Request) bool

	WsConnWriteTimeout      time.Duration
	WsConnWriteBufferSize   int
	WsConnProcessBufferSize int
}

// WebsocketNode serves JSON-RPC 2.0 over websocket. Calls on one connection
// are handled in order; connections are independent.
type WebsocketNode struct {
	upgrader websocket.Upgrader
	cfg      WebsocketNodeConfig
	groupId  string
	// handlerChain maps a group id or a method to its handlers.
	handlerChain map[string][]Handler
	// routes maps a method to the ids whose chains it runs, outermost first.
	routes  map[string][]string
	connHub *ConnectionHub
}

func NewWebsocketNode(cfg WebsocketNodeConfig) (*WebsocketNode, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	cfg.Logger = cfg.Logger.WithName("rpc-node")

	if cfg.OnConnectHandler == nil {
		cfg.OnConnectHandler = func(string, SendNotificationFunc) {}
	}
	if cfg.OnDisconnectHandler == nil {
		cfg.OnDisconnectHandler = func(string) {}
	}
	if cfg.OnMessageSentHandler == nil {
		cfg.OnMessageSentHandler = func([]byte) {}
	}
	if cfg.OnAuthenticatedHandler == nil {
		cfg.OnAuthenticatedHandler = func(string, SendNotificationFunc) {}
	}
	if cfg.WsUpgraderReadBufferSize <= 0 {
		cfg.WsUpgraderReadBufferSize = 1024
	}
	if cfg.WsUpgraderWriteBufferSize <= 0 {
		cfg.WsUpgraderWriteBufferSize = 1024
	}
	if cfg.WsUpgraderCheckOrigin == nil {
		cfg.WsUpgraderCheckOrigin = AllowOrigins()
	}

	node := &WebsocketNode{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WsUpgraderReadBufferSize,
			WriteBufferSize: cfg.WsUpgraderWriteBufferSize,
			CheckOrigin:     cfg.WsUpgraderCheckOrigin,
		},
		cfg:          cfg,
		groupId:      nodeGroupHandlerPrefix + nodeGroupRoot,
		handlerChain: make(map[string][]Handler),
		routes:       make(map[string][]string),
		connHub:      NewConnectionHub(),
	}
	node.Handle(PingMethod, node.handlePing)

	return node, nil
}

// AllowOrigins returns an origin check that accepts requests without an
// Origin header, same-origin requests and the given origins. Origins are
// compared case-insensitively in scheme://host[:port] form.
func AllowOrigins(allowed ...string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (wn *WebsocketNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var userID string
	if wn.cfg.Authenticate != nil {
		id, err := wn.cfg.Authenticate(r)
		if err != nil {
			wn.cfg.Logger.Debug("rejected connection", "error", err, "remoteAddr", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID = id
	}

	wsConn, err := wn.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wn.cfg.Logger.Error("failed to upgrade connection to websocket", "error", err)
		return
	}
	defer wsConn.Close()

	connectionID := uuid.NewString()
	conn, err := NewWebsocketConnection(WebsocketConnectionConfig{
		ConnectionID:         connectionID,
		UserID:               userID,
		WebsocketConn:        wsConn,
		WriteTimeout:         wn.cfg.WsConnWriteTimeout,
		WriteBufferSize:      wn.cfg.WsConnWriteBufferSize,
		ProcessBufferSize:    wn.cfg.WsConnProcessBufferSize,
		Logger:               wn.cfg.Logger,
		OnMessageSentHandler: wn.cfg.OnMessageSentHandler,
	})
	if err != nil {
		wn.cfg.Logger.Error("failed to create websocket connection", "error", err, "connectionID", connectionID)
		return
	}
	if err := wn.connHub.Add(conn); err != nil {
		wn.cfg.Logger.Error("failed to add connection to hub", "error", err, "connectionID", connectionID)
		return
	}

	wn.cfg.OnConnectHandler(userID, wn.sendFunc(conn))
	wn.cfg.Logger.Info("websocket connection established", "connectionID", connectionID, "userID", userID)

	defer func() {
		closedUserID := conn.UserID()
		wn.connHub.Remove(connectionID)
		wn.cfg.OnDisconnectHandler(closedUserID)
		wn.cfg.Logger.Info("connection closed", "connectionID", connectionID, "userID", closedUserID)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	wg.Add(2)
	done := func(error) {
		cancel()
		wg.Done()
	}

	go conn.Serve(ctx, done)
	go wn.processRequests(ctx, conn, done)

	wg.Wait()
}

// ConnectionCount returns the number of live connections.
func (wn *WebsocketNode) ConnectionCount() int {
	return wn.connHub.Count()
}

func (wn *WebsocketNode) processRequests(ctx context.Context, conn Connection, done func(error)) {
	defer done(nil)
	storage := NewSafeStorage()

	for {
		var frame []byte
		select {
		case <-ctx.Done():
			return
		case frame = <-conn.RawRequests():
			if len(frame) == 0 {
				return
			}
		}

		frame = bytes.TrimSpace(frame)
		if len(frame) > 0 && frame[0] == '[' {
			wn.sendError(conn, nil, Errorf(CodeInvalidRequest, "batch requests are not supported"))
			continue
		}

		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			wn.cfg.Logger.Debug("invalid message format", "error", err)
			wn.sendError(conn, nil, Errorf(CodeParseError, "parse error"))
			continue
		}
		if err := req.Validate(); err != nil {
			wn.sendError(conn, req.ID, Errorf(CodeInvalidRequest, "invalid request: %v", err))
			continue
		}

		handlers := wn.routeHandlers(req.Method)
		if len(handlers) == 0 {
			wn.sendError(conn, req.ID, Errorf(CodeMethodNotFound, "the method %s does not exist/is not available", req.Method))
			continue
		}

		c := &Context{
			Context:  ctx,
			UserID:   conn.UserID(),
			Request:  req,
			Storage:  storage,
			handlers: handlers,
		}
		c.Next()

		if !req.IsNotification() {
			raw, err := c.GetRawResponse()
			if err != nil {
				wn.cfg.Logger.Error("failed to prepare response", "error", err, "method", req.Method)
				wn.sendError(conn, req.ID, Errorf(CodeInternalError, defaultNodeErrorMessage))
			} else {
				conn.WriteRawResponse(raw)
			}
		}

		if c.UserID != conn.UserID() {
			if err := wn.connHub.Reauthenticate(conn.ConnectionID(), c.UserID); err != nil {
				wn.cfg.Logger.Error("failed to reauthenticate connection", "error", err)
				continue
			}
			wn.cfg.OnAuthenticatedHandler(c.UserID, wn.sendFunc(conn))
		}
	}
}

func (wn *WebsocketNode) routeHandlers(method string) []Handler {
	route, ok := wn.routes[method]
	if !ok {
		return nil
	}

	var handlers []Handler
	for _, id := range route {
		chain, ok := wn.handlerChain[id]
		if !ok {
			continue
		}
		handlers = append(handlers, chain...)
	}
	return handlers
}

func (wn *WebsocketNode) NewGroup(name string) HandlerGroup {
	return &WebsocketHandlerGroup{
		groupId:     nodeGroupHandlerPrefix + name,
		routePrefix: []string{wn.groupId},
		root:        wn,
	}
}

// Handle registers handler for method after the node's global middleware.
// It panics on an empty method or a nil handler.
func (wn *WebsocketNode) Handle(method string, handler Handler) {
	wn.handle(method, handler)
	wn.routes[method] = []string{wn.groupId, method}
}

func (wn *WebsocketNode) handle(method string, handler Handler) {
	if method == "" {
		panic("websocket method cannot be empty")
	}
	if handler == nil {
		panic("websocket handler cannot be nil for method " + method)
	}
	wn.handlerChain[method] = []Handler{handler}
}

// Use adds middleware that runs before every method, in registration order.
func (wn *WebsocketNode) Use(middleware Handler) {
	wn.use(wn.groupId, middleware)
}

func (wn *WebsocketNode) use(groupId string, middleware Handler) {
	if middleware == nil {
		panic("websocket middleware cannot be nil")
	}
	wn.handlerChain[groupId] = append(wn.handlerChain[groupId], middleware)
}

func (wn *WebsocketNode) Notify(userID, method string, args ...any) {
	raw, err := encodeNotification(method, args...)
	if err != nil {
		wn.cfg.Logger.Error("failed to prepare notification", "error", err, "method", method)
		return
	}
	wn.connHub.Publish(userID, raw)
}

func (wn *WebsocketNode) Broadcast(method string, args ...any) {
	raw, err := encodeNotification(method, args...)
	if err != nil {
		wn.cfg.Logger.Error("failed to prepare notification", "error", err, "method", method)
		return
	}
	wn.connHub.Broadcast(raw)
}

func (wn *WebsocketNode) sendFunc(conn Connection) SendNotificationFunc {
	return func(method string, args ...any) {
		raw, err := encodeNotification(method, args...)
		if err != nil {
			wn.cfg.Logger.Error("failed to prepare notification", "error", err, "method", method)
			return
		}
		conn.WriteRawResponse(raw)
	}
}

func (wn *WebsocketNode) sendError(conn Connection, id json.RawMessage, rpcErr *Error) {
	raw, err := json.Marshal(NewErrorResponse(id, rpcErr))
	if err != nil {
		wn.cfg.Logger.Error("failed to prepare error response", "error", err)
		return
	}
	conn.WriteRawResponse(raw)
}

func (wn *WebsocketNode) handlePing(c *Context) {
	c.Next()
	c.Succeed(PongResult)
}

func encodeNotification(method string, args ...any) ([]byte, error) {
	notif, err := NewNotification(method, args...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(notif)
}

// WebsocketHandlerGroup runs global middleware, then the middleware of each
// enclosing group, then its own, then the method handler.
type WebsocketHandlerGroup struct {
	groupId     string
	routePrefix []string
	root        *WebsocketNode
}

func (hg *WebsocketHandlerGroup) NewGroup(name string) HandlerGroup {
	prefix := append(append([]string(nil), hg.routePrefix...), hg.groupId)
	return &WebsocketHandlerGroup{
		groupId:     hg.groupId + "." + name,
		routePrefix: prefix,
		root:        hg.root,
	}
}

func (hg *WebsocketHandlerGroup) Handle(method string, handler Handler) {
	route := append(append([]string(nil), hg.routePrefix...), hg.groupId, method)
	hg.root.routes[method] = route
	hg.root.handle(method, handler)
}

func (hg *WebsocketHandlerGroup) Use(middleware Handler) {
	hg.root.use(hg.groupId, middleware)
}
