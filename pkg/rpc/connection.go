package rpc

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
)

const (
	defaultWriteTimeout      = 5 * time.Second
	defaultWriteBufferSize   = 10
	defaultProcessBufferSize = 10
)

// Connection is one client session as seen by the node.
type Connection interface {
	ConnectionID() string
	UserID() string
	SetUserID(userID string)
	// RawRequests yields inbound frames. It is closed when reading stops.
	RawRequests() <-chan []byte
	// WriteRawResponse queues a frame. It returns false and schedules the
	// connection for closing when the queue stays full past the write timeout.
	WriteRawResponse(message []byte) bool
	// Serve runs the read and write loops until the connection ends, then
	// calls handleClosure once with the first error seen.
	Serve(parentCtx context.Context, handleClosure func(error))
}

// GorillaWsConnectionAdapter is the part of *websocket.Conn the connection uses.
type GorillaWsConnectionAdapter interface {
	ReadMessage() (messageType int, p []byte, err error)
	NextWriter(messageType int) (io.WriteCloser, error)
	Close() error
}

type WebsocketConnectionConfig struct {
	ConnectionID  string
	UserID        string
	WebsocketConn GorillaWsConnectionAdapter

	WriteTimeout         time.Duration
	WriteBufferSize      int
	ProcessBufferSize    int
	Logger               log.Logger
	OnMessageSentHandler func([]byte)
}

// WebsocketConnection moves frames between a websocket and two queues.
type WebsocketConnection struct {
	id           string
	ws           GorillaWsConnectionAdapter
	writeTimeout time.Duration
	logger       log.Logger
	onSent       func([]byte)

	outbound chan []byte
	inbound  chan []byte
	closeReq chan struct{}

	mu      sync.RWMutex
	userID  string
	serving bool
}

func NewWebsocketConnection(cfg WebsocketConnectionConfig) (*WebsocketConnection, error) {
	if cfg.ConnectionID == "" {
		return nil, errors.New("connection ID cannot be empty")
	}
	if cfg.WebsocketConn == nil {
		return nil, errors.New("websocket connection cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoopLogger()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = defaultWriteBufferSize
	}
	if cfg.ProcessBufferSize <= 0 {
		cfg.ProcessBufferSize = defaultProcessBufferSize
	}
	if cfg.OnMessageSentHandler == nil {
		cfg.OnMessageSentHandler = func([]byte) {}
	}

	return &WebsocketConnection{
		id:           cfg.ConnectionID,
		ws:           cfg.WebsocketConn,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger.WithKV("connectionID", cfg.ConnectionID),
		onSent:       cfg.OnMessageSentHandler,
		outbound:     make(chan []byte, cfg.WriteBufferSize),
		inbound:      make(chan []byte, cfg.ProcessBufferSize),
		closeReq:     make(chan struct{}, 1),
		userID:       cfg.UserID,
	}, nil
}

func (conn *WebsocketConnection) ConnectionID() string { return conn.id }

func (conn *WebsocketConnection) UserID() string {
	conn.mu.RLock()
	defer conn.mu.RUnlock()
	return conn.userID
}

func (conn *WebsocketConnection) SetUserID(userID string) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.userID = userID
}

func (conn *WebsocketConnection) RawRequests() <-chan []byte { return conn.inbound }

func (conn *WebsocketConnection) Serve(parentCtx context.Context, handleClosure func(error)) {
	conn.mu.Lock()
	if conn.serving {
		conn.mu.Unlock()
		handleClosure(nil)
		return
	}
	conn.serving = true
	conn.mu.Unlock()

	ctx, cancel := context.WithCancel(parentCtx)
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	done := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		cancel()
		wg.Done()
	}

	wg.Add(3)
	go conn.readLoop(ctx, done)
	go conn.writeLoop(ctx, done)
	go conn.watchClose(ctx, done)

	go func() {
		wg.Wait()
		errMu.Lock()
		defer errMu.Unlock()
		handleClosure(firstErr)
	}()
}

func (conn *WebsocketConnection) WriteRawResponse(message []byte) bool {
	timer := time.NewTimer(conn.writeTimeout)
	defer timer.Stop()

	select {
	case conn.outbound <- message:
		return true
	case <-timer.C:
		select {
		case conn.closeReq <- struct{}{}:
		default:
		}
		return false
	}
}

func (conn *WebsocketConnection) readLoop(ctx context.Context, done func(error)) {
	defer close(conn.inbound)

	for {
		_, frame, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				conn.logger.Warn("websocket closed unexpectedly", "error", err)
				done(err)
				return
			}
			done(nil)
			return
		}
		if len(frame) == 0 {
			continue
		}
		select {
		case conn.inbound <- frame:
		case <-ctx.Done():
			done(nil)
			return
		}
	}
}

func (conn *WebsocketConnection) writeLoop(ctx context.Context, done func(error)) {
	defer done(nil)

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-conn.outbound:
			if len(frame) == 0 {
				continue
			}
			if err := conn.writeFrame(frame); err != nil {
				conn.logger.Error("failed to write frame", "error", err)
				continue
			}
			conn.onSent(frame)
		}
	}
}

func (conn *WebsocketConnection) writeFrame(frame []byte) error {
	w, err := conn.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return errors.Wrap(err, "failed to get writer")
	}
	if _, err := w.Write(frame); err != nil {
		w.Close()
		return errors.Wrap(err, "failed to write")
	}
	return errors.Wrap(w.Close(), "failed to flush")
}

func (conn *WebsocketConnection) watchClose(ctx context.Context, done func(error)) {
	defer done(nil)

	select {
	case <-ctx.Done():
	case <-conn.closeReq:
		conn.logger.Warn("closing slow connection")
	}

	// Unblocks the pending read.
	if err := conn.ws.Close(); err != nil {
		conn.logger.Debug("failed to close websocket", "error", err)
	}
}
