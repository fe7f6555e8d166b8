package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
)

// Dialer is the client side of a node connection.
type Dialer interface {
	// Dial connects to url. handleClosure is called once when the connection ends.
	Dial(ctx context.Context, url string, handleClosure func(err error)) error
	IsConnected() bool
	// Call sends req and waits for the response with the same id.
	Call(ctx context.Context, req *Request) (*Response, error)
	// NotificationCh yields server notifications such as chainChanged.
	NotificationCh() <-chan *Notification
}

type WebsocketDialerConfig struct {
	HandshakeTimeout time.Duration
	// PingInterval is how often the dialer checks liveness with a ping call.
	// Zero disables pinging.
	PingInterval time.Duration
	// Header is sent with the handshake, e.g. an Authorization bearer token.
	Header http.Header
	// NotificationChanSize bounds buffered notifications; extra ones are dropped.
	NotificationChanSize int
}

var DefaultWebsocketDialerConfig = WebsocketDialerConfig{
	HandshakeTimeout:     5 * time.Second,
	PingInterval:         15 * time.Second,
	NotificationChanSize: 100,
}

type dialCtx struct {
	ctx  context.Context
	conn *websocket.Conn
	lg   log.Logger
}

// WebsocketDialer is safe for concurrent Calls.
type WebsocketDialer struct {
	cfg    WebsocketDialerConfig
	nextID atomic.Uint64

	mu      sync.RWMutex
	dialCtx *dialCtx
	notifCh chan *Notification
	// pending maps a request id, as its JSON text, to the caller waiting for it.
	pending map[string]chan *Response

	writeMu sync.Mutex
}

var _ Dialer = (*WebsocketDialer)(nil)

func NewWebsocketDialer(cfg WebsocketDialerConfig) *WebsocketDialer {
	if cfg.NotificationChanSize <= 0 {
		cfg.NotificationChanSize = DefaultWebsocketDialerConfig.NotificationChanSize
	}
	return &WebsocketDialer{
		cfg:     cfg,
		notifCh: make(chan *Notification, cfg.NotificationChanSize),
		pending: make(map[string]chan *Response),
	}
}

// NextID returns a fresh request id for this dialer.
func (d *WebsocketDialer) NextID() uint64 {
	return d.nextID.Add(1)
}

func (d *WebsocketDialer) Dial(parentCtx context.Context, url string, handleClosure func(err error)) error {
	if d.IsConnected() {
		return ErrAlreadyConnected
	}

	dialer := websocket.Dialer{HandshakeTimeout: d.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(parentCtx, url, d.cfg.Header)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDialingWebsocket, err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	workers := 2
	if d.cfg.PingInterval > 0 {
		workers++
	}

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

	d.mu.Lock()
	d.dialCtx = &dialCtx{ctx: ctx, conn: conn, lg: log.FromContext(parentCtx).WithName("ws-dialer")}
	d.notifCh = make(chan *Notification, d.cfg.NotificationChanSize)
	d.mu.Unlock()

	wg.Add(workers)
	go d.closeOnDone(ctx, done)
	go d.readMessages(ctx, done)
	if d.cfg.PingInterval > 0 {
		go d.pingPeriodically(ctx, done)
	}

	go func() {
		wg.Wait()
		errMu.Lock()
		defer errMu.Unlock()
		handleClosure(firstErr)
	}()

	return nil
}

func (d *WebsocketDialer) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dialCtx != nil && d.dialCtx.ctx.Err() == nil
}

func (d *WebsocketDialer) NotificationCh() <-chan *Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.notifCh
}

func (d *WebsocketDialer) Call(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if len(req.ID) == 0 {
		req.ID = json.RawMessage(strconv.FormatUint(d.NextID(), 10))
	}
	key := string(req.ID)

	d.mu.Lock()
	if d.dialCtx == nil || d.dialCtx.ctx.Err() != nil {
		d.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn, connCtx := d.dialCtx.conn, d.dialCtx.ctx
	sink := make(chan *Response, 1)
	d.pending[key] = sink
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
	}()

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshalingRequest, err)
	}

	d.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, raw)
	d.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendingRequest, err)
	}

	select {
	case <-ctx.Done():
	case <-connCtx.Done():
	case res, ok := <-sink:
		if ok && res != nil {
			return res, nil
		}
	}
	return nil, fmt.Errorf("%w for request %s", ErrNoResponse, key)
}

func (d *WebsocketDialer) closeOnDone(ctx context.Context, done func(error)) {
	<-ctx.Done()

	d.mu.Lock()
	conn := d.dialCtx.conn
	for key, sink := range d.pending {
		close(sink)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	done(conn.Close())
}

func (d *WebsocketDialer) readMessages(ctx context.Context, done func(error)) {
	d.mu.RLock()
	conn, lg, notifCh := d.dialCtx.conn, d.dialCtx.lg, d.notifCh
	d.mu.RUnlock()

	for {
		_, frame, err := conn.ReadMessage()
		switch {
		case ctx.Err() != nil:
			done(nil)
			return
		case isNetError(err):
			lg.Error("websocket connection timeout", "error", err)
			done(fmt.Errorf("%w: %w", ErrConnectionTimeout, err))
			return
		case err != nil:
			lg.Error("websocket read error", "error", err)
			done(fmt.Errorf("%w: %w", ErrReadingMessage, err))
			return
		}

		var msg envelope
		if err := json.Unmarshal(frame, &msg); err != nil {
			lg.Warn("malformed message", "error", err)
			continue
		}

		if msg.isNotification() {
			select {
			case notifCh <- msg.notification():
			default:
				lg.Warn("notification channel full, dropping message", "method", msg.Method)
			}
			continue
		}

		// The send happens under the lock so closeOnDone cannot close the sink mid-send.
		d.mu.RLock()
		sink, ok := d.pending[string(msg.ID)]
		if ok {
			select {
			case sink <- msg.response():
			default:
			}
		}
		d.mu.RUnlock()
		if !ok {
			lg.Debug("response for unknown request", "id", string(msg.ID))
		}
	}
}

func (d *WebsocketDialer) pingPeriodically(ctx context.Context, done func(error)) {
	d.mu.RLock()
	lg := d.dialCtx.lg
	d.mu.RUnlock()

	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			done(nil)
			return
		case <-ticker.C:
			req := NewRequest(d.NextID(), PingMethod, nil)
			res, err := d.Call(ctx, &req)
			if err != nil {
				lg.Error("error sending ping", "error", err)
				done(fmt.Errorf("%w: %w", ErrSendingPing, err))
				return
			}
			var pong string
			if err := res.Decode(&pong); err != nil || pong != PongResult {
				lg.Warn("unexpected response to ping", "error", err)
			}
		}
	}
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
