package rpc_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
)

func TestNewWebsocketConnection(t *testing.T) {
	t.Parallel()

	cfg := rpc.WebsocketConnectionConfig{}
	_, err := rpc.NewWebsocketConnection(cfg)
	require.EqualError(t, err, "connection ID cannot be empty")

	cfg.ConnectionID = "conn1"
	_, err = rpc.NewWebsocketConnection(cfg)
	require.EqualError(t, err, "websocket connection cannot be nil")

	cfg.WebsocketConn = &websocket.Conn{}
	conn, err := rpc.NewWebsocketConnection(cfg)
	require.NoError(t, err)
	require.Equal(t, "conn1", conn.ConnectionID())
	require.Empty(t, conn.UserID())
	require.Equal(t, 10, cap(conn.RawRequests()))

	cfg.UserID = "0xabc"
	cfg.ProcessBufferSize = 20
	conn, err = rpc.NewWebsocketConnection(cfg)
	require.NoError(t, err)
	require.Equal(t, "0xabc", conn.UserID())
	require.Equal(t, 20, cap(conn.RawRequests()))

	conn.SetUserID("0xdef")
	require.Equal(t, "0xdef", conn.UserID())
}

func TestWebsocketConnection_Serve(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ws := newGorillaWsConnMock(ctx)

	conn, err := rpc.NewWebsocketConnection(rpc.WebsocketConnectionConfig{
		ConnectionID:  "conn1",
		WebsocketConn: ws,
	})
	require.NoError(t, err)

	closed := make(chan error, 2)
	conn.Serve(ctx, func(err error) { closed <- err })
	conn.Serve(ctx, func(err error) { closed <- err }) // already serving

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second Serve should return at once")
	}

	ws.addMessageToRead(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	select {
	case frame := <-conn.RawRequests():
		require.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(frame))
	case <-time.After(time.Second):
		t.Fatal("frame was not delivered")
	}

	require.True(t, conn.WriteRawResponse([]byte(`{"jsonrpc":"2.0","id":1,"result":"pong"}`)))
	require.Eventually(t, func() bool {
		return ws.getLastWrittenMessage() == `{"jsonrpc":"2.0","id":1,"result":"pong"}`
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("connection did not stop")
	}
	require.True(t, ws.isClosed())
}

func TestWebsocketConnection_WriteRawResponseTimeout(t *testing.T) {
	t.Parallel()

	conn, err := rpc.NewWebsocketConnection(rpc.WebsocketConnectionConfig{
		ConnectionID:    "conn1",
		WebsocketConn:   newGorillaWsConnMock(context.Background()),
		WriteBufferSize: 1,
		WriteTimeout:    50 * time.Millisecond,
	})
	require.NoError(t, err)

	// Nothing drains the queue before Serve.
	require.True(t, conn.WriteRawResponse([]byte("first")))
	require.False(t, conn.WriteRawResponse([]byte("second")))
}

type gorillaWsConnMock struct {
	ctx    context.Context
	readCh chan []byte

	mu         sync.Mutex
	lastWrite  []byte
	closeCalls int
}

func newGorillaWsConnMock(ctx context.Context) *gorillaWsConnMock {
	return &gorillaWsConnMock{ctx: ctx, readCh: make(chan []byte, 1)}
}

func (m *gorillaWsConnMock) ReadMessage() (int, []byte, error) {
	select {
	case <-m.ctx.Done():
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "done"}
	case msg := <-m.readCh:
		return websocket.TextMessage, msg, nil
	}
}

func (m *gorillaWsConnMock) NextWriter(int) (io.WriteCloser, error) {
	return &mockWriter{m: m}, nil
}

func (m *gorillaWsConnMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

func (m *gorillaWsConnMock) addMessageToRead(msg string) {
	m.readCh <- []byte(msg)
}

func (m *gorillaWsConnMock) getLastWrittenMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.lastWrite)
}

func (m *gorillaWsConnMock) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls > 0
}

type mockWriter struct {
	m *gorillaWsConnMock
}

func (w *mockWriter) Write(p []byte) (int, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.m.lastWrite = append([]byte(nil), p...)
	return len(p), nil
}

func (w *mockWriter) Close() error { return nil }
