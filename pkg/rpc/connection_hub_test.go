package rpc_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
)

func TestConnectionHub(t *testing.T) {
	t.Parallel()

	hub := rpc.NewConnectionHub()
	require.EqualError(t, hub.Add(nil), "connection cannot be nil")

	conn1 := newMockConnection("conn1", "alice")
	conn2 := newMockConnection("conn2", "alice")
	conn3 := newMockConnection("conn3", "")
	require.NoError(t, hub.Add(conn1))
	require.NoError(t, hub.Add(conn2))
	require.NoError(t, hub.Add(conn3))
	require.EqualError(t, hub.Add(conn1), "connection with ID conn1 already exists")

	assert.Equal(t, 3, hub.Count())
	assert.Equal(t, conn1, hub.Get("conn1"))
	assert.Nil(t, hub.Get("missing"))

	hub.Publish("alice", []byte("for alice"))
	assert.Equal(t, []byte("for alice"), conn1.getLastResponse())
	assert.Equal(t, []byte("for alice"), conn2.getLastResponse())
	assert.Empty(t, conn3.getLastResponse())

	// Anonymous connections are never targeted by user.
	hub.Publish("", []byte("nobody"))
	assert.Empty(t, conn3.getLastResponse())

	require.NoError(t, hub.Reauthenticate("conn3", "bob"))
	assert.Equal(t, "bob", conn3.UserID())
	require.EqualError(t, hub.Reauthenticate("missing", "bob"), "connection with ID missing does not exist")

	require.NoError(t, hub.Reauthenticate("conn2", "bob"))
	hub.Publish("bob", []byte("for bob"))
	assert.Equal(t, []byte("for alice"), conn1.getLastResponse())
	assert.Equal(t, []byte("for bob"), conn2.getLastResponse())
	assert.Equal(t, []byte("for bob"), conn3.getLastResponse())

	hub.Broadcast([]byte("chainChanged"))
	for _, c := range []*mockConnection{conn1, conn2, conn3} {
		assert.Equal(t, []byte("chainChanged"), c.getLastResponse())
	}

	hub.Remove("conn1")
	hub.Remove("conn1")
	assert.Nil(t, hub.Get("conn1"))
	assert.Equal(t, 2, hub.Count())

	hub.Publish("alice", []byte("gone"))
	assert.Equal(t, []byte("chainChanged"), conn1.getLastResponse())
}

type mockConnection struct {
	connectionID string

	mu           sync.RWMutex
	userID       string
	rawRequests  chan []byte
	lastResponse []byte
}

func newMockConnection(connID, userID string) *mockConnection {
	return &mockConnection{
		connectionID: connID,
		userID:       userID,
		rawRequests:  make(chan []byte, 10),
	}
}

func (mc *mockConnection) ConnectionID() string { return mc.connectionID }

func (mc *mockConnection) UserID() string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.userID
}

func (mc *mockConnection) SetUserID(userID string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.userID = userID
}

func (mc *mockConnection) RawRequests() <-chan []byte { return mc.rawRequests }

func (mc *mockConnection) WriteRawResponse(response []byte) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.lastResponse = response
	return true
}

func (mc *mockConnection) Serve(context.Context, func(error)) {}

func (mc *mockConnection) getLastResponse() []byte {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.lastResponse
}
