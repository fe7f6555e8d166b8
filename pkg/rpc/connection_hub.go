package rpc

import (
	"sync"

	"github.com/pkg/errors"
)

// ConnectionHub tracks live connections and the users they are authenticated as.
type ConnectionHub struct {
	mu    sync.RWMutex
	conns map[string]Connection
	// users maps a user id to the ids of its connections.
	users map[string]map[string]struct{}
}

func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{
		conns: make(map[string]Connection),
		users: make(map[string]map[string]struct{}),
	}
}

// Add registers conn under its id and, if set, its user id.
func (hub *ConnectionHub) Add(conn Connection) error {
	if conn == nil {
		return errors.New("connection cannot be nil")
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	connID := conn.ConnectionID()
	if _, ok := hub.conns[connID]; ok {
		return errors.Errorf("connection with ID %s already exists", connID)
	}
	hub.conns[connID] = conn
	hub.bind(conn.UserID(), connID)
	return nil
}

// Reauthenticate moves a connection to userID.
func (hub *ConnectionHub) Reauthenticate(connID, userID string) error {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conn, ok := hub.conns[connID]
	if !ok {
		return errors.Errorf("connection with ID %s does not exist", connID)
	}
	hub.unbind(conn.UserID(), connID)
	conn.SetUserID(userID)
	hub.bind(userID, connID)
	return nil
}

func (hub *ConnectionHub) Get(connID string) Connection {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.conns[connID]
}

func (hub *ConnectionHub) Remove(connID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conn, ok := hub.conns[connID]
	if !ok {
		return
	}
	delete(hub.conns, connID)
	hub.unbind(conn.UserID(), connID)
}

// Count returns the number of live connections.
func (hub *ConnectionHub) Count() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// Publish sends message to every connection of userID.
func (hub *ConnectionHub) Publish(userID string, message []byte) {
	if userID == "" {
		return
	}
	for _, conn := range hub.snapshot(userID) {
		conn.WriteRawResponse(message)
	}
}

// Broadcast sends message to every connection.
func (hub *ConnectionHub) Broadcast(message []byte) {
	for _, conn := range hub.snapshot("") {
		conn.WriteRawResponse(message)
	}
}

// snapshot copies the targets so slow writers do not hold the lock.
// An empty userID selects every connection.
func (hub *ConnectionHub) snapshot(userID string) []Connection {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if userID == "" {
		out := make([]Connection, 0, len(hub.conns))
		for _, conn := range hub.conns {
			out = append(out, conn)
		}
		return out
	}

	ids := hub.users[userID]
	out := make([]Connection, 0, len(ids))
	for id := range ids {
		if conn := hub.conns[id]; conn != nil {
			out = append(out, conn)
		}
	}
	return out
}

func (hub *ConnectionHub) bind(userID, connID string) {
	if userID == "" {
		return
	}
	if hub.users[userID] == nil {
		hub.users[userID] = make(map[string]struct{})
	}
	hub.users[userID][connID] = struct{}{}
}

func (hub *ConnectionHub) unbind(userID, connID string) {
	ids, ok := hub.users[userID]
	if !ok {
		return
	}
	delete(ids, connID)
	if len(ids) == 0 {
		delete(hub.users, userID)
	}
}
