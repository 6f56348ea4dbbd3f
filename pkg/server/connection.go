package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/streamlog/pkg/metrics"
)

// ConnectionManager tracks live client connections and enforces the connection limit.
type ConnectionManager struct {
	mu      sync.RWMutex
	conns   map[string]*ClientConnection
	maxConn int
}

var connSeq atomic.Int64

// ClientConnection is one accepted connection and its writer sessions.
type ClientConnection struct {
	conn net.Conn
	id   string

	mu         sync.Mutex
	lastActive time.Time
	writers    map[string]struct{} // writer id + segment set up on this connection

	stopOnce sync.Once
}

func NewConnectionManager(maxConn int) *ConnectionManager {
	return &ConnectionManager{
		conns:   make(map[string]*ClientConnection),
		maxConn: maxConn,
	}
}

func NewClientConnection(conn net.Conn) *ClientConnection {
	return &ClientConnection{
		conn:       conn,
		id:         fmt.Sprintf("%s#%d", conn.RemoteAddr(), connSeq.Add(1)),
		lastActive: time.Now(),
		writers:    make(map[string]struct{}),
	}
}

func (cm *ConnectionManager) Add(cc *ClientConnection) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if len(cm.conns) >= cm.maxConn {
		return fmt.Errorf("maximum connections (%d) reached", cm.maxConn)
	}
	cm.conns[cc.id] = cc
	metrics.ActiveConnections.Set(float64(len(cm.conns)))
	return nil
}

func (cm *ConnectionManager) Remove(cc *ClientConnection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cur, ok := cm.conns[cc.id]; ok && cur == cc {
		delete(cm.conns, cc.id)
	}
	metrics.ActiveConnections.Set(float64(len(cm.conns)))
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// CloseAll closes every tracked connection; their handlers then exit on read errors.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*ClientConnection, 0, len(cm.conns))
	for _, cc := range cm.conns {
		conns = append(conns, cc)
	}
	cm.mu.RUnlock()

	for _, cc := range conns {
		cc.Close()
	}
}

func (cc *ClientConnection) touch() {
	cc.mu.Lock()
	cc.lastActive = time.Now()
	cc.mu.Unlock()
}

func (cc *ClientConnection) LastActive() time.Time {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.lastActive
}

func (cc *ClientConnection) addWriter(key string) {
	cc.mu.Lock()
	cc.writers[key] = struct{}{}
	cc.mu.Unlock()
}

func (cc *ClientConnection) hasWriter(key string) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	_, ok := cc.writers[key]
	return ok
}

func (cc *ClientConnection) Close() {
	cc.stopOnce.Do(func() {
		_ = cc.conn.Close()
	})
}
