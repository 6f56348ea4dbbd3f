package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/downfa11-org/streamlog/pkg/protocol"
	"github.com/downfa11-org/streamlog/util"
)

var ErrConnectionClosed = errors.New("connection closed")

// ReplyProcessor receives the replies read from a connection.
// ConnectionDropped is called once when the connection stops, whoever closed it.
type ReplyProcessor interface {
	Process(reply protocol.Command)
	ConnectionDropped(err error)
}

// ClientConnection is an ordered byte stream to one segment store endpoint.
type ClientConnection interface {
	Send(cmd protocol.Command) error
	Close() error
}

// ConnectionFactory establishes connections to segment store endpoints.
type ConnectionFactory interface {
	Establish(ctx context.Context, endpoint string, rp ReplyProcessor) (ClientConnection, error)
	Close() error
}

// TCPConnectionFactory dials plain or TLS-wrapped TCP connections. It owns every connection it
// established until Close.
type TCPConnectionFactory struct {
	TLSConfig   *tls.Config
	DialTimeout time.Duration

	mu     sync.Mutex
	conns  map[*tcpConnection]struct{}
	closed bool
}

func NewTCPConnectionFactory(tlsConfig *tls.Config) *TCPConnectionFactory {
	return &TCPConnectionFactory{
		TLSConfig:   tlsConfig,
		DialTimeout: 10 * time.Second,
		conns:       make(map[*tcpConnection]struct{}),
	}
}

func (f *TCPConnectionFactory) Establish(ctx context.Context, endpoint string, rp ReplyProcessor) (ClientConnection, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	f.mu.Unlock()

	dialer := &net.Dialer{Timeout: f.DialTimeout}
	var conn net.Conn
	var err error
	if f.TLSConfig != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: f.TLSConfig}
		conn, err = td.DialContext(ctx, "tcp", endpoint)
		if err != nil {
			return nil, fmt.Errorf("TLS dial to %s failed: %w", endpoint, err)
		}
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", endpoint)
		if err != nil {
			return nil, fmt.Errorf("TCP dial to %s failed: %w", endpoint, err)
		}
	}

	c := &tcpConnection{conn: conn, endpoint: endpoint, rp: rp, factory: f}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return nil, ErrConnectionClosed
	}
	f.conns[c] = struct{}{}
	f.mu.Unlock()

	go c.readLoop()
	return c, nil
}

// Close closes every open connection. Established connections report ConnectionDropped.
func (f *TCPConnectionFactory) Close() error {
	f.mu.Lock()
	f.closed = true
	conns := make([]*tcpConnection, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

func (f *TCPConnectionFactory) release(c *tcpConnection) {
	f.mu.Lock()
	delete(f.conns, c)
	f.mu.Unlock()
}

type tcpConnection struct {
	conn     net.Conn
	endpoint string
	rp       ReplyProcessor
	factory  *TCPConnectionFactory

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
}

func (c *tcpConnection) Send(cmd protocol.Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if err := protocol.WriteCommand(c.conn, cmd); err != nil {
		_ = c.conn.Close()
		return fmt.Errorf("send %s to %s: %w", cmd.Type(), c.endpoint, err)
	}
	return nil
}

func (c *tcpConnection) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

func (c *tcpConnection) readLoop() {
	defer c.factory.release(c)
	for {
		reply, err := protocol.ReadCommand(c.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = ErrConnectionClosed
			} else {
				util.Warn("⚠️ connection to %s failed: %v", c.endpoint, err)
			}
			_ = c.Close()
			c.rp.ConnectionDropped(err)
			return
		}
		c.rp.Process(reply)
	}
}
