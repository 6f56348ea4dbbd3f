package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/downfa11-org/streamlog/pkg/config"
	"github.com/downfa11-org/streamlog/pkg/metrics"
	"github.com/downfa11-org/streamlog/pkg/segment"
	"github.com/downfa11-org/streamlog/util"
)

// Server accepts segment store clients and routes their requests to a container.
type Server struct {
	container   *segment.Container
	conns       *ConnectionManager
	idleTimeout time.Duration
	maxWorkers  int

	mu sync.Mutex
	ln net.Listener
}

func NewServer(cfg *config.Config, container *segment.Container) *Server {
	return &Server{
		container:   container,
		conns:       NewConnectionManager(cfg.MaxConnections),
		idleTimeout: time.Duration(cfg.ConnectionIdleTimeMS) * time.Millisecond,
		maxWorkers:  cfg.MaxConnections,
	}
}

func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// RunServer starts the segment store with optional TLS and blocks until ctx is done.
func RunServer(ctx context.Context, cfg *config.Config, container *segment.Container) error {
	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
	} else {
		util.Info("📉 Exporter disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	var ln net.Listener
	var err error
	if cfg.UseTLS {
		tlsConfig := &tls.Config{Certificates: []tls.Certificate{cfg.TLSCert}}
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	util.Info("🧩 Segment store listening on %s (TLS=%v, backend=%s)", addr, cfg.UseTLS, cfg.DataLogBackend)

	s := NewServer(cfg, container)
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until the listener is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	workerCh := make(chan *ClientConnection, s.maxWorkers)
	var wg sync.WaitGroup
	for i := 0; i < s.maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cc := range workerCh {
				s.HandleConnection(ctx, cc)
				s.conns.Remove(cc)
			}
		}()
	}
	defer func() {
		close(workerCh)
		s.conns.CloseAll()
		wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			util.Warn("⚠️ Accept error: %v", err)
			continue
		}

		cc := NewClientConnection(conn)
		if err := s.conns.Add(cc); err != nil {
			util.Warn("⚠️ rejecting %s: %v", cc.id, err)
			cc.Close()
			continue
		}
		workerCh <- cc
	}
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.conns.CloseAll()
}

// ServeConn handles a single already-accepted connection until it closes.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	cc := NewClientConnection(conn)
	if err := s.conns.Add(cc); err != nil {
		cc.Close()
		return err
	}
	defer s.conns.Remove(cc)
	s.HandleConnection(ctx, cc)
	return nil
}
