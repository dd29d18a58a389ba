package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"flowScope/logger"
)

// NewServer creates a Server handing config to every connection.
func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	s := &Server{
		config: config,
		conns:  make(map[net.Conn]struct{}),
	}
	s.config.background = &s.wg
	return s
}

// ListenAndServe listens on the TCP address addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or ln fails. Each
// connection is handled on its own goroutine. On return the listener and
// all open connections are closed, their goroutines have exited and
// pending Pyroscope uploads have finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.config.Logger.Info("server running", "addr", ln.Addr().String())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
		s.closeConns()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.closeConns()
				s.wg.Wait()
				return err
			}
			s.config.Logger.Error("failed to accept connection", "error", err)
			continue
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	cfg := s.config
	cfg.Logger = logger.WithConnection(s.config.Logger, uuid.NewString(), conn.RemoteAddr().String())
	cfg.Logger.Info("new client connected")

	if m := cfg.Metrics; m != nil {
		m.ConnectionsTotal.Inc()
		m.ConnectionsActive.Inc()
		defer m.ConnectionsActive.Dec()
	}

	_ = New(conn, cfg).Process(ctx)
}

// track registers conn for shutdown; connections accepted after shutdown
// started are closed right away.
func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}
