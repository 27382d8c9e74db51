// Package server exposes a store over TCP using the RESP protocol.
package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"lightcask/internal/protocol"
	"lightcask/internal/store"
)

var ErrServerClosed = errors.New("server closed")

// KV is the storage the server drives.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	Len() int
	Stats() store.Stats
	Compact() error
}

type Server struct {
	Config Config
	kv     KV
	logger *slog.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	slots chan struct{}

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, kv KV, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Config: cfg,
		kv:     kv,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
		quit:   make(chan struct{}),
	}
	if cfg.MaxConnections > 0 {
		s.slots = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

// Listen binds the listening socket. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return nil
	}
	select {
	case <-s.quit:
		return ErrServerClosed
	default:
	}

	ln, err := net.Listen("tcp", s.Config.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start accepts connections until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	ln := s.listener()

	s.logger.Info("listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				s.logger.Warn("accept failed", "error", err)
				continue
			}
		}

		if !s.acquire() {
			s.reject(conn)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			s.release()
			return nil
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) listener() net.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln
}

// Stop closes the listener and every client connection, then waits for handlers to return.
func (s *Server) Stop() {
	s.quitOnce.Do(func() {
		close(s.quit)

		s.mu.Lock()
		if s.ln != nil {
			s.ln.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	s.logger.Info("server stopped")
}

func (s *Server) acquire() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) release() {
	if s.slots != nil {
		<-s.slots
	}
}

func (s *Server) reject(conn net.Conn) {
	s.logger.Warn("rejecting client, connection limit reached",
		"remote", conn.RemoteAddr().String(), "limit", s.Config.MaxConnections)
	_, _ = conn.Write(protocol.AppendValue(nil, protocol.Error("ERR", "max number of clients reached")))
	conn.Close()
}

// track registers conn so Stop can close it. It fails once Stop has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.quit:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) handleConnection(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		conn.Close()
		s.untrack(conn)
		s.release()
		s.wg.Done()
	}()

	s.logger.Debug("client connected", "remote", remote)

	r := protocol.NewReader(conn)
	r.SetMaxBulkSize(s.Config.MaxBulkSize)
	w := protocol.NewWriter(conn)

	for {
		req, err := r.ReadValue()
		if err != nil {
			if errors.Is(err, protocol.ErrProtocol) {
				s.logger.Warn("closing client after protocol error", "remote", remote, "error", err)
				_ = w.WriteValue(protocol.Error("ERR", "Protocol error: "+err.Error()))
				_ = w.Flush()
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection closed", "remote", remote, "error", err)
			}
			return
		}

		reply, closeAfter := s.handleRequest(req)
		if err := w.WriteValue(reply); err != nil {
			s.logger.Debug("write failed", "remote", remote, "error", err)
			return
		}

		// pipelined requests share one flush
		if r.Buffered() == 0 || closeAfter {
			if err := w.Flush(); err != nil {
				s.logger.Debug("flush failed", "remote", remote, "error", err)
				return
			}
		}
		if closeAfter {
			return
		}
	}
}
