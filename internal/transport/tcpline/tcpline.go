// Package tcpline binds the chat session core to raw TCP connections
// speaking newline-delimited JSON envelopes — one envelope per line in both
// directions. Like the WebSocket adapter it is purely syntactic; the chat
// package owns all semantics.
package tcpline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/giftwish/chat-server/internal/chat"
	"github.com/giftwish/chat-server/internal/middleware"
)

// lineConn adapts a net.Conn to hub.Sender. One JSON document plus a
// trailing newline per Send; the mutex serializes concurrent fan-out writes.
type lineConn struct {
	mu sync.Mutex
	c  net.Conn
}

func (l *lineConn) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.c.Write(append(b, '\n'))
	return err
}

// Server accepts raw TCP chat connections.
type Server struct {
	core    *chat.Core
	limiter *middleware.LimiterStore
	log     *zap.SugaredLogger
	wg      sync.WaitGroup
}

// NewServer builds a TCP listener front for the session core.
func NewServer(core *chat.Core, limiter *middleware.LimiterStore, log *zap.SugaredLogger) *Server {
	return &Server{core: core, limiter: limiter, log: log}
}

// ListenAndServe accepts connections until ctx is cancelled, then closes the
// listener and waits for in-flight connection loops to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	s.log.Infow("tcp chat listener started", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return err
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if s.limiter != nil && !s.limiter.Allow(host) {
			lc := &lineConn{c: conn}
			_ = lc.Send(chat.NewEnvelope(chat.EventError, chat.ErrorPayload{
				Code:    chat.CodeRateLimited,
				Message: "rate limit exceeded",
			}))
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn runs one connection's receive loop.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	lc := &lineConn{c: conn}
	sess := s.core.NewSession(lc)
	defer sess.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				s.log.Debugw("tcp read failed", "user", sess.UserID(), "err", err)
			}
			return
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var env chat.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			// Malformed JSON rejects the line, not the connection.
			_ = lc.Send(chat.NewEnvelope(chat.EventError, chat.ErrorPayload{
				Code:    chat.CodeInvalidArgument,
				Message: "invalid json",
			}))
			continue
		}
		sess.Handle(ctx, env)
	}
}
