// Package transport implements the Signal Transport (C1): an
// authenticated local Unix-domain-socket RPC server carrying the
// PREPARE/CONFIRM/ABORT protocol. Every inbound envelope is
// HMAC-SHA-256-signed over the canonical JSON of its Signal; verification
// uses a constant-time comparison so timing cannot leak the secret.
// Framing is newline-delimited JSON, one envelope per line, no other
// wrapping -- grounded on rishavpaul-system-design/order-matching-engine's
// server lifecycle (listen, accept loop, bounded graceful shutdown)
// generalised from its HTTP transport to a raw socket.
package transport

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kaelstrom/tradecore/internal/clock"
	"github.com/kaelstrom/tradecore/internal/metrics"
	"github.com/kaelstrom/tradecore/internal/planner"
	"github.com/kaelstrom/tradecore/internal/signal"
	"github.com/kaelstrom/tradecore/pkg/canonjson"
)

// Reject reasons reserved by spec.md §6; callers match on these strings.
const (
	ReasonInvalidSignature     = "INVALID_SIGNATURE"
	ReasonIPCError             = "IPC_ERROR"
	ReasonMaxConnectionsReached = "MAX_CONNECTIONS_REACHED"
)

// DefaultMaxConnections is spec.md's default connection cap.
const DefaultMaxConnections = 10

// DefaultDrainDeadline bounds how long Shutdown waits for in-flight
// connections to finish. When it elapses Shutdown closes the listener and
// removes the socket path; connections that are still open are not closed
// by Shutdown.
const DefaultDrainDeadline = 5 * time.Second

// Handler is the subset of the Planner's contract the transport calls;
// kept as a narrow interface so transport depends on planner's result
// types but never reaches into Ledger/Gateway/Safety directly (spec.md
// §9: "direct composition... no shared base class").
type Handler interface {
	Prepare(sig signal.Signal) planner.PrepareResult
	Confirm(ctx context.Context, sig signal.Signal) planner.ConfirmResult
	Abort(sig signal.Signal) map[string]any
}

// inboundEnvelope is the wire shape from spec.md §6: `{signal, signature}`.
type inboundEnvelope struct {
	Signal    signal.Signal `json:"signal"`
	Signature string        `json:"signature"`
}

// Server is the local-socket RPC listener.
type Server struct {
	socketPath     string
	secret         []byte
	maxConnections int
	handler        Handler
	reg            *metrics.Registry
	clock          clock.Clock

	listener net.Listener
	connSem  chan struct{}
	active   sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// Config bundles the Server's construction parameters.
type Config struct {
	SocketPath     string
	Secret         []byte
	MaxConnections int // 0 -> DefaultMaxConnections
}

// New builds a Server. It does not yet bind the socket; call Serve to do so.
func New(cfg Config, handler Handler, reg *metrics.Registry, c clock.Clock) *Server {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	return &Server{
		socketPath:     cfg.SocketPath,
		secret:         cfg.Secret,
		maxConnections: maxConns,
		handler:        handler,
		reg:            reg,
		clock:          c,
		connSem:        make(chan struct{}, maxConns),
		closed:         make(chan struct{}),
	}
}

// Serve binds the Unix socket (removing any stale path first, per spec.md
// §5: "the filesystem path of the local socket is a singleton; startup
// removes any stale path") and accepts connections until ctx is cancelled
// or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	if err := removeStaleSocket(s.socketPath); err != nil {
		return fmt.Errorf("transport: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", s.socketPath, err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("transport: accept: %w", err)
			}
		}

		select {
		case s.connSem <- struct{}{}:
			s.active.Add(1)
			go s.handleConn(ctx, conn)
		default:
			s.rejectOverCapacity(conn)
		}
	}
}

func removeStaleSocket(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Server) rejectOverCapacity(conn net.Conn) {
	defer conn.Close()
	reply := map[string]any{"rejected": true, "reason": ReasonMaxConnectionsReached}
	_ = writeLine(conn, reply)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.active.Done()
	defer func() { <-s.connSem }()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		start := s.clock.Now()
		line := scanner.Bytes()
		reply, kind := s.process(ctx, line)
		if s.reg != nil {
			s.reg.ObserveLatency(string(kind), start)
		}
		if elapsed := s.clock.Now().Sub(start); reply != nil {
			reply["ipc_latency_ms"] = elapsed.Milliseconds()
		}
		if err := writeLine(conn, reply); err != nil {
			return // write failure: drop the connection, per spec.md backpressure note
		}
	}
}

func (s *Server) process(ctx context.Context, line []byte) (map[string]any, signal.Kind) {
	var env inboundEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		s.countFailed("", "ProtocolError")
		return map[string]any{"rejected": true, "reason": ReasonIPCError, "error": err.Error()}, ""
	}

	if s.reg != nil {
		s.reg.MessagesReceived.WithLabelValues(string(env.Signal.Kind)).Inc()
	}

	if !s.verifySignature(env) {
		s.countFailed(env.Signal.Kind, "AuthFailure")
		return map[string]any{"rejected": true, "reason": ReasonInvalidSignature}, env.Signal.Kind
	}

	var result map[string]any
	switch env.Signal.Kind {
	case signal.KindPrepare:
		result = toMap(s.handler.Prepare(env.Signal))
	case signal.KindConfirm:
		result = toMap(s.handler.Confirm(ctx, env.Signal))
	case signal.KindAbort:
		result = s.handler.Abort(env.Signal)
	default:
		s.countFailed(env.Signal.Kind, "ProtocolError")
		return map[string]any{"rejected": true, "reason": ReasonIPCError, "error": "unknown signal kind"}, env.Signal.Kind
	}

	if s.reg != nil {
		s.reg.MessagesProcessed.WithLabelValues(string(env.Signal.Kind), outcomeOf(result)).Inc()
	}
	return result, env.Signal.Kind
}

func (s *Server) countFailed(kind signal.Kind, reason string) {
	if s.reg == nil {
		return
	}
	if reason == "AuthFailure" {
		s.reg.InvalidSignatures.Inc()
	}
	s.reg.MessagesFailed.WithLabelValues(string(kind), reason).Inc()
}

// verifySignature checks env.Signature against HMAC-SHA256(secret,
// canonical(env.Signal)) using a constant-time comparison, per spec.md
// §8's signature round-trip property.
func (s *Server) verifySignature(env inboundEnvelope) bool {
	body, err := canonjson.Marshal(env.Signal)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(env.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, given)
}

func outcomeOf(result map[string]any) string {
	if v, ok := result["status"].(string); ok {
		return v
	}
	if v, ok := result["rejected"].(bool); ok && v {
		return "rejected"
	}
	return "ok"
}

func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"rejected": true, "reason": ReasonIPCError, "error": err.Error()}
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

func writeLine(conn net.Conn, v map[string]any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal reply: %w", err)
	}
	b = append(b, '\n')
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write(b)
	return err
}

// Shutdown drains in-flight connections up to DefaultDrainDeadline, then
// force-closes the listener and unlinks the socket path, per spec.md §5:
// "Shutdown of C1 drains in-flight messages with a bounded deadline."
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })

	drainCtx, cancel := context.WithTimeout(ctx, DefaultDrainDeadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-drainCtx.Done():
	}

	if s.listener != nil {
		_ = s.listener.Close()
	}
	return removeStaleSocket(s.socketPath)
}
