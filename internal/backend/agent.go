package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// AgentElement talks to a secure-element agent over a unix socket. The
// agent owns the actual hardware driver; this side only speaks its
// framed JSON protocol, one request/response pair at a time.
type AgentElement struct {
	// Socket is the path to the agent's unix socket.
	Socket string
}

// agent wire protocol. Every request gets exactly one response.
type agentRequest struct {
	Op    string `json:"op"` // open, get, put, delete, keys, ping
	Key   string `json:"key,omitempty"`
	Value []byte `json:"value,omitempty"`
}

type agentResponse struct {
	Status string   `json:"status"` // ok, not_found, denied, locked, error
	Value  []byte   `json:"value,omitempty"`
	Keys   []string `json:"keys,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Open dials the agent and performs the session handshake. A missing
// or locked element fails here, within the caller's deadline.
func (e *AgentElement) Open(ctx context.Context) (Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", e.Socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %v: %w", err, ErrUnavailable)
	}

	sess := &agentSession{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}

	// Handshake: the agent authenticates against the element and
	// refuses the session if it is absent or locked.
	if _, err := sess.roundTrip(ctx, agentRequest{Op: "open"}); err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

type agentSession struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

func (s *agentSession) roundTrip(ctx context.Context, req agentRequest) (*agentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
		defer s.conn.SetDeadline(time.Time{})
	}

	if err := s.enc.Encode(req); err != nil {
		return nil, fmt.Errorf("agent %s: %v: %w", req.Op, err, ErrUnavailable)
	}
	var resp agentResponse
	if err := s.dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("agent %s: %v: %w", req.Op, err, ErrUnavailable)
	}

	switch resp.Status {
	case "ok":
		return &resp, nil
	case "not_found":
		return nil, ErrNotFound
	case "denied":
		return nil, ErrPermissionDenied
	case "locked":
		return nil, fmt.Errorf("element locked: %w", ErrUnavailable)
	default:
		return nil, fmt.Errorf("agent %s: %s: %w", req.Op, resp.Error, ErrUnavailable)
	}
}

func (s *agentSession) Get(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.roundTrip(ctx, agentRequest{Op: "get", Key: id})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (s *agentSession) Put(ctx context.Context, id string, value []byte) error {
	_, err := s.roundTrip(ctx, agentRequest{Op: "put", Key: id, Value: value})
	return err
}

func (s *agentSession) Delete(ctx context.Context, id string) error {
	_, err := s.roundTrip(ctx, agentRequest{Op: "delete", Key: id})
	return err
}

func (s *agentSession) Keys(ctx context.Context) ([]string, error) {
	resp, err := s.roundTrip(ctx, agentRequest{Op: "keys"})
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (s *agentSession) Ping(ctx context.Context) error {
	_, err := s.roundTrip(ctx, agentRequest{Op: "ping"})
	return err
}

func (s *agentSession) Close() error {
	return s.conn.Close()
}
