package share

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/accessgate/internal/apperr"
)

type stubConn struct {
	sendErr error
	sent    [][]byte
	closed  bool
}

func (c *stubConn) Send(ctx context.Context, payload []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *stubConn) Close() error {
	c.closed = true
	return nil
}

type stubTransport struct {
	id      string
	initErr error
	inits   int

	conn       *stubConn
	connectErr error
	dialed     string
}

func (t *stubTransport) Initialize(ctx context.Context) (string, error) {
	t.inits++
	return t.id, t.initErr
}

func (t *stubTransport) Connect(ctx context.Context, remotePeerID string) (Conn, error) {
	t.dialed = remotePeerID
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	return t.conn, nil
}

func TestSharer_InitializeOnce(t *testing.T) {
	tr := &stubTransport{id: "local@127.0.0.1:1"}
	s := NewSharer(tr, zap.NewNop())

	for i := 0; i < 2; i++ {
		id, err := s.Initialize(context.Background())
		if err != nil || id != "local@127.0.0.1:1" {
			t.Fatalf("Initialize = %q, %v", id, err)
		}
	}
	if tr.inits != 1 {
		t.Fatalf("transport initialized %d times, want 1", tr.inits)
	}
	if s.LocalPeerID() != "local@127.0.0.1:1" {
		t.Fatalf("LocalPeerID = %q", s.LocalPeerID())
	}
}

func TestSharer_InitializeFailure(t *testing.T) {
	s := NewSharer(&stubTransport{initErr: errors.New("no network")}, zap.NewNop())

	_, err := s.Initialize(context.Background())
	if apperr.KindOf(err) != apperr.ShareFailed {
		t.Fatalf("kind = %s, want SHARE_FAILED", apperr.KindOf(err))
	}
	if s.LocalPeerID() != "" {
		t.Fatalf("peer id must stay empty after failure")
	}
}

func TestSharer_SendSuccess(t *testing.T) {
	conn := &stubConn{}
	tr := &stubTransport{conn: conn}
	s := NewSharer(tr, zap.NewNop())

	env, err := Encrypt(sampleTranscript(), "secret")
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	if err := s.Send(context.Background(), "remote@10.0.0.2:8080", env); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if tr.dialed != "remote@10.0.0.2:8080" {
		t.Fatalf("dialed %q", tr.dialed)
	}
	if len(conn.sent) != 1 || !conn.closed {
		t.Fatalf("sent %d messages, closed %v", len(conn.sent), conn.closed)
	}

	var got Envelope
	if err := json.Unmarshal(conn.sent[0], &got); err != nil {
		t.Fatalf("payload is not an envelope: %v", err)
	}
	transcript, err := Decrypt(&got, "secret")
	if err != nil || len(transcript) != 2 {
		t.Fatalf("receiver cannot decrypt: %v", err)
	}
}

func TestSharer_SendFailures(t *testing.T) {
	env, err := Encrypt(sampleTranscript(), "secret")
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	tests := []struct {
		name string
		tr   *stubTransport
		peer string
		env  *Envelope
	}{
		{name: "unreachable peer", tr: &stubTransport{connectErr: errors.New("dial timeout")}, peer: "x@h:1", env: env},
		{name: "transport rejection", tr: &stubTransport{conn: &stubConn{sendErr: errors.New("nack: unknown peer")}}, peer: "x@h:1", env: env},
		{name: "no envelope", tr: &stubTransport{conn: &stubConn{}}, peer: "x@h:1"},
		{name: "no peer", tr: &stubTransport{conn: &stubConn{}}, env: env},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSharer(tt.tr, zap.NewNop()).Send(context.Background(), tt.peer, tt.env)
			if apperr.KindOf(err) != apperr.ShareFailed {
				t.Fatalf("kind = %s, want SHARE_FAILED", apperr.KindOf(err))
			}
		})
	}

	if env.ID == "" || len(env.Ciphertext) == 0 {
		t.Fatalf("envelope must remain intact after failed sends")
	}
}

func TestInbox_AcceptAndLimit(t *testing.T) {
	in := NewInbox(2)

	for i := 0; i < 3; i++ {
		env, err := Encrypt(sampleTranscript(), "secret")
		if err != nil {
			t.Fatalf("Encrypt error: %v", err)
		}
		payload, _ := json.Marshal(env)
		if err := in.Accept("peer", payload); err != nil {
			t.Fatalf("Accept error: %v", err)
		}
	}

	if got := len(in.List()); got != 2 {
		t.Fatalf("inbox size = %d, want 2", got)
	}

	if err := in.Accept("peer", []byte("not json")); err == nil {
		t.Fatalf("expected error for garbage payload")
	}
	if err := in.Accept("peer", []byte(`{"id":"x"}`)); err == nil {
		t.Fatalf("expected error for incomplete envelope")
	}
}
