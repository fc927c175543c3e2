package tcpline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/giftwish/chat-server/internal/chat"
	"github.com/giftwish/chat-server/internal/data"
	"github.com/giftwish/chat-server/internal/hub"
	"github.com/giftwish/chat-server/internal/middleware"
)

func startServer(t *testing.T) (*chat.Core, string, func()) {
	t.Helper()

	reg := hub.NewRegistry()
	log := zap.NewNop().Sugar()
	core := &chat.Core{
		Store:    data.NewMemoryStore(),
		Registry: reg,
		Dispatch: hub.NewDispatcher(reg, log),
		Log:      log,
	}
	core.BindDispatcher()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(core, nil, log)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("server did not shut down")
		}
	}
	return core, ln.Addr().String(), stop
}

type lineClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialClient(t *testing.T, addr string) *lineClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &lineClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *lineClient) sendLine(t *testing.T, line string) {
	t.Helper()
	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func (c *lineClient) send(t *testing.T, typ string, payload any) {
	t.Helper()
	env := chat.NewEnvelope(typ, payload)
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	c.sendLine(t, string(b))
}

func (c *lineClient) read(t *testing.T) chat.Envelope {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env chat.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		t.Fatalf("unmarshal reply %q: %v", line, err)
	}
	return env
}

// readUntil drains envelopes until one of the given type arrives. Presence
// broadcasts interleave with direct replies, so tests skip past them.
func (c *lineClient) readUntil(t *testing.T, typ string) chat.Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := c.read(t)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %s envelope within 10 reads", typ)
	return chat.Envelope{}
}

func TestRegisterAndSendOverTCP(t *testing.T) {
	core, addr, stop := startServer(t)
	defer stop()

	alice := dialClient(t, addr)
	alice.send(t, chat.OpRegister, chat.RegisterPayload{UserID: "alice"})
	ack := alice.readUntil(t, chat.EventRegistered)
	var reg chat.RegisteredPayload
	if err := json.Unmarshal(ack.Payload, &reg); err != nil {
		t.Fatalf("unmarshal registered payload: %v", err)
	}
	if reg.UserID != "alice" {
		t.Fatalf("unexpected registered ack: %+v", reg)
	}

	bob := dialClient(t, addr)
	bob.send(t, chat.OpRegister, chat.RegisterPayload{UserID: "bob"})
	bob.readUntil(t, chat.EventRegistered)

	alice.send(t, chat.OpSendDirect, chat.SendDirectPayload{From: "alice", To: "bob", Text: "hello over tcp"})

	env := bob.readUntil(t, chat.EventMessageReceived)
	var msg data.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Text != "hello over tcp" || msg.SenderID != "alice" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.ConversationID != "dm:alice:bob" {
		t.Fatalf("unexpected conversation id: %s", msg.ConversationID)
	}

	msgs, err := core.Store.History(context.Background(), "dm:alice:bob", 0, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("message not persisted: %v, %d", err, len(msgs))
	}
}

func TestInvalidJSONKeepsConnection(t *testing.T) {
	_, addr, stop := startServer(t)
	defer stop()

	c := dialClient(t, addr)
	c.sendLine(t, "{not json")

	env := c.read(t)
	if env.Type != chat.EventError {
		t.Fatalf("expected error envelope, got %s", env.Type)
	}
	var p chat.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if p.Code != chat.CodeInvalidArgument {
		t.Fatalf("unexpected error code %q", p.Code)
	}

	// the connection survives: a valid register still works
	c.send(t, chat.OpRegister, chat.RegisterPayload{UserID: "alice"})
	c.readUntil(t, chat.EventRegistered)
}

func TestBlankLinesIgnored(t *testing.T) {
	_, addr, stop := startServer(t)
	defer stop()

	c := dialClient(t, addr)
	c.sendLine(t, "")
	c.sendLine(t, "   ")
	c.send(t, chat.OpRegister, chat.RegisterPayload{UserID: "alice"})

	env := c.readUntil(t, chat.EventRegistered)
	if env.Type != chat.EventRegistered {
		t.Fatalf("expected registered ack, got %s", env.Type)
	}
}

func TestUnregisteredOperationRejected(t *testing.T) {
	_, addr, stop := startServer(t)
	defer stop()

	c := dialClient(t, addr)
	c.send(t, chat.OpSendDirect, chat.SendDirectPayload{From: "alice", To: "bob", Text: "hi"})

	env := c.read(t)
	if env.Type != chat.EventError {
		t.Fatalf("expected error envelope, got %s", env.Type)
	}
	var p chat.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if p.Code != chat.CodeUnauthenticated {
		t.Fatalf("unexpected error code %q", p.Code)
	}
}

func TestThrottledConnectionGetsRateLimitedCode(t *testing.T) {
	reg := hub.NewRegistry()
	log := zap.NewNop().Sugar()
	core := &chat.Core{
		Store:    data.NewMemoryStore(),
		Registry: reg,
		Dispatch: hub.NewDispatcher(reg, log),
		Log:      log,
	}
	core.BindDispatcher()
	limiter := middleware.NewLimiterStore(60, 1, time.Minute)
	defer limiter.Stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewServer(core, limiter, log)
	go func() { _ = srv.Serve(ctx, ln) }()

	first := dialClient(t, ln.Addr().String())
	first.send(t, chat.OpRegister, chat.RegisterPayload{UserID: "alice"})
	first.readUntil(t, chat.EventRegistered)

	// the same host dialing past the burst is told to back off, not that its
	// request was malformed
	second := dialClient(t, ln.Addr().String())
	env := second.read(t)
	if env.Type != chat.EventError {
		t.Fatalf("expected error envelope, got %s", env.Type)
	}
	var p chat.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if p.Code != chat.CodeRateLimited {
		t.Fatalf("expected rate_limited code, got %q", p.Code)
	}
	_ = second.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.r.ReadByte(); err == nil {
		t.Fatal("throttled connection should be closed after the rejection")
	}
}

func TestDisconnectReleasesPresence(t *testing.T) {
	core, addr, stop := startServer(t)
	defer stop()

	c := dialClient(t, addr)
	c.send(t, chat.OpRegister, chat.RegisterPayload{UserID: "alice"})
	c.readUntil(t, chat.EventRegistered)

	if !core.Registry.Online("alice") {
		t.Fatal("alice should be online after register")
	}

	_ = c.conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for core.Registry.Online("alice") {
		if time.Now().After(deadline) {
			t.Fatal("alice still online after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
