package clienttransport

import (
	"context"
	"net"
	"testing"
	"time"

	"udpbank/internal/wire"
)

// fakeServer reads one datagram at a time and lets the test script its
// reply behaviour, for exercising retry/backoff without a real dispatcher.
type fakeServer struct {
	conn *net.UDPConn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeServer{conn: conn}
}

func (f *fakeServer) addr() string { return f.conn.LocalAddr().String() }

func (f *fakeServer) recv(t *testing.T) (*wire.Message, *net.UDPAddr) {
	t.Helper()
	buf := make([]byte, 2048)
	f.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, addr, err := f.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	msg, err := wire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg, addr
}

func (f *fakeServer) reply(t *testing.T, req *wire.Message, addr *net.UDPAddr, status wire.Status) {
	t.Helper()
	rep := wire.NewReplyMessage(req, status, nil)
	b, err := wire.Encode(rep)
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}
	if _, err := f.conn.WriteToUDP(b, addr); err != nil {
		t.Fatalf("write reply: %v", err)
	}
}

// TestClientSendReceivesFirstTryReply covers the plain success path: no
// loss, one round trip.
func TestClientSendReceivesFirstTryReply(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.conn.Close()

	c, err := New(srv.addr(), 1, Config{InitialTimeout: 200 * time.Millisecond, MaxAttempts: 3, BackoffFactor: 2}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	done := make(chan *wire.Message, 1)
	errCh := make(chan error, 1)
	go func() {
		p := wire.NewPayload()
		reply, err := c.Send(context.Background(), wire.OpQueryBalance, wire.SemanticsALO, p)
		if err != nil {
			errCh <- err
			return
		}
		done <- reply
	}()

	req, addr := srv.recv(t)
	srv.reply(t, req, addr, wire.StatusOK)

	select {
	case reply := <-done:
		if reply.Header.Status != wire.StatusOK {
			t.Fatalf("status = %v, want OK", reply.Header.Status)
		}
	case err := <-errCh:
		t.Fatalf("Send: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Send to return")
	}
}

// TestClientRetriesOnLostReply grounds spec.md §4.6: if the first reply is
// dropped (simulated by the fake server simply not answering the first
// receive), the client retransmits and succeeds on the next attempt, using
// the identical requestId both times.
func TestClientRetriesOnLostReply(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.conn.Close()

	c, err := New(srv.addr(), 1, Config{InitialTimeout: 100 * time.Millisecond, MaxAttempts: 5, BackoffFactor: 2}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	done := make(chan *wire.Message, 1)
	errCh := make(chan error, 1)
	go func() {
		p := wire.NewPayload()
		reply, err := c.Send(context.Background(), wire.OpQueryBalance, wire.SemanticsAMO, p)
		if err != nil {
			errCh <- err
			return
		}
		done <- reply
	}()

	firstReq, _ := srv.recv(t) // dropped: no reply sent
	secondReq, addr := srv.recv(t)
	if firstReq.Header.RequestID != secondReq.Header.RequestID {
		t.Fatalf("requestId changed across retries: %d != %d", firstReq.Header.RequestID, secondReq.Header.RequestID)
	}
	srv.reply(t, secondReq, addr, wire.StatusOK)

	select {
	case reply := <-done:
		if reply.Header.Status != wire.StatusOK {
			t.Fatalf("status = %v, want OK", reply.Header.Status)
		}
	case err := <-errCh:
		t.Fatalf("Send: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Send to return")
	}
}

// TestClientExhaustsRetries confirms Send gives up after MaxAttempts and
// returns ErrRetriesExhausted when the server never replies at all.
func TestClientExhaustsRetries(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.conn.Close()

	c, err := New(srv.addr(), 1, Config{InitialTimeout: 20 * time.Millisecond, MaxAttempts: 2, BackoffFactor: 2}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	go func() {
		buf := make([]byte, 2048)
		for i := 0; i < 2; i++ {
			srv.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			if _, _, err := srv.conn.ReadFromUDP(buf); err != nil {
				return
			}
		}
	}()

	p := wire.NewPayload()
	_, err = c.Send(context.Background(), wire.OpQueryBalance, wire.SemanticsALO, p)
	if err == nil {
		t.Fatal("expected error when server never replies")
	}
}

// TestClientForwardsCallbackWhileWaiting grounds spec.md §4.6's edge case:
// a CBK datagram arriving while a request is outstanding must be routed to
// the Callbacks channel, not mistaken for the awaited reply.
func TestClientForwardsCallbackWhileWaiting(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.conn.Close()

	c, err := New(srv.addr(), 1, Config{InitialTimeout: 500 * time.Millisecond, MaxAttempts: 3, BackoffFactor: 2}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	done := make(chan *wire.Message, 1)
	go func() {
		p := wire.NewPayload()
		reply, err := c.Send(context.Background(), wire.OpQueryBalance, wire.SemanticsALO, p)
		if err == nil {
			done <- reply
		}
	}()

	req, addr := srv.recv(t)

	cb := wire.NewCallbackMessage(wire.OpAccountUpdate, 2, 0, false, nil)
	cbBytes, err := wire.Encode(cb)
	if err != nil {
		t.Fatalf("encode callback: %v", err)
	}
	if _, err := srv.conn.WriteToUDP(cbBytes, addr); err != nil {
		t.Fatalf("write callback: %v", err)
	}

	select {
	case got := <-c.Callbacks():
		if got.Header.OpCode != wire.OpAccountUpdate {
			t.Fatalf("opCode = %v, want ACCOUNT_UPDATE", got.Header.OpCode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback forward")
	}

	srv.reply(t, req, addr, wire.StatusOK)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Send to finish after callback")
	}
}
