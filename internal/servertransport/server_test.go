package servertransport

import (
	"context"
	"net"
	"testing"
	"time"

	"udpbank/internal/amocache"
	"udpbank/internal/bank"
	"udpbank/internal/callback"
	"udpbank/internal/dispatcher"
	"udpbank/internal/losssim"
	"udpbank/internal/wire"
)

func startTestServer(t *testing.T) (*Server, *bank.Service, func()) {
	t.Helper()
	svc := bank.NewService()
	d := dispatcher.New(svc, amocache.New(time.Minute, 0), callback.New(), nil)
	srv, err := New("127.0.0.1:0", d, losssim.New(0, 0), nil, WithWorkers(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	return srv, svc, func() {
		cancel()
		<-done
	}
}

func dial(t *testing.T, serverAddr net.Addr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, serverAddr.(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// TestServerRoundTripDeposit exercises the full receive-decode-dispatch-reply
// path over a real loopback socket, grounding spec.md §8's basic success
// scenario end to end.
func TestServerRoundTripDeposit(t *testing.T) {
	srv, svc, stop := startTestServer(t)
	defer stop()

	_, acct, _ := svc.OpenAccount("alice", "pw", wire.CurrencySGD, 1000)

	conn := dial(t, srv.LocalAddr())
	defer conn.Close()

	p := wire.NewPayload()
	p.SetString(wire.TLVUsername, "alice")
	p.SetString(wire.TLVPassword, "pw")
	p.SetString(wire.TLVAccountNo, acct)
	p.SetUint8(wire.TLVCurrency, uint8(wire.CurrencySGD))
	p.SetInt64(wire.TLVAmountCents, 250)
	req := wire.NewRequestMessage(wire.OpDeposit, wire.SemanticsALO, 1, 1, false, p)
	reqBytes, err := wire.Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := conn.Write(reqBytes); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	reply, err := wire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Header.Status != wire.StatusOK {
		t.Fatalf("status = %v, want OK", reply.Header.Status)
	}
	if bal := reply.Payload.Int64(wire.TLVAmountCents); bal != 1250 {
		t.Fatalf("reply balance = %d, want 1250", bal)
	}
}

// TestServerDropsUndecodableDatagram confirms a garbage datagram is
// silently dropped rather than crashing the server (spec.md §4.1: invalid
// datagrams never get a reply).
func TestServerDropsUndecodableDatagram(t *testing.T) {
	srv, _, stop := startTestServer(t)
	defer stop()

	conn := dial(t, srv.LocalAddr())
	defer conn.Close()

	if _, err := conn.Write([]byte("not a valid datagram")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected no reply for undecodable datagram")
	}
}
