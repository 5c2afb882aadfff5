// Package clienttransport implements the client side of the request/reply
// contract: send, wait, and retry with bounded exponential backoff
// (spec.md §4.6), demultiplexing unsolicited CBK datagrams from the REP
// that answers whichever request is currently outstanding. A single
// background goroutine owns the socket read side for the client's entire
// lifetime, so a monitor keeps receiving callbacks even with no request
// outstanding.
package clienttransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"udpbank/internal/wire"
)

// ErrRetriesExhausted is returned when every retry attempt times out
// without a matching reply (spec.md §4.6).
var ErrRetriesExhausted = errors.New("clienttransport: retries exhausted")

// Config bounds one client's retry behaviour, per spec.md §4.6's defaults:
// 500ms initial timeout, doubling backoff, 5 max retries (6 transmissions
// total: the initial send plus up to MaxAttempts retries).
type Config struct {
	InitialTimeout time.Duration
	MaxAttempts    int
	BackoffFactor  float64
}

// DefaultConfig returns spec.md §4.6's contractual retry defaults: an
// initial send at 500ms, doubling on each of 5 retries (500, 1000, 2000,
// 4000, 8000, 16000ms), matching spec.md §8 scenario S5.
func DefaultConfig() Config {
	return Config{InitialTimeout: 500 * time.Millisecond, MaxAttempts: 5, BackoffFactor: 2}
}

// Client sends requests to one server address and retries them on its own
// schedule, while a single background goroutine continuously reads the
// socket: REP datagrams are routed to whichever Send call is waiting on
// their requestId, and CBK datagrams are forwarded to the Callbacks
// channel regardless of whether a request is outstanding (spec.md §4.4's
// callback-only listening mode, and §4.6's "callback arrives mid-wait"
// edge case).
type Client struct {
	conn       *net.UDPConn
	serverAddr *net.UDPAddr
	cfg        Config
	clientID   uint32
	seq        atomic.Uint32
	checksum   bool

	callbacks chan *wire.Message

	mu      sync.Mutex
	pending map[uint64]chan *wire.Message

	closeOnce sync.Once
	closed    chan struct{}

	correlationID string
}

// New dials serverAddr over UDP (binding an ephemeral local port so the
// server can reply and send callbacks to it), starts the background
// reader, and returns a ready Client. clientID identifies this client
// across requestId and callback registration, per spec.md §3.
func New(serverAddr string, clientID uint32, cfg Config, checksum bool) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:          conn,
		serverAddr:    addr,
		cfg:           cfg,
		clientID:      clientID,
		checksum:      checksum,
		callbacks:     make(chan *wire.Message, 32),
		pending:       make(map[uint64]chan *wire.Message),
		closed:        make(chan struct{}),
		correlationID: uuid.NewString(),
	}
	go c.readLoop()
	return c, nil
}

// LocalAddr returns the ephemeral address the server will see as this
// client's source, and the address callbacks are sent to once registered.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Callbacks returns the channel unsolicited CBK messages are delivered on.
// Callers running a dedicated monitor process drain this continuously; a
// client only sending requests can ignore it.
func (c *Client) Callbacks() <-chan *wire.Message { return c.callbacks }

// Close releases the underlying socket and stops the background reader.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// nextSeqNo allocates the next sequence number for this client, used to
// derive requestId per spec.md's invariant.
func (c *Client) nextSeqNo() uint32 { return c.seq.Add(1) }

// readLoop is the client's single reader: it owns conn.Read and runs for
// the Client's entire lifetime, regardless of whether a Send is currently
// outstanding. This is what lets a monitor process receive callbacks with
// no request in flight.
func (c *Client) readLoop() {
	buf := make([]byte, wire.HeaderLen+wire.MaxPayloadLen+4)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		msg, err := wire.Decode(buf[:n])
		if err != nil {
			log.WithError(err).Debug("clienttransport: dropping undecodable datagram")
			continue
		}
		switch msg.Header.MsgType {
		case wire.MsgCallback:
			select {
			case c.callbacks <- msg:
			default:
				log.Warn("clienttransport: callback channel full, dropping callback")
			}
		case wire.MsgReply:
			c.mu.Lock()
			ch, ok := c.pending[msg.Header.RequestID]
			c.mu.Unlock()
			if !ok {
				log.WithField("requestId", msg.Header.RequestID).Debug("clienttransport: dropping unmatched reply")
				continue
			}
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

// Send transmits a request built from op/sem/payload and retries it with
// bounded exponential backoff until a matching reply arrives or
// cfg.MaxAttempts is exhausted, per spec.md §4.6. The same requestId and
// encoded bytes are retransmitted on every attempt, which is what makes
// AMO dedup on the server side meaningful.
func (c *Client) Send(ctx context.Context, op wire.OpCode, sem wire.Semantics, payload *wire.Payload) (*wire.Message, error) {
	seqNo := c.nextSeqNo()
	req := wire.NewRequestMessage(op, sem, c.clientID, seqNo, c.checksum, payload)
	reqBytes, err := wire.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("clienttransport: encode request: %w", err)
	}

	replyCh := make(chan *wire.Message, 1)
	c.mu.Lock()
	c.pending[req.Header.RequestID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.Header.RequestID)
		c.mu.Unlock()
	}()

	timeout := c.cfg.InitialTimeout
	var lastErr error
	// attempt 1 is the initial send; attempts 2..MaxAttempts+1 are retries,
	// per spec.md §4.6 step 5 ("if attempt <= max retries, ... loop").
	for attempt := 1; attempt <= c.cfg.MaxAttempts+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := c.conn.Write(reqBytes); err != nil {
			return nil, fmt.Errorf("clienttransport: write: %w", err)
		}
		log.WithFields(log.Fields{
			"correlationId": c.correlationID,
			"opCode":        op,
			"requestId":     req.Header.RequestID,
			"attempt":       attempt,
			"timeout":       timeout,
		}).Debug("clienttransport: sent request")

		select {
		case reply := <-replyCh:
			return reply, nil
		case <-time.After(timeout):
			lastErr = fmt.Errorf("timed out after %s", timeout)
		case <-c.closed:
			return nil, fmt.Errorf("clienttransport: client closed")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		timeout = time.Duration(float64(timeout) * c.cfg.BackoffFactor)
	}
	log.WithFields(log.Fields{
		"correlationId": c.correlationID,
		"requestId":     req.Header.RequestID,
	}).Warn("clienttransport: retries exhausted")
	return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}
