// Package servertransport owns the UDP socket lifecycle on the server
// side: the receive loop, the loss simulator gate, the worker pool that
// decodes and dispatches datagrams, and reply/callback transmission. It
// is the concrete realization of spec.md §4.5's state machine (Stopped
// -> Running -> Stopped), built around a cancellable context for
// lifecycle control and a closing-channel/sync.Once shutdown idiom for
// its background goroutines.
package servertransport

import (
	"context"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"udpbank/internal/dispatcher"
	"udpbank/internal/losssim"
	"udpbank/internal/metrics"
	"udpbank/internal/wire"
)

const maxDatagramSize = wire.HeaderLen + wire.MaxPayloadLen + 4

// Server owns a UDP socket and dispatches every well-formed, non-dropped
// datagram it receives to a Dispatcher, per spec.md §4.5.
type Server struct {
	conn       *net.UDPConn
	dispatcher *dispatcher.Dispatcher
	loss       *losssim.Simulator
	metrics    *metrics.Registry
	limiter    *rate.Limiter
	workers    int

	writeMu sync.Mutex
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithWorkers sets the number of concurrent goroutines processing inbound
// datagrams (SPEC_FULL.md §5's worker pool; default 8 if unset).
func WithWorkers(n int) Option {
	return func(s *Server) { s.workers = n }
}

// WithRateLimit caps inbound datagram processing at perSec per second,
// bursting up to perSec. A non-positive perSec disables the limiter; this
// is ambient robustness, not a spec-mandated feature.
func WithRateLimit(perSec float64) Option {
	return func(s *Server) {
		if perSec > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSec), int(perSec))
		}
	}
}

// New binds a UDP socket on addr and returns a Server ready to Run. The
// socket is bound eagerly so callers can observe bind failures before
// starting the receive loop.
func New(addr string, d *dispatcher.Dispatcher, loss *losssim.Simulator, m *metrics.Registry, opts ...Option) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{conn: conn, dispatcher: d, loss: loss, metrics: m, workers: 8}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LocalAddr returns the bound socket's address, useful in tests that bind
// to port 0.
func (s *Server) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close closes the underlying socket, unblocking Run.
func (s *Server) Close() error { return s.conn.Close() }

type datagram struct {
	data []byte
	from *net.UDPAddr
}

// Run reads datagrams until ctx is cancelled or the socket is closed,
// fanning each one out to a bounded worker pool via an errgroup (the
// teacher's preferred coordinated-goroutine idiom, generalized here from
// its connection pool's single background reaper to an N-worker pool).
func (s *Server) Run(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.SetRunning(true)
		defer s.metrics.SetRunning(false)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan datagram, s.workers*4)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case dg, ok := <-jobs:
					if !ok {
						return nil
					}
					s.handle(gctx, dg)
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.conn.Close()
	})

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			close(jobs)
			if gctx.Err() != nil {
				return g.Wait()
			}
			_ = g.Wait()
			return err
		}
		if s.limiter != nil && !s.limiter.Allow() {
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case jobs <- datagram{data: cp, from: from}:
		case <-gctx.Done():
			close(jobs)
			return g.Wait()
		}
	}
}

// handle processes one inbound datagram: the loss gate, decode, dispatch,
// and reply/callback transmission, per spec.md §4.5/§4.7.
func (s *Server) handle(ctx context.Context, dg datagram) {
	if s.loss != nil && s.loss.ShouldDropRequest() {
		if s.metrics != nil {
			s.metrics.RequestsDroppedLoss.Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.RequestsReceived.Inc()
	}

	req, err := wire.Decode(dg.data)
	if err != nil {
		log.WithError(err).Debug("servertransport: dropping undecodable datagram")
		if s.metrics != nil {
			s.metrics.RequestsDroppedDecode.Inc()
		}
		return
	}
	if req.Header.MsgType != wire.MsgRequest {
		log.WithField("msgType", req.Header.MsgType).Debug("servertransport: dropping non-request datagram")
		return
	}

	result, err := s.dispatcher.Dispatch(ctx, req, dg.from)
	if err != nil {
		log.WithError(err).Warn("servertransport: dispatch failed")
		return
	}

	s.sendReply(result.ReplyBytes, dg.from)
	if len(result.CallbackTo) > 0 {
		s.sendCallbacks(req.Header.ClientID, result, dg.from)
	}
}

// sendReply writes replyBytes back to addr, subject to the loss
// simulator's reply-drop gate (spec.md §4.2).
func (s *Server) sendReply(replyBytes []byte, addr *net.UDPAddr) {
	if len(replyBytes) == 0 {
		return
	}
	if s.loss != nil && s.loss.ShouldDropReply() {
		if s.metrics != nil {
			s.metrics.RepliesDroppedLoss.Inc()
		}
		return
	}
	s.writeMu.Lock()
	_, err := s.conn.WriteToUDP(replyBytes, addr)
	s.writeMu.Unlock()
	if err != nil {
		log.WithError(err).Warn("servertransport: writing reply failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RepliesSent.Inc()
	}
}

// sendCallbacks transmits one ACCOUNT_UPDATE CBK datagram per
// result.Callbacks entry (TRANSFER produces two, one per affected account)
// to every address in result.CallbackTo, each send independently subject
// to the reply-drop gate since callbacks share the outbound-loss
// probability (spec.md §4.2).
func (s *Server) sendCallbacks(originatorClientID uint32, result dispatcher.Result, originAddr *net.UDPAddr) {
	for _, cb := range result.Callbacks {
		cbMsg := wire.NewCallbackMessage(cb.Op, originatorClientID, 0, false, cb.Payload)
		cbBytes, err := wire.Encode(cbMsg)
		if err != nil {
			log.WithError(err).Warn("servertransport: encoding callback failed")
			continue
		}
		for _, addr := range result.CallbackTo {
			udpAddr, ok := addr.(*net.UDPAddr)
			if !ok {
				continue
			}
			if s.loss != nil && s.loss.ShouldDropReply() {
				if s.metrics != nil {
					s.metrics.RepliesDroppedLoss.Inc()
				}
				continue
			}
			s.writeMu.Lock()
			_, err := s.conn.WriteToUDP(cbBytes, udpAddr)
			s.writeMu.Unlock()
			if err != nil {
				log.WithError(err).Warn("servertransport: writing callback failed")
			}
		}
	}
}
