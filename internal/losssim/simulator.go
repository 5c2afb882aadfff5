// Package losssim implements the probabilistic datagram-loss simulator
// described in spec.md §4.2: independent Bernoulli draws per direction,
// purely observational counters, silent drops (no ICMP, no error to peer).
package losssim

import (
	"math/rand"
	"sync/atomic"
)

// Simulator drops inbound requests and outbound replies independently at
// configured rates. It is safe for concurrent use.
type Simulator struct {
	requestDropProb float64
	replyDropProb   float64
	rng             func() float64

	requestsReceived atomic.Uint64
	requestsDropped  atomic.Uint64
	repliesReceived  atomic.Uint64
	repliesDropped   atomic.Uint64
}

// New returns a Simulator with the given drop probabilities, each clamped
// to [0, 1]. reqDropProb gates inbound requests; repDropProb gates outbound
// replies and callbacks.
func New(reqDropProb, repDropProb float64) *Simulator {
	return &Simulator{
		requestDropProb: clamp01(reqDropProb),
		replyDropProb:   clamp01(repDropProb),
		rng:             rand.Float64,
	}
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// ShouldDropRequest performs one Bernoulli draw for an inbound request. A
// draw below the configured probability means drop; results are tallied in
// the Received/Dropped counters regardless of outcome.
func (s *Simulator) ShouldDropRequest() bool {
	s.requestsReceived.Add(1)
	drop := s.rng() < s.requestDropProb
	if drop {
		s.requestsDropped.Add(1)
	}
	return drop
}

// ShouldDropReply performs one Bernoulli draw for an outbound reply or
// callback datagram.
func (s *Simulator) ShouldDropReply() bool {
	s.repliesReceived.Add(1)
	drop := s.rng() < s.replyDropProb
	if drop {
		s.repliesDropped.Add(1)
	}
	return drop
}

// Stats is a point-in-time snapshot of the simulator's observational
// counters (spec.md §9: never exposed on the wire, internal only).
type Stats struct {
	RequestsSeen    uint64
	RequestsDropped uint64
	RepliesSeen     uint64
	RepliesDropped  uint64
}

// Snapshot returns the current counter values.
func (s *Simulator) Snapshot() Stats {
	return Stats{
		RequestsSeen:    s.requestsReceived.Load(),
		RequestsDropped: s.requestsDropped.Load(),
		RepliesSeen:     s.repliesReceived.Load(),
		RepliesDropped:  s.repliesDropped.Load(),
	}
}
