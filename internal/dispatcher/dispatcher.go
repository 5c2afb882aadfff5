// Package dispatcher implements spec.md §4.7's request-handling pipeline:
// validate a decoded request, consult the AMO cache when applicable,
// invoke the banking service, cache the reply, and report which monitors
// (if any) should receive an ACCOUNT_UPDATE callback. It is transport
// agnostic: servertransport owns the socket, loss simulation, and
// concurrency; Dispatcher only knows about Messages and byte slices.
package dispatcher

import (
	"context"
	"net"

	log "github.com/sirupsen/logrus"

	"udpbank/internal/amocache"
	"udpbank/internal/bank"
	"udpbank/internal/callback"
	"udpbank/internal/metrics"
	"udpbank/internal/wire"
)

// CallbackEvent is one ACCOUNT_UPDATE notification to fan out. TRANSFER
// produces two of these per spec.md §4.7 step 6 — one per affected
// account — everything else produces at most one.
type CallbackEvent struct {
	Op      wire.OpCode
	Payload *wire.Payload
}

// Result is everything the caller (servertransport) needs to finish
// handling one request: the reply bytes to send back, and the callback
// fan-out to perform, if any.
type Result struct {
	ReplyBytes []byte
	Callbacks  []CallbackEvent
	CallbackTo []net.Addr
}

// outcome is the result of one actual banking invocation, before the
// callback fan-out targets are resolved. It is the value threaded through
// the AMO cache's in-flight guard so that concurrent retries of the same
// request share one execution's full outcome, not just its reply bytes.
type outcome struct {
	replyBytes []byte
	callbacks  []CallbackEvent
}

// Dispatcher wires together the AMO cache, callback registry, and banking
// service behind one entrypoint, per spec.md §4.7.
type Dispatcher struct {
	bank      *bank.Service
	amo       *amocache.Cache
	callbacks *callback.Registry
	metrics   *metrics.Registry
}

// New returns a Dispatcher over svc, cache, and registry. m may be nil, in
// which case instrumentation is skipped (used by package tests that don't
// care about counters).
func New(svc *bank.Service, cache *amocache.Cache, registry *callback.Registry, m *metrics.Registry) *Dispatcher {
	return &Dispatcher{bank: svc, amo: cache, callbacks: registry, metrics: m}
}

// Dispatch handles one decoded REQ message end to end, per spec.md §4.7's
// six steps: validate, consult the AMO cache, execute (exactly once even
// under concurrent retransmissions), cache the reply, determine callback
// fan-out, and return both to the caller. ctx is accepted for future
// cancellation/tracing hooks; the banking service itself is synchronous
// and in-memory (spec.md §6.2) so nothing here currently blocks on it.
func (d *Dispatcher) Dispatch(ctx context.Context, req *wire.Message, from net.Addr) (Result, error) {
	if err := wire.ValidateRequired(req.Header.OpCode, req.Payload); err != nil {
		return d.errorResult(req, wire.StatusBadRequest), nil
	}

	if req.Header.OpCode == wire.OpRegisterCallback {
		d.callbacks.Register(req.Header.ClientID, from, req.Payload.Uint32(wire.TLVTTLSeconds))
		return d.errorResult(req, wire.StatusOK), nil
	}
	if req.Header.OpCode == wire.OpUnregisterCallback {
		d.callbacks.Unregister(req.Header.ClientID)
		return d.errorResult(req, wire.StatusOK), nil
	}

	if req.Header.Semantics == wire.SemanticsAMO {
		if cached, ok := d.amo.Lookup(req.Header.ClientID, req.Header.RequestID); ok {
			if d.metrics != nil {
				d.metrics.AMOCacheHits.Inc()
			}
			return Result{ReplyBytes: cached}, nil
		}
		if d.metrics != nil {
			d.metrics.AMOCacheMisses.Inc()
		}
	}

	exec := func() (any, error) {
		if req.Header.Semantics == wire.SemanticsAMO {
			if cached, ok := d.amo.Lookup(req.Header.ClientID, req.Header.RequestID); ok {
				return outcome{replyBytes: cached}, nil
			}
		}
		status, payload, callbacks := d.invoke(req)
		reply := wire.NewReplyMessage(req, status, payload)
		replyBytes, err := wire.Encode(reply)
		if err != nil {
			return nil, err
		}
		if req.Header.Semantics == wire.SemanticsAMO {
			d.amo.Store(req.Header.ClientID, req.Header.RequestID, replyBytes)
		}
		return outcome{replyBytes: replyBytes, callbacks: callbacks}, nil
	}

	var out outcome
	var err error
	if req.Header.Semantics == wire.SemanticsAMO {
		var v any
		v, err, _ = d.amo.ExecuteAny(req.Header.ClientID, req.Header.RequestID, exec)
		if err == nil {
			out = v.(outcome)
		}
	} else {
		var v any
		v, err = exec()
		if err == nil {
			out = v.(outcome)
		}
	}
	if err != nil {
		log.WithError(err).Warn("dispatch: executing request failed")
		return d.errorResult(req, wire.StatusInternalError), nil
	}

	result := Result{ReplyBytes: out.replyBytes}
	if len(out.callbacks) > 0 {
		result.Callbacks = out.callbacks
		result.CallbackTo = d.callbacks.Addresses(req.Header.ClientID)
		if d.metrics != nil {
			if len(result.CallbackTo) > 0 {
				d.metrics.CallbacksSent.Add(float64(len(result.CallbackTo) * len(out.callbacks)))
			} else {
				d.metrics.CallbacksSuppressed.Add(float64(len(out.callbacks)))
			}
		}
	}
	return result, nil
}

// errorResult builds a reply carrying status for a request that either
// failed validation before reaching the banking service, or is one of the
// callback-registry operations handled outside the AMO/invoke path.
func (d *Dispatcher) errorResult(req *wire.Message, status wire.Status) Result {
	reply := wire.NewReplyMessage(req, status, nil)
	b, err := wire.Encode(reply)
	if err != nil {
		log.WithError(err).Error("dispatch: encoding reply failed")
		return Result{}
	}
	return Result{ReplyBytes: b}
}

// invoke calls the banking service for req's opCode and builds the reply
// payload, plus an optional ACCOUNT_UPDATE callback payload when the
// operation mutated a balance (spec.md §4.7 step 6; operations table).
func (d *Dispatcher) invoke(req *wire.Message) (wire.Status, *wire.Payload, []CallbackEvent) {
	p := req.Payload
	accountUpdate := func(acctNo string, bal int64) CallbackEvent {
		cb := wire.NewPayload()
		cb.SetString(wire.TLVAccountNo, acctNo)
		cb.SetInt64(wire.TLVAmountCents, bal)
		return CallbackEvent{Op: wire.OpAccountUpdate, Payload: cb}
	}

	switch req.Header.OpCode {
	case wire.OpOpenAccount:
		cur := wire.Currency(p.Uint8(wire.TLVCurrency))
		status, acctNo, bal := d.bank.OpenAccount(p.String(wire.TLVUsername), p.String(wire.TLVPassword), cur, p.Int64(wire.TLVAmountCents))
		out := wire.NewPayload()
		if status == wire.StatusOK {
			out.SetString(wire.TLVAccountNo, acctNo)
			out.SetInt64(wire.TLVAmountCents, bal)
		}
		return status, out, nil

	case wire.OpCloseAccount:
		status, bal := d.bank.CloseAccount(p.String(wire.TLVUsername), p.String(wire.TLVPassword), p.String(wire.TLVAccountNo))
		out := wire.NewPayload()
		if status == wire.StatusOK {
			out.SetInt64(wire.TLVAmountCents, bal)
		}
		return status, out, nil

	case wire.OpDeposit:
		cur := wire.Currency(p.Uint8(wire.TLVCurrency))
		status, bal := d.bank.Deposit(p.String(wire.TLVUsername), p.String(wire.TLVPassword), p.String(wire.TLVAccountNo), cur, p.Has(wire.TLVCurrency), p.Int64(wire.TLVAmountCents))
		out := wire.NewPayload()
		if status != wire.StatusOK {
			return status, out, nil
		}
		out.SetInt64(wire.TLVAmountCents, bal)
		return status, out, []CallbackEvent{accountUpdate(p.String(wire.TLVAccountNo), bal)}

	case wire.OpWithdraw:
		cur := wire.Currency(p.Uint8(wire.TLVCurrency))
		status, bal := d.bank.Withdraw(p.String(wire.TLVUsername), p.String(wire.TLVPassword), p.String(wire.TLVAccountNo), cur, p.Has(wire.TLVCurrency), p.Int64(wire.TLVAmountCents))
		out := wire.NewPayload()
		if status != wire.StatusOK {
			return status, out, nil
		}
		out.SetInt64(wire.TLVAmountCents, bal)
		return status, out, []CallbackEvent{accountUpdate(p.String(wire.TLVAccountNo), bal)}

	case wire.OpQueryBalance:
		status, bal, cur := d.bank.QueryBalance(p.String(wire.TLVUsername), p.String(wire.TLVPassword), p.String(wire.TLVAccountNo))
		out := wire.NewPayload()
		if status == wire.StatusOK {
			out.SetInt64(wire.TLVAmountCents, bal)
			out.SetUint8(wire.TLVCurrency, uint8(cur))
		}
		return status, out, nil

	case wire.OpTransfer:
		status, srcBal, dstBal := d.bank.Transfer(p.String(wire.TLVUsername), p.String(wire.TLVPassword), p.String(wire.TLVAccountNo), p.String(wire.TLVToAccountNo), p.Int64(wire.TLVAmountCents))
		out := wire.NewPayload()
		if status != wire.StatusOK {
			return status, out, nil
		}
		out.SetInt64(wire.TLVAmountCents, srcBal)
		// spec.md §4.7 step 6: TRANSFER emits two callbacks, one per
		// affected account, each carrying that account's own new balance.
		callbacks := []CallbackEvent{
			accountUpdate(p.String(wire.TLVAccountNo), srcBal),
			accountUpdate(p.String(wire.TLVToAccountNo), dstBal),
		}
		return status, out, callbacks

	default:
		return wire.StatusBadRequest, wire.NewPayload(), nil
	}
}
