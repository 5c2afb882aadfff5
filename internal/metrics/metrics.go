// Package metrics exposes the ambient observability surface described in
// SPEC_FULL.md §4.10: Prometheus counters over HTTP plus a liveness probe.
// It is pure observability — it has no bearing on the ALO/AMO contract or
// the wire protocol (spec.md's Non-goals do not apply here, since this is
// ambient infrastructure rather than a protocol feature).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Registry bundles the counters the server transport and dispatcher
// increment as they process traffic.
type Registry struct {
	RequestsReceived      prometheus.Counter
	RequestsDroppedLoss   prometheus.Counter
	RequestsDroppedDecode prometheus.Counter
	RepliesSent           prometheus.Counter
	RepliesDroppedLoss    prometheus.Counter
	AMOCacheHits          prometheus.Counter
	AMOCacheMisses        prometheus.Counter
	CallbacksSent         prometheus.Counter
	CallbacksSuppressed   prometheus.Counter

	reg     *prometheus.Registry
	running prometheus.Gauge
}

// NewRegistry constructs and registers all counters against a fresh
// Prometheus registry (kept private to this server instance, rather than
// the global default registry, so multiple servers in one test binary
// don't collide).
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		RequestsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udpbank_requests_received_total", Help: "Inbound datagrams that passed the loss simulator, before decoding.",
		}),
		RequestsDroppedLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udpbank_requests_dropped_loss_total", Help: "Inbound requests dropped by the loss simulator.",
		}),
		RequestsDroppedDecode: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udpbank_requests_dropped_decode_total", Help: "Inbound datagrams dropped for failing to decode.",
		}),
		RepliesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udpbank_replies_sent_total", Help: "Reply datagrams transmitted.",
		}),
		RepliesDroppedLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udpbank_replies_dropped_loss_total", Help: "Outbound replies dropped by the loss simulator.",
		}),
		AMOCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udpbank_amo_cache_hits_total", Help: "AMO cache lookups that found a cached reply.",
		}),
		AMOCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udpbank_amo_cache_misses_total", Help: "AMO cache lookups with no cached reply.",
		}),
		CallbacksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udpbank_callbacks_sent_total", Help: "ACCOUNT_UPDATE callbacks transmitted to monitors.",
		}),
		CallbacksSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "udpbank_callbacks_suppressed_total", Help: "Callbacks not sent because no monitor other than the originator was registered.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "udpbank_server_running", Help: "1 while the server transport's receive loop is running.",
		}),
	}
	reg.MustRegister(
		r.RequestsReceived, r.RequestsDroppedLoss, r.RequestsDroppedDecode,
		r.RepliesSent, r.RepliesDroppedLoss,
		r.AMOCacheHits, r.AMOCacheMisses,
		r.CallbacksSent, r.CallbacksSuppressed,
		r.running,
	)
	return r
}

// SetRunning reflects the server transport's state machine (spec.md §4.5).
func (r *Registry) SetRunning(running bool) {
	if running {
		r.running.Set(1)
	} else {
		r.running.Set(0)
	}
}

// Server is an HTTP server exposing /healthz and /metrics over a chi
// router with logrus request logging timed via time.Since.
type Server struct {
	httpSrv *http.Server
}

// NewServer builds (but does not start) a metrics/health server bound to
// addr, backed by reg.
func NewServer(addr string, reg *Registry) *Server {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg.reg, promhttp.HandlerOpts{}))
	return &Server{httpSrv: &http.Server{Addr: addr, Handler: r}}
}

// requestLogger times each request and logs it with logrus.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("metrics server request")
	})
}

// Start runs the HTTP server until ctx is cancelled. Failures are logged
// as warnings and never bring down the UDP transport (SPEC_FULL.md §7).
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warnf("metrics server: %v", err)
	}
}
