// Command udpbankd is the UDP banking RPC server described in spec.md
// §6.3: a positional-args launcher (`<port> [requestLoss%] [replyLoss%]`)
// that loads ambient configuration for everything else, then runs the
// receive loop until signalled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	"udpbank/internal/amocache"
	"udpbank/internal/bank"
	"udpbank/internal/callback"
	"udpbank/internal/config"
	"udpbank/internal/dispatcher"
	"udpbank/internal/losssim"
	"udpbank/internal/metrics"
	"udpbank/internal/servertransport"
)

func main() {
	root := &cobra.Command{
		Use:   "udpbankd <port> [requestLoss%] [replyLoss%]",
		Short: "run the UDP banking RPC server",
		Args:  cobra.RangeArgs(0, 3),
		RunE:  run,
	}
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(os.Getenv("UDPBANK_ENV"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if len(args) > 0 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		cfg.ListenPort = port
	}
	if len(args) > 1 {
		pct, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid requestLoss%% %q: %w", args[1], err)
		}
		if pct < 0 || pct > 100 {
			return fmt.Errorf("requestLoss%% %v out of range [0,100]", pct)
		}
		cfg.RequestLossPercent = pct
	}
	if len(args) > 2 {
		pct, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid replyLoss%% %q: %w", args[2], err)
		}
		if pct < 0 || pct > 100 {
			return fmt.Errorf("replyLoss%% %v out of range [0,100]", pct)
		}
		cfg.ReplyLossPercent = pct
	}

	reg := metrics.NewRegistry()
	svc := bank.NewService()
	cache := amocache.New(cfg.AMOCacheTTL, 0)
	registry := callback.New()
	d := dispatcher.New(svc, cache, registry, reg)
	loss := losssim.New(cfg.RequestLossPercent/100, cfg.ReplyLossPercent/100)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	opts := []servertransport.Option{}
	if cfg.InboundRateLimitPerSec > 0 {
		opts = append(opts, servertransport.WithRateLimit(cfg.InboundRateLimitPerSec))
	}
	srv, err := servertransport.New(addr, d, loss, reg, opts...)
	if err != nil {
		return fmt.Errorf("bind udp socket: %w", err)
	}
	defer srv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr, reg)
		go metricsSrv.Start(ctx)
		log.WithField("addr", cfg.MetricsAddr).Info("udpbankd: metrics server listening")
	}

	log.WithFields(log.Fields{
		"addr":        srv.LocalAddr(),
		"requestLoss": cfg.RequestLossPercent,
		"replyLoss":   cfg.ReplyLossPercent,
	}).Info("udpbankd: listening")

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Info("udpbankd: shut down")
	return nil
}
