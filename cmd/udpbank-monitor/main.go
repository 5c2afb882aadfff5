// Command udpbank-monitor registers as a callback subscriber (spec.md
// §4.4) and prints every ACCOUNT_UPDATE it receives until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	"udpbank/internal/clienttransport"
	"udpbank/internal/wire"
)

func main() {
	var (
		serverAddr string
		clientID   uint32
		ttlSeconds uint32
	)

	root := &cobra.Command{
		Use:   "udpbank-monitor",
		Short: "subscribe to ACCOUNT_UPDATE callbacks and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(serverAddr, clientID, ttlSeconds)
		},
	}
	root.Flags().StringVar(&serverAddr, "server", "127.0.0.1:8888", "server address")
	root.Flags().Uint32Var(&clientID, "client-id", 2, "this monitor's client id")
	root.Flags().Uint32Var(&ttlSeconds, "ttl-seconds", 300, "callback subscription lifetime")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runMonitor(serverAddr string, clientID, ttlSeconds uint32) error {
	c, err := clienttransport.New(serverAddr, clientID, clienttransport.DefaultConfig(), true)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := register(ctx, c, ttlSeconds); err != nil {
		return fmt.Errorf("register callback: %w", err)
	}
	log.WithFields(log.Fields{"server": serverAddr, "clientId": clientID}).Info("udpbank-monitor: subscribed, waiting for callbacks")

	renew := time.NewTicker(time.Duration(ttlSeconds) * time.Second / 2)
	defer renew.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = unregister(c)
			return nil
		case <-renew.C:
			if err := register(context.Background(), c, ttlSeconds); err != nil {
				log.WithError(err).Warn("udpbank-monitor: renewal failed")
			}
		case cb := <-c.Callbacks():
			printCallback(cb)
		}
	}
}

func register(ctx context.Context, c *clienttransport.Client, ttlSeconds uint32) error {
	p := wire.NewPayload()
	p.SetUint32(wire.TLVTTLSeconds, ttlSeconds)
	_, err := c.Send(ctx, wire.OpRegisterCallback, wire.SemanticsALO, p)
	return err
}

func unregister(c *clienttransport.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Send(ctx, wire.OpUnregisterCallback, wire.SemanticsALO, wire.NewPayload())
	return err
}

func printCallback(cb *wire.Message) {
	fmt.Printf("ACCOUNT_UPDATE: account=%s balance=%d\n",
		cb.Payload.String(wire.TLVAccountNo), cb.Payload.Int64(wire.TLVAmountCents))
	if cb.Payload.Has(wire.TLVToAccountNo) {
		fmt.Printf("  transfer to account=%s\n", cb.Payload.String(wire.TLVToAccountNo))
	}
}
