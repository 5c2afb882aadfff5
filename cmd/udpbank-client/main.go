// Command udpbank-client is a one-shot CLI for issuing single banking
// operations against a udpbankd server: one cobra subcommand per
// operation, flag-derived request fields, one Run closure each.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"udpbank/internal/clienttransport"
	"udpbank/internal/wire"
)

func main() {
	var (
		serverAddr string
		clientID   uint32
		semantics  string
		checksum   bool
	)

	root := &cobra.Command{Use: "udpbank-client"}
	root.PersistentFlags().StringVar(&serverAddr, "server", "127.0.0.1:8888", "server address")
	root.PersistentFlags().Uint32Var(&clientID, "client-id", 1, "this client's id")
	root.PersistentFlags().StringVar(&semantics, "semantics", "alo", "alo or amo")
	root.PersistentFlags().BoolVar(&checksum, "checksum", true, "append a CRC32 trailer")

	newClient := func() (*clienttransport.Client, wire.Semantics, error) {
		sem := wire.SemanticsALO
		if semantics == "amo" {
			sem = wire.SemanticsAMO
		}
		c, err := clienttransport.New(serverAddr, clientID, clienttransport.DefaultConfig(), checksum)
		return c, sem, err
	}

	printReply := func(op string, reply *wire.Message) {
		if reply.Header.Status != wire.StatusOK {
			fmt.Printf("%s: %s\n", op, reply.Header.Status)
			return
		}
		fmt.Printf("%s: OK\n", op)
		if reply.Payload.Has(wire.TLVAccountNo) {
			fmt.Printf("  account: %s\n", reply.Payload.String(wire.TLVAccountNo))
		}
		if reply.Payload.Has(wire.TLVAmountCents) {
			fmt.Printf("  balance: %d cents\n", reply.Payload.Int64(wire.TLVAmountCents))
		}
		if reply.Payload.Has(wire.TLVCurrency) {
			fmt.Printf("  currency: %s\n", wire.Currency(reply.Payload.Uint8(wire.TLVCurrency)))
		}
	}

	root.AddCommand(openAccountCmd(newClient, printReply))
	root.AddCommand(closeAccountCmd(newClient, printReply))
	root.AddCommand(depositCmd(newClient, printReply))
	root.AddCommand(withdrawCmd(newClient, printReply))
	root.AddCommand(queryBalanceCmd(newClient, printReply))
	root.AddCommand(transferCmd(newClient, printReply))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type clientFactory func() (*clienttransport.Client, wire.Semantics, error)
type replyPrinter func(op string, reply *wire.Message)

func sendAndPrint(factory clientFactory, printer replyPrinter, op wire.OpCode, opName string, payload *wire.Payload) error {
	c, sem, err := factory()
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reply, err := c.Send(ctx, op, sem, payload)
	if err != nil {
		return err
	}
	printer(opName, reply)
	return nil
}

func openAccountCmd(factory clientFactory, printer replyPrinter) *cobra.Command {
	var username, password, currency string
	var initial int64
	cmd := &cobra.Command{
		Use: "open-account",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := wire.NewPayload()
			p.SetString(wire.TLVUsername, username)
			p.SetString(wire.TLVPassword, password)
			p.SetUint8(wire.TLVCurrency, uint8(parseCurrency(currency)))
			p.SetInt64(wire.TLVAmountCents, initial)
			return sendAndPrint(factory, printer, wire.OpOpenAccount, "OPEN_ACCOUNT", p)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&currency, "currency", "SGD", "currency code")
	cmd.Flags().Int64Var(&initial, "initial-cents", 0, "initial balance in cents")
	return cmd
}

func closeAccountCmd(factory clientFactory, printer replyPrinter) *cobra.Command {
	var username, password, account string
	cmd := &cobra.Command{
		Use: "close-account",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := wire.NewPayload()
			p.SetString(wire.TLVUsername, username)
			p.SetString(wire.TLVPassword, password)
			p.SetString(wire.TLVAccountNo, account)
			return sendAndPrint(factory, printer, wire.OpCloseAccount, "CLOSE_ACCOUNT", p)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&account, "account", "", "account number")
	return cmd
}

func depositCmd(factory clientFactory, printer replyPrinter) *cobra.Command {
	var username, password, account, currency string
	var amount int64
	cmd := &cobra.Command{
		Use: "deposit",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := wire.NewPayload()
			p.SetString(wire.TLVUsername, username)
			p.SetString(wire.TLVPassword, password)
			p.SetString(wire.TLVAccountNo, account)
			p.SetUint8(wire.TLVCurrency, uint8(parseCurrency(currency)))
			p.SetInt64(wire.TLVAmountCents, amount)
			return sendAndPrint(factory, printer, wire.OpDeposit, "DEPOSIT", p)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&account, "account", "", "account number")
	cmd.Flags().StringVar(&currency, "currency", "SGD", "currency code")
	cmd.Flags().Int64Var(&amount, "amount-cents", 0, "amount in cents")
	return cmd
}

func withdrawCmd(factory clientFactory, printer replyPrinter) *cobra.Command {
	var username, password, account, currency string
	var amount int64
	cmd := &cobra.Command{
		Use: "withdraw",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := wire.NewPayload()
			p.SetString(wire.TLVUsername, username)
			p.SetString(wire.TLVPassword, password)
			p.SetString(wire.TLVAccountNo, account)
			p.SetUint8(wire.TLVCurrency, uint8(parseCurrency(currency)))
			p.SetInt64(wire.TLVAmountCents, amount)
			return sendAndPrint(factory, printer, wire.OpWithdraw, "WITHDRAW", p)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&account, "account", "", "account number")
	cmd.Flags().StringVar(&currency, "currency", "SGD", "currency code")
	cmd.Flags().Int64Var(&amount, "amount-cents", 0, "amount in cents")
	return cmd
}

func queryBalanceCmd(factory clientFactory, printer replyPrinter) *cobra.Command {
	var username, password, account string
	cmd := &cobra.Command{
		Use: "query-balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := wire.NewPayload()
			p.SetString(wire.TLVUsername, username)
			p.SetString(wire.TLVPassword, password)
			p.SetString(wire.TLVAccountNo, account)
			return sendAndPrint(factory, printer, wire.OpQueryBalance, "QUERY_BALANCE", p)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&account, "account", "", "account number")
	return cmd
}

func transferCmd(factory clientFactory, printer replyPrinter) *cobra.Command {
	var username, password, from, to string
	var amount int64
	cmd := &cobra.Command{
		Use: "transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := wire.NewPayload()
			p.SetString(wire.TLVUsername, username)
			p.SetString(wire.TLVPassword, password)
			p.SetString(wire.TLVAccountNo, from)
			p.SetString(wire.TLVToAccountNo, to)
			p.SetInt64(wire.TLVAmountCents, amount)
			return sendAndPrint(factory, printer, wire.OpTransfer, "TRANSFER", p)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&from, "from", "", "source account number")
	cmd.Flags().StringVar(&to, "to", "", "destination account number")
	cmd.Flags().Int64Var(&amount, "amount-cents", 0, "amount in cents")
	return cmd
}

func parseCurrency(s string) wire.Currency {
	switch s {
	case "USD":
		return wire.CurrencyUSD
	case "EUR":
		return wire.CurrencyEUR
	case "GBP":
		return wire.CurrencyGBP
	case "JPY":
		return wire.CurrencyJPY
	case "CNY":
		return wire.CurrencyCNY
	default:
		return wire.CurrencySGD
	}
}
