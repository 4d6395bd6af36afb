package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/irctrakz/netstat/pkg/client"
	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/envelope"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fetchOptions struct {
	address  string
	port     string
	count    int
	interval time.Duration
	timeout  time.Duration
	asJSON   bool
}

func fetchCmd(flags *clientFlags) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Connect, request statistics and print the response",
		Long: `Connect to the server, send one FetchTcpStats request and print the
response. With --count the exchange is repeated on a fresh connection
each time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("address") {
				opts.address = cfg.Client.Address
			}
			if !cmd.Flags().Changed("port") {
				opts.port = strconv.Itoa(cfg.Client.Port)
			}
			if opts.timeout > 0 {
				cfg.Client.ReadTimeoutMs = int(opts.timeout / time.Millisecond)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess := client.New(cfg.Client)
			return runFetch(ctx, sess, opts, cmd.OutOrStdout())
		},
	}

	defaults := core.DefaultClientConfig()
	f := cmd.Flags()
	f.StringVarP(&opts.address, "address", "a", defaults.Address, "Server IP address")
	f.StringVarP(&opts.port, "port", "p", strconv.Itoa(defaults.Port), "Server TCP port")
	f.IntVarP(&opts.count, "count", "n", 1, "Number of exchanges to run")
	f.DurationVar(&opts.interval, "interval", time.Second, "Pause between exchanges")
	f.DurationVar(&opts.timeout, "timeout", 0, "Response timeout (default from config)")
	f.BoolVar(&opts.asJSON, "json", false, "Print each response as a JSON object")
	return cmd
}

// runFetch performs opts.count connect/fetch/disconnect rounds on sess.
func runFetch(ctx context.Context, sess *client.Session, opts fetchOptions, out io.Writer) error {
	if opts.count < 1 {
		return fmt.Errorf("%w: count must be at least 1", core.ErrConfig)
	}
	for i := 0; i < opts.count; i++ {
		if i > 0 && opts.interval > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", core.ErrCancelled, ctx.Err())
			case <-time.After(opts.interval):
			}
		}
		resp, err := fetchOnce(ctx, sess, opts.address, opts.port)
		if err != nil {
			return err
		}
		if err := printResponse(out, resp, opts.asJSON); err != nil {
			return err
		}
	}
	return nil
}

func fetchOnce(ctx context.Context, sess *client.Session, address, port string) (envelope.Envelope, error) {
	if err := sess.Connect(ctx, address, port); err != nil {
		return envelope.Envelope{}, err
	}
	defer sess.Disconnect()
	return sess.FetchStats(ctx)
}

func printResponse(out io.Writer, resp envelope.Envelope, asJSON bool) error {
	if asJSON {
		b, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(b))
		return err
	}
	for _, line := range client.ResponseLines(resp) {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
