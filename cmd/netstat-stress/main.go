package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/irctrakz/netstat/pkg/client"
	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/logging"
	"github.com/irctrakz/netstat/pkg/server"
)

type stressOptions struct {
	address    string
	port       string
	clients    int
	rounds     int
	concurrent bool
	embedded   bool
	timeout    time.Duration
}

// result aggregates the outcome of every exchange in a run.
type result struct {
	ok       uint64
	failed   uint64
	mu       sync.Mutex
	latency  []time.Duration
	failures map[string]uint64
}

func (r *result) record(d time.Duration, err error) {
	if err == nil {
		atomic.AddUint64(&r.ok, 1)
	} else {
		atomic.AddUint64(&r.failed, 1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if r.failures == nil {
			r.failures = make(map[string]uint64)
		}
		r.failures[core.Describe(err)]++
		return
	}
	r.latency = append(r.latency, d)
}

func (r *result) percentile(p float64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.latency) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), r.latency...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func main() {
	var opts stressOptions

	cmd := &cobra.Command{
		Use:   "netstat-stress",
		Short: "Drive many client sessions against a netstat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.Flags()
	f.StringVarP(&opts.address, "address", "a", core.DefaultAddress, "Server IP address")
	f.StringVarP(&opts.port, "port", "p", strconv.Itoa(core.DefaultPort), "Server TCP port")
	f.IntVar(&opts.clients, "clients", 8, "Number of client sessions")
	f.IntVar(&opts.rounds, "rounds", 100, "Exchanges per client")
	f.BoolVar(&opts.concurrent, "concurrent", false, "Run the clients in parallel")
	f.BoolVar(&opts.embedded, "embedded", false, "Start an in-process server on an ephemeral port")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Per-exchange timeout")

	// Quieter logs by default
	logging.SetLevel(logging.WarnLevel)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", core.Describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts stressOptions, out io.Writer) error {
	if opts.clients < 1 || opts.rounds < 1 {
		return fmt.Errorf("%w: clients and rounds must be at least 1", core.ErrConfig)
	}

	var srv *server.Server
	if opts.embedded {
		srv = server.New(core.DefaultServerConfig(), nil)
		if err := srv.Start("127.0.0.1", "0"); err != nil {
			return err
		}
		defer srv.Stop()
		host, port, err := net.SplitHostPort(srv.Addr().String())
		if err != nil {
			return err
		}
		opts.address, opts.port = host, port
	}

	cfg := core.DefaultClientConfig()
	cfg.ReadTimeoutMs = int(opts.timeout / time.Millisecond)
	var conns core.ConnMetrics
	res := &result{}

	worker := func() {
		sess := client.New(cfg, client.WithConnMetrics(&conns))
		for i := 0; i < opts.rounds; i++ {
			start := time.Now()
			err := exchange(ctx, sess, opts.address, opts.port)
			res.record(time.Since(start), err)
		}
	}

	start := time.Now()
	if opts.concurrent {
		var wg sync.WaitGroup
		for i := 0; i < opts.clients; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				worker()
			}()
		}
		wg.Wait()
	} else {
		for i := 0; i < opts.clients; i++ {
			worker()
		}
	}
	elapsed := time.Since(start)

	// Print summary
	ok, failed := atomic.LoadUint64(&res.ok), atomic.LoadUint64(&res.failed)
	total := ok + failed
	cm := conns.Load()
	fmt.Fprintf(out, "Exchanges: %d ok=%d failed=%d in %v (%.0f/s)\n",
		total, ok, failed, elapsed, float64(total)/elapsed.Seconds())
	fmt.Fprintf(out, "Latency: p50=%v p90=%v p99=%v\n",
		res.percentile(0.50), res.percentile(0.90), res.percentile(0.99))
	fmt.Fprintf(out, "Connections: created=%d closed=%d bytes=%d/%d errors=%d\n",
		cm.ConnectionsCreated, cm.ConnectionsClosed, cm.BytesSent, cm.BytesReceived, cm.Errors)
	for reason, n := range res.failures {
		fmt.Fprintf(out, "  %dx %s\n", n, reason)
	}

	if cm.Open() != 0 {
		fmt.Fprintf(out, "WARN: %d client connections still open\n", cm.Open())
	}
	if srv != nil {
		// Connection goroutines finish shortly after the last response.
		deadline := time.Now().Add(time.Second)
		for srv.ActiveConnections() != 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if n := srv.ActiveConnections(); n != 0 {
			fmt.Fprintf(out, "WARN: server still holds %d connections\n", n)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d exchanges failed", failed, total)
	}
	return nil
}

func exchange(ctx context.Context, sess *client.Session, address, port string) error {
	if err := sess.Connect(ctx, address, port); err != nil {
		return err
	}
	defer sess.Disconnect()
	_, err := sess.FetchStats(ctx)
	return err
}
