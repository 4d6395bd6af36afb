package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/irctrakz/netstat/pkg/admin"
	"github.com/irctrakz/netstat/pkg/config"
	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/logging"
	"github.com/irctrakz/netstat/pkg/metrics"
	"github.com/irctrakz/netstat/pkg/server"
	"github.com/irctrakz/netstat/pkg/stats"
)

type runOptions struct {
	configPath      string
	address         string
	port            int
	readTimeout     time.Duration
	persistent      bool
	provider        string
	adminAddr       string
	metricsInterval time.Duration
	metricsFormat   string
	logLevel        string
	selfCheck       bool
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the statistics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ApplyLogging(); err != nil {
				return err
			}
			return serve(cfg, opts.selfCheck)
		},
	}

	defaults := core.DefaultServerConfig()
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (default: XDG config path if present)")
	f.StringVarP(&opts.address, "address", "a", defaults.Address, "IP address to listen on")
	f.IntVarP(&opts.port, "port", "p", defaults.Port, "TCP port to listen on")
	f.DurationVar(&opts.readTimeout, "read-timeout", defaults.ReadTimeout(), "How long to wait for a client request")
	f.BoolVar(&opts.persistent, "persistent", false, "Serve requests until the client disconnects")
	f.StringVar(&opts.provider, "provider", defaults.Provider, "Statistics provider (ledger, procfs)")
	f.StringVar(&opts.adminAddr, "admin-addr", "", "host:port for health, metrics and event endpoints")
	f.DurationVar(&opts.metricsInterval, "metrics-interval", 0, "Period of the metrics log report (0 disables)")
	f.StringVar(&opts.metricsFormat, "metrics-format", "text", "Metrics report format (text, json)")
	f.StringVar(&opts.logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	f.BoolVar(&opts.selfCheck, "self-check", false, "Fetch statistics from the server once after it starts")
	return cmd
}

// apply copies the flags the user set over the file and environment values.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("address") {
		cfg.Server.Address = o.address
	}
	if f.Changed("port") {
		cfg.Server.Port = o.port
	}
	if f.Changed("read-timeout") {
		cfg.Server.ReadTimeoutMs = int(o.readTimeout / time.Millisecond)
	}
	if f.Changed("persistent") {
		cfg.Server.Persistent = o.persistent
	}
	if f.Changed("provider") {
		cfg.Server.Provider = o.provider
	}
	if f.Changed("admin-addr") {
		cfg.Admin.Address = o.adminAddr
	}
	if f.Changed("metrics-interval") {
		cfg.Admin.ReportIntervalSec = int(o.metricsInterval / time.Second)
	}
	if f.Changed("metrics-format") {
		cfg.Admin.ReportFormat = o.metricsFormat
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
}

func serve(cfg *config.Config, selfCheck bool) error {
	ledger := stats.NewLedger()
	provider, err := stats.NewProvider(cfg.Server.Provider, ledger)
	if err != nil {
		return err
	}

	events := logging.NewEventStream(logging.DefaultHistory)
	srvMetrics := metrics.New()
	connMetrics := &core.ConnMetrics{}

	handler := server.NewHandler(provider)
	srv := server.New(cfg.Server, handler,
		server.WithEvents(events),
		server.WithMetrics(srvMetrics),
		server.WithConnMetrics(connMetrics),
		server.WithLedger(ledger),
	)
	if err := srv.Start(cfg.Server.Address, strconv.Itoa(cfg.Server.Port)); err != nil {
		return err
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			logging.Warnf("server stop: %v", err)
		}
	}()

	if cfg.Admin.Address != "" {
		adm := admin.New(cfg.Admin.Address, admin.Options{
			Gatherer: srvMetrics.Gatherer(),
			Events:   events,
			Ledger:   ledger,
			Health: func() error {
				if srv.State() != core.ServerListening {
					return fmt.Errorf("server is %s", srv.State())
				}
				return nil
			},
		})
		if err := adm.Start(); err != nil {
			return err
		}
		logging.Infof("Admin endpoints listening on %s", adm.Addr())
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := adm.Stop(ctx); err != nil {
				logging.Warnf("admin stop: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Admin.ReportIntervalSec > 0 {
		rep := newReporter(srv, connMetrics, cfg.Admin.ReportFormat)
		go rep.run(ctx, time.Duration(cfg.Admin.ReportIntervalSec)*time.Second)
	}

	if selfCheck {
		go runSelfCheck(ctx, srv.Addr().String(), cfg.Client)
	}

	// Wait for termination
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logging.Infof("Received %s, shutting down", sig)
	return nil
}
