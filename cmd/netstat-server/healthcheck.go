package main

import (
	"context"
	"net"
	"time"

	"github.com/irctrakz/netstat/pkg/client"
	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/logging"
)

const selfCheckTimeout = 5 * time.Second

// runSelfCheck connects to the freshly started server through the regular
// client session and performs one exchange, logging the outcome.
func runSelfCheck(ctx context.Context, listenAddr string, cfg core.ClientConfig) {
	if err := selfCheck(ctx, listenAddr, cfg); err != nil {
		logging.Warnf("Health: self-check against %s failed: %s", listenAddr, core.Describe(err))
		return
	}
	logging.Infof("Health: self-check against %s ok", listenAddr)
}

func selfCheck(ctx context.Context, listenAddr string, cfg core.ClientConfig) error {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return err
	}
	// A wildcard listener is reachable on loopback.
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		if ip.To4() != nil {
			host = "127.0.0.1"
		} else {
			host = "::1"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, selfCheckTimeout)
	defer cancel()

	sess := client.New(cfg)
	if err := sess.Connect(ctx, host, port); err != nil {
		return err
	}
	defer sess.Disconnect()

	resp, err := sess.FetchStats(ctx)
	if err != nil {
		return err
	}
	logging.Debugf("Health: self-check response %q from %s:%d", resp.Message, resp.IPAddress, resp.Port)
	return nil
}
