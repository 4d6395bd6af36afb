package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/logging"
	"github.com/irctrakz/netstat/pkg/server"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type metricsSnapshot struct {
	Timestamp string            `json:"ts"`
	Total     map[string]uint64 `json:"total"`
	Server    map[string]uint64 `json:"server"`
	RT        map[string]uint64 `json:"rt"`
	Srv       map[string]uint64 `json:"srv_limits"`
}

// reporter logs a periodic summary of connection counters, runtime memory
// and process limits.
type reporter struct {
	srv    *server.Server
	conns  *core.ConnMetrics
	format string

	// lastSent keeps the previous cumulative envelope count to compute the
	// per-interval delta.
	lastSent uint64
	procRoot string
}

func newReporter(srv *server.Server, conns *core.ConnMetrics, format string) *reporter {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "text"
	}
	return &reporter{srv: srv, conns: conns, format: format, procRoot: "/proc"}
}

func (r *reporter) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		logging.Infof("metrics: %s", r.render(r.snapshot()))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *reporter) snapshot() metricsSnapshot {
	cm := r.conns.Load()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	delta := cm.EnvelopesSent - r.lastSent
	r.lastSent = cm.EnvelopesSent

	var active, peers uint64
	if r.srv != nil {
		if n := r.srv.ActiveConnections(); n > 0 {
			active = uint64(n)
		}
		peers = uint64(len(r.srv.Ledger().Peers()))
	}

	return metricsSnapshot{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Total: map[string]uint64{
			"conns_created": cm.ConnectionsCreated,
			"conns_closed":  cm.ConnectionsClosed,
			"env_sent":      cm.EnvelopesSent,
			"env_recv":      cm.EnvelopesReceived,
			"bytes_sent":    cm.BytesSent,
			"bytes_recv":    cm.BytesReceived,
			"errors":        cm.Errors,
		},
		Server: map[string]uint64{
			"active":          active,
			"peers":           peers,
			"responses_delta": delta,
		},
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"sys":        ms.Sys,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
		Srv: buildServerLimits(r.procRoot, active),
	}
}

func (r *reporter) render(snap metricsSnapshot) string {
	if r.format == "json" {
		b, err := json.Marshal(snap)
		if err != nil {
			return "{}"
		}
		return string(b)
	}
	var b strings.Builder
	b.WriteString("ts=" + snap.Timestamp)
	b.WriteString(" total: conns=" + u(snap.Total["conns_created"]) + "/" + u(snap.Total["conns_closed"]))
	b.WriteString(" env=" + u(snap.Total["env_recv"]) + "/" + u(snap.Total["env_sent"]))
	b.WriteString(" bytes=" + u(snap.Total["bytes_recv"]) + "/" + u(snap.Total["bytes_sent"]))
	b.WriteString(" err=" + u(snap.Total["errors"]))
	b.WriteString(" | server: act=" + u(snap.Server["active"]) + " peers=" + u(snap.Server["peers"]) + " dR=" + u(snap.Server["responses_delta"]))
	b.WriteString(" | srv: fds=" + u(snap.Srv["open_fds"]) + "/" + u(snap.Srv["nofile_soft"]))
	b.WriteString(" eph=" + u(snap.Srv["eph_used_est"]) + "/" + u(snap.Srv["eph_size"]))
	b.WriteString(" | rt: heap=" + u(snap.RT["heap_alloc"]/(1024*1024)) + "Mi inuse=" + u(snap.RT["heap_inuse"]/(1024*1024)) + "Mi")
	b.WriteString(" gor=" + u(snap.RT["goroutines"]) + " gc=" + u(snap.RT["num_gc"]))
	return b.String()
}

func u(v uint64) string { return strconv.FormatUint(v, 10) }

// buildServerLimits collects best-effort process limits that bound how many
// clients can be served at once.
func buildServerLimits(procRoot string, active uint64) map[string]uint64 {
	out := map[string]uint64{}
	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err == nil {
		out["nofile_soft"] = uint64(rl.Cur)
		out["nofile_hard"] = uint64(rl.Max)
	}
	if ents, err := os.ReadDir(procRoot + "/self/fd"); err == nil {
		out["open_fds"] = uint64(len(ents))
		if soft, ok := out["nofile_soft"]; ok && soft > 0 {
			out["fd_util_pct"] = (out["open_fds"] * 100) / soft
		}
	}
	if low, high, ok := readPortRange(procRoot + "/sys/net/ipv4/ip_local_port_range"); ok && high > low {
		size := high - low + 1
		out["eph_low"] = low
		out["eph_high"] = high
		out["eph_size"] = size
		out["eph_used_est"] = active
		out["eph_util_pct"] = (active * 100) / size
	}
	if v, ok := readUint(procRoot + "/sys/net/core/somaxconn"); ok {
		out["somaxconn"] = v
	}
	if n, ok := countLines(procRoot + "/net/tcp"); ok && n > 0 {
		// First line is the header.
		out["tcp_sockets"] = n - 1
	}
	return out
}

func readUint(path string) (uint64, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func readPortRange(path string) (low, high uint64, ok bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false
	}
	f := strings.Fields(string(b))
	if len(f) < 2 {
		return 0, 0, false
	}
	lo, err1 := strconv.ParseUint(f[0], 10, 64)
	hi, err2 := strconv.ParseUint(f[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

func countLines(path string) (uint64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var n uint64
	for {
		_, err := r.ReadString('\n')
		if err == nil {
			n++
			continue
		}
		if err == io.EOF {
			break
		}
		return 0, false
	}
	return n, true
}
