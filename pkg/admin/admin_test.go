package admin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/logging"
	"github.com/irctrakz/netstat/pkg/metrics"
	"github.com/irctrakz/netstat/pkg/stats"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(New("", Options{}).Handler())
	defer ts.Close()

	code, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, _ = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthFailing(t *testing.T) {
	s := New("", Options{Health: func() error { return errors.New("server is not listening") }})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	code, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "server is not listening")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))
	m.ConnectionOpened()

	ts := httptest.NewServer(New("", Options{Gatherer: reg}).Handler())
	defer ts.Close()

	code, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "netstat_server_connections_accepted_total 1")
}

func TestPeers(t *testing.T) {
	l := stats.NewLedger()
	l.AddReceived("10.0.0.1", 23)
	l.AddSent("10.0.0.1", 90)

	ts := httptest.NewServer(New("", Options{Ledger: l}).Handler())
	defer ts.Close()

	code, body := get(t, ts.URL+"/peers")
	require.Equal(t, http.StatusOK, code)

	var peers []stats.PeerTotals
	require.NoError(t, jsoniter.Unmarshal([]byte(body), &peers))
	require.Len(t, peers, 1)
	assert.Equal(t, uint64(23), peers[0].BytesReceived)
	assert.Equal(t, uint64(90), peers[0].BytesSent)
}

func readLine(t *testing.T, ws *websocket.Conn) core.LogLine {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var line core.LogLine
	require.NoError(t, jsoniter.Unmarshal(data, &line))
	return line
}

func TestEventsStream(t *testing.T) {
	events := logging.NewEventStream(16)
	core.Emitf(events, core.SourceServer, "Server is listening")

	s := New("", Options{Events: events})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	first := readLine(t, ws)
	assert.Equal(t, "Server is listening", first.Text)
	assert.Equal(t, core.SourceServer, first.Source)

	// History is written after subscribing, so live lines are not missed.
	core.Emitf(events, core.SourceClient, "ping")
	live := readLine(t, ws)
	assert.Equal(t, "ping", live.Text)
	assert.Equal(t, core.SourceClient, live.Source)
}

func TestStartStop(t *testing.T) {
	events := logging.NewEventStream(4)
	s := New("127.0.0.1:0", Options{Events: events})
	if err := s.Start(); err != nil {
		t.Skipf("loopback listen not permitted: %v", err)
	}
	assert.Error(t, s.Start())

	base := "http://" + s.Addr().String()
	code, _ := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/events", nil)
	require.NoError(t, err)
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Nil(t, s.Addr())
	assert.NoError(t, s.Stop(ctx))

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
}
