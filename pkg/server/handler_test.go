package server

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/envelope"
	"github.com/irctrakz/netstat/pkg/metrics"
)

func static(s core.StatsSnapshot) core.StatsProvider {
	return core.StatsProviderFunc(func(context.Context, string, uint16) (core.StatsSnapshot, error) {
		return s, nil
	})
}

var testPeer = Peer{Address: "10.1.2.3", Port: 40000}

func TestHandleFetchTcpStats(t *testing.T) {
	var gotAddr string
	var gotPort uint16
	provider := core.StatsProviderFunc(func(_ context.Context, addr string, port uint16) (core.StatsSnapshot, error) {
		gotAddr, gotPort = addr, port
		return core.StatsSnapshot{BytesReceived: 100, BytesSent: 200, ProtocolType: "TCP"}, nil
	})
	h := NewHandler(provider)

	resp := h.Handle(context.Background(), testPeer, envelope.NewRequest(envelope.FetchTcpStats))
	assert.Equal(t, envelope.Envelope{
		Kind:          envelope.FetchTcpStats,
		Message:       SuccessMessage,
		IPAddress:     "10.1.2.3",
		Port:          40000,
		BytesReceived: 100,
		BytesSent:     200,
		ProtocolType:  "TCP",
	}, resp)
	assert.Equal(t, "10.1.2.3", gotAddr)
	assert.Equal(t, uint16(40000), gotPort)
}

func TestHandleSaturatesCounters(t *testing.T) {
	h := NewHandler(static(core.StatsSnapshot{BytesReceived: math.MaxUint64, BytesSent: math.MaxUint32 + 1}))
	resp := h.Handle(context.Background(), testPeer, envelope.NewRequest(envelope.FetchTcpStats))
	assert.Equal(t, uint32(math.MaxUint32), resp.BytesReceived)
	assert.Equal(t, uint32(math.MaxUint32), resp.BytesSent)
}

func TestHandleProviderFailure(t *testing.T) {
	h := NewHandler(core.StatsProviderFunc(func(context.Context, string, uint16) (core.StatsSnapshot, error) {
		return core.StatsSnapshot{BytesReceived: 1, BytesSent: 2, ProtocolType: "TCP"}, errors.New("boom")
	}))
	res := h.serve(context.Background(), testPeer, envelope.NewRequest(envelope.FetchTcpStats))
	assert.Equal(t, metrics.StatusDegraded, res.Status)
	assert.Equal(t, "Failed to collect statistics: boom", res.Response.Message)
	assert.Equal(t, "10.1.2.3", res.Response.IPAddress)
	assert.Zero(t, res.Response.BytesReceived)
	assert.Zero(t, res.Response.BytesSent)
}

func TestHandleNilProvider(t *testing.T) {
	resp := NewHandler(nil).Handle(context.Background(), testPeer, envelope.NewRequest(envelope.FetchTcpStats))
	assert.True(t, strings.HasPrefix(resp.Message, "Failed to collect statistics"))
}

func TestHandleProviderTimeout(t *testing.T) {
	slow := core.StatsProviderFunc(func(ctx context.Context, _ string, _ uint16) (core.StatsSnapshot, error) {
		<-ctx.Done()
		return core.StatsSnapshot{}, ctx.Err()
	})
	h := NewHandler(slow, WithProviderTimeout(20*time.Millisecond))
	resp := h.Handle(context.Background(), testPeer, envelope.NewRequest(envelope.FetchTcpStats))
	assert.Contains(t, resp.Message, "deadline exceeded")
}

func TestHandleUnregisteredKind(t *testing.T) {
	h := NewHandler(nil)
	h.mu.Lock()
	delete(h.routes, envelope.FetchTcpStats)
	h.mu.Unlock()

	res := h.serve(context.Background(), testPeer, envelope.NewRequest(envelope.FetchTcpStats))
	assert.Equal(t, "Unsupported request kind: FetchTcpStats", res.Response.Message)
	assert.Equal(t, metrics.StatusError, res.Status)
	assert.Empty(t, h.Kinds())
}

func TestRegisterReplacesHandler(t *testing.T) {
	h := NewHandler(nil)
	h.Register(envelope.FetchTcpStats, func(_ context.Context, peer Peer, req envelope.Envelope) Result {
		return Result{Response: envelope.Envelope{Kind: req.Kind, Message: "custom " + peer.String()}, Status: metrics.StatusOK}
	})
	assert.Equal(t, []envelope.RequestKind{envelope.FetchTcpStats}, h.Kinds())

	resp := h.Handle(context.Background(), testPeer, envelope.NewRequest(envelope.FetchTcpStats))
	assert.Equal(t, "custom 10.1.2.3:40000", resp.Message)
}

func TestHandleSanitizesStrings(t *testing.T) {
	h := NewHandler(static(core.StatsSnapshot{ProtocolType: "TCP\xff" + strings.Repeat("x", envelope.MaxStringLen)}))
	resp := h.Handle(context.Background(), testPeer, envelope.NewRequest(envelope.FetchTcpStats))
	assert.LessOrEqual(t, len(resp.ProtocolType), envelope.MaxStringLen)
	_, err := envelope.Encode(resp)
	assert.NoError(t, err)
}

func TestPeerString(t *testing.T) {
	assert.Equal(t, "10.1.2.3:40000", testPeer.String())
	assert.Equal(t, "[::1]:80", Peer{Address: "::1", Port: 80}.String())
}
