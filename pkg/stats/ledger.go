// Package stats provides core.StatsProvider implementations.
package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/irctrakz/netstat/pkg/core"
)

// ProtocolTCP is the protocol label reported for TCP peers.
const ProtocolTCP = "TCP"

// PeerTotals is the traffic recorded for one peer address.
type PeerTotals struct {
	Address       string    `json:"address"`
	BytesReceived uint64    `json:"bytes_received"`
	BytesSent     uint64    `json:"bytes_sent"`
	Exchanges     uint64    `json:"exchanges"`
	LastSeen      time.Time `json:"last_seen"`
}

// Ledger accumulates per-peer byte totals observed by the server. Bytes
// are counted from the server's point of view.
type Ledger struct {
	mu    sync.RWMutex
	peers map[string]*PeerTotals
}

var _ core.StatsProvider = (*Ledger)(nil)

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{peers: make(map[string]*PeerTotals)}
}

func (l *Ledger) peer(address string) *PeerTotals {
	p, ok := l.peers[address]
	if !ok {
		p = &PeerTotals{Address: address}
		l.peers[address] = p
	}
	p.LastSeen = time.Now()
	return p
}

// AddReceived records n bytes received from address.
func (l *Ledger) AddReceived(address string, n uint64) {
	l.mu.Lock()
	l.peer(address).BytesReceived += n
	l.mu.Unlock()
}

// AddSent records n bytes sent to address and counts a completed exchange.
func (l *Ledger) AddSent(address string, n uint64) {
	l.mu.Lock()
	p := l.peer(address)
	p.BytesSent += n
	p.Exchanges++
	l.mu.Unlock()
}

// Snapshot implements core.StatsProvider. Unknown peers report zero totals.
func (l *Ledger) Snapshot(ctx context.Context, peerAddress string, _ uint16) (core.StatsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.StatsSnapshot{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := core.StatsSnapshot{ProtocolType: ProtocolTCP}
	if p, ok := l.peers[peerAddress]; ok {
		s.BytesReceived = p.BytesReceived
		s.BytesSent = p.BytesSent
	}
	return s, nil
}

// Peers returns a copy of every peer's totals ordered by address.
func (l *Ledger) Peers() []PeerTotals {
	l.mu.RLock()
	out := make([]PeerTotals, 0, len(l.peers))
	for _, p := range l.peers {
		out = append(out, *p)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Reset forgets all peers.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.peers = make(map[string]*PeerTotals)
	l.mu.Unlock()
}
