package stats

import (
	"fmt"
	"math"
	"net/netip"

	"github.com/prometheus/procfs"
)

// TCPState is a socket state as numbered in /proc/net/tcp.
type TCPState uint8

var tcpStateNames = map[TCPState]string{
	0x01: "ESTABLISHED",
	0x02: "SYN_SENT",
	0x03: "SYN_RECV",
	0x04: "FIN_WAIT1",
	0x05: "FIN_WAIT2",
	0x06: "TIME_WAIT",
	0x07: "CLOSE",
	0x08: "CLOSE_WAIT",
	0x09: "LAST_ACK",
	0x0A: "LISTEN",
	0x0B: "CLOSING",
}

func (s TCPState) String() string {
	if name, ok := tcpStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE_%02X", uint8(s))
}

// TCPSocket is one row of /proc/net/tcp or /proc/net/tcp6.
type TCPSocket struct {
	Local   netip.AddrPort
	Remote  netip.AddrPort
	State   TCPState
	TxQueue uint64
	RxQueue uint64
}

// tcpSockets converts parsed socket table rows. IPv4-mapped IPv6 addresses
// are unmapped so they compare equal to the peer address the server sees.
func tcpSockets(table procfs.NetTCP) []TCPSocket {
	out := make([]TCPSocket, 0, len(table))
	for _, row := range table {
		local, ok := addrPort(row.LocalAddr, row.LocalPort)
		if !ok {
			continue
		}
		remote, ok := addrPort(row.RemAddr, row.RemPort)
		if !ok || row.St > math.MaxUint8 {
			continue
		}
		out = append(out, TCPSocket{
			Local:   local,
			Remote:  remote,
			State:   TCPState(row.St),
			TxQueue: row.TxQueue,
			RxQueue: row.RxQueue,
		})
	}
	return out
}

func addrPort(ip []byte, port uint64) (netip.AddrPort, bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok || port > math.MaxUint16 {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), true
}

// findPeer returns the socket whose remote end is peer.
func findPeer(sockets []TCPSocket, peer netip.AddrPort) (TCPSocket, bool) {
	for _, s := range sockets {
		if s.Remote == peer {
			return s, true
		}
	}
	return TCPSocket{}, false
}

// Procfs reports the peer socket's state and host interface totals read
// from the proc filesystem rooted at Root.
type Procfs struct {
	// Root is the proc mount point. Empty means procfs.DefaultMountPoint.
	Root string
}

func (p *Procfs) root() string {
	if p.Root == "" {
		return procfs.DefaultMountPoint
	}
	return p.Root
}
