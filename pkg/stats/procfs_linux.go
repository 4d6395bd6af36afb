//go:build linux

package stats

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"

	"github.com/irctrakz/netstat/pkg/core"
	"github.com/irctrakz/netstat/pkg/logging"
)

var _ core.StatsProvider = (*Procfs)(nil)

// Snapshot implements core.StatsProvider.
func (p *Procfs) Snapshot(ctx context.Context, peerAddress string, peerPort uint16) (core.StatsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.StatsSnapshot{}, err
	}
	addr, err := netip.ParseAddr(peerAddress)
	if err != nil {
		return core.StatsSnapshot{}, fmt.Errorf("%w: peer address %q: %v", core.ErrProvider, peerAddress, err)
	}
	peer := netip.AddrPortFrom(addr.Unmap(), peerPort)

	fs, err := procfs.NewFS(p.root())
	if err != nil {
		return core.StatsSnapshot{}, fmt.Errorf("%w: %v", core.ErrProvider, err)
	}
	dev, err := fs.NetDev()
	if err != nil {
		return core.StatsSnapshot{}, fmt.Errorf("%w: net/dev: %v", core.ErrProvider, err)
	}
	total := dev.Total()
	snap := core.StatsSnapshot{
		BytesReceived: total.RxBytes,
		BytesSent:     total.TxBytes,
		ProtocolType:  ProtocolTCP,
	}

	for _, table := range []struct {
		label string
		read  func() (procfs.NetTCP, error)
	}{
		{"TCP", fs.NetTCP},
		{"TCP6", fs.NetTCP6},
	} {
		rows, err := table.read()
		if err != nil {
			logging.WithFields(logrus.Fields{
				"component": "stats",
				"table":     table.label,
			}).WithError(err).Debugf("Skipping socket table")
			continue
		}
		if s, ok := findPeer(tcpSockets(rows), peer); ok {
			snap.ProtocolType = fmt.Sprintf("%s (%s)", table.label, s.State)
			break
		}
	}
	return snap, nil
}
