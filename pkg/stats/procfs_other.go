//go:build !linux

package stats

import (
	"context"
	"fmt"
	"runtime"

	"github.com/irctrakz/netstat/pkg/core"
)

var _ core.StatsProvider = (*Procfs)(nil)

// Snapshot implements core.StatsProvider. The proc filesystem only exists
// on Linux.
func (p *Procfs) Snapshot(context.Context, string, uint16) (core.StatsSnapshot, error) {
	return core.StatsSnapshot{}, fmt.Errorf("%w: procfs is not available on %s", core.ErrProvider, runtime.GOOS)
}
