package stats

import (
	"fmt"
	"strings"

	"github.com/irctrakz/netstat/pkg/core"
)

// Provider names accepted by NewProvider.
const (
	ProviderLedger = "ledger"
	ProviderProcfs = "procfs"
)

// NewProvider returns the provider called name. The ledger provider uses
// ledger, which must be the ledger the server records traffic into.
func NewProvider(name string, ledger *Ledger) (core.StatsProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProviderLedger:
		if ledger == nil {
			return nil, fmt.Errorf("%w: ledger provider needs a ledger", core.ErrConfig)
		}
		return ledger, nil
	case ProviderProcfs:
		return &Procfs{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown stats provider %q", core.ErrConfig, name)
	}
}
