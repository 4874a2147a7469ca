package bridge

import (
	"context"
	"time"
)

// NeighbourRequestPeriod is how often the bridge asks the co-processor for
// its current RPL neighbour set.
const NeighbourRequestPeriod = 10 * time.Second

// PurgePeriod is how often the node table and packet buffer are swept for
// stale entries.
const PurgePeriod = 1 * time.Second

// NeighbourRequester is the action surface the neighbour-request timer
// drives. Implemented by SerialIO.
type NeighbourRequester interface {
	RequestNeighbours()
}

// RunNeighbourRequestTimer sends a neighbour request on req every period
// until ctx is done.
func RunNeighbourRequestTimer(ctx context.Context, req NeighbourRequester, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			req.RequestNeighbours()
		}
	}
}

// RunPurgeTimer sweeps table and buffer for stale entries every period
// until ctx is done. monitor, if non-nil, is pruned alongside them so the
// dashboard's activity window doesn't grow without bound.
func RunPurgeTimer(ctx context.Context, table *NodeTable, buffer *PacketBuffer, monitor *PassiveMonitor, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			table.Purge(PurgeTTL)
			buffer.Sweep(DecisionTTL)
			if monitor != nil {
				monitor.Prune()
			}
		}
	}
}
