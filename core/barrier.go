// core/barrier.go
package core

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/nodesim/internal/logging"
)

// SyncNodes records n's arrival at the barrier. The arrival that completes
// the count releases every node: clocks ahead of the releasing node are
// pulled back to its clock, the wait flag is cleared and each node is
// rescheduled. Earlier arrivals stay blocked.
func (e *Emulator) SyncNodes(n *Node) {
	e.syncCount++
	if e.syncCount < e.liveNodes {
		e.Reschedule(n)
		return
	}
	e.releaseBarrier(n)
}

// releaseBarrier frees every waiting node at n's clock. n is either the
// last arrival or a node whose exit left only waiting nodes alive.
func (e *Emulator) releaseBarrier(n *Node) {
	// Rewinding reorders the queue, so walk a snapshot of it.
	for _, h := range e.queue.nodes() {
		if n.ticks < h.ticks {
			h.ticks = n.ticks
			e.queue.reorder(h)
			e.stats.Rewinds++
			e.metrics.IncRewind()
		}
		h.syncWait = false
		e.Reschedule(h)
	}

	e.log.Debug(e.ctx, "barrier released",
		logging.Uint32("node", n.id),
		logging.Int("nodes", e.syncCount),
		logging.Uint64("ticks", n.ticks))
	e.span.AddEvent("barrier.release", trace.WithAttributes(
		attribute.Int64("node", int64(n.id)),
		attribute.Int64("ticks", int64(n.ticks)),
	))
	e.stats.BarrierReleases++
	e.metrics.IncBarrierRelease()
	e.syncCount = 0
}
