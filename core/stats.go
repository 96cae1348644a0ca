// core/stats.go
package core

import (
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/nodesim/timectrl"
)

// Stats are the counters of one run.
type Stats struct {
	Instructions    uint64
	ProcessingTicks uint64
	// TotalTicks sums the final clocks of every node.
	TotalTicks      uint64
	Interrupts      uint64
	Rewinds         uint64
	BarrierReleases uint64
	Warnings        uint64
	// AverageSearch is the mean number of buckets visited per queue reorder.
	AverageSearch float64
	Wall          time.Duration
}

// StandbyTicks is the node time spent without a runnable process.
func (s Stats) StandbyTicks() uint64 {
	if s.TotalTicks < s.ProcessingTicks {
		return 0
	}
	return s.TotalTicks - s.ProcessingTicks
}

// Report writes the end-of-run summary.
func (s Stats) Report(w io.Writer) {
	standby := s.StandbyTicks()
	var pct float64
	if s.TotalTicks > 0 {
		pct = 100 * float64(standby) / float64(s.TotalTicks)
	}
	fmt.Fprintf(w, "Execution time: %f secs\n", s.Wall.Seconds())
	fmt.Fprintf(w, "Computing ticks: %d (%f s)\n", s.ProcessingTicks, timectrl.TicksToTime(s.ProcessingTicks))
	fmt.Fprintf(w, "Standby ticks: %d (%f s) %6.2f%%\n", standby, timectrl.TicksToTime(standby), pct)
	fmt.Fprintf(w, "Average Search Length in Node List %f\n", s.AverageSearch)
}
