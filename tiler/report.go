package tiler

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Report tallies what a build run did.  Counts are per tile: a written
// tile bumps Written and one of SampleOps or DownresOps, a tile whose
// footprint held no data bumps SkippedEmpty, a tile left alone under
// resume bumps SkippedExisting.  Failed counts tiles whose processing
// errored; a nonzero value means the run is incomplete but everything
// persisted is valid.
type Report struct {
	Written         uint64
	SkippedEmpty    uint64
	SkippedExisting uint64
	Failed          uint64

	SampleOps  uint64
	DownresOps uint64

	// Bytes is the pixel payload handed to the store, before any
	// encoding the engine applies.
	Bytes uint64

	Elapsed time.Duration
}

func (r Report) String() string {
	s := fmt.Sprintf("wrote %d tiles (%s) in %s", r.Written,
		humanize.Bytes(r.Bytes), r.Elapsed.Round(time.Millisecond))
	if r.SampleOps > 0 || r.DownresOps > 0 {
		s += fmt.Sprintf("; %d sampled, %d downsampled", r.SampleOps, r.DownresOps)
	}
	if r.SkippedEmpty > 0 {
		s += fmt.Sprintf("; %d empty", r.SkippedEmpty)
	}
	if r.SkippedExisting > 0 {
		s += fmt.Sprintf("; %d existing", r.SkippedExisting)
	}
	if r.Failed > 0 {
		s += fmt.Sprintf("; %d FAILED", r.Failed)
	}
	return s
}

// counters is the concurrent accumulator behind a Report.  Workers on
// many goroutines bump the fields with atomics, no locks.
type counters struct {
	written         uint64
	skippedEmpty    uint64
	skippedExisting uint64
	failed          uint64
	sampleOps       uint64
	downresOps      uint64
	bytes           uint64
}

func (c *counters) addWritten(payload uint64) {
	atomic.AddUint64(&c.written, 1)
	atomic.AddUint64(&c.bytes, payload)
}

func (c *counters) report(start time.Time) Report {
	return Report{
		Written:         atomic.LoadUint64(&c.written),
		SkippedEmpty:    atomic.LoadUint64(&c.skippedEmpty),
		SkippedExisting: atomic.LoadUint64(&c.skippedExisting),
		Failed:          atomic.LoadUint64(&c.failed),
		SampleOps:       atomic.LoadUint64(&c.sampleOps),
		DownresOps:      atomic.LoadUint64(&c.downresOps),
		Bytes:           atomic.LoadUint64(&c.bytes),
		Elapsed:         time.Since(start),
	}
}
