package prepare

import "time"

// TrackerStats is the time series observed by the memory tracker sampler.
type TrackerStats struct {
	Samples uint64
	Min     uint64
	Max     uint64
}

// MemoryStats aggregates the memory observations of one job.
type MemoryStats struct {
	// PeakTrackedAlloc is the peak of the tracking allocator, clamped at
	// zero. Negative peaks are benign bookkeeping corner cases.
	PeakTrackedAlloc uint64
	// MaxRSSKB is the OS-reported maximum resident set size, when the
	// platform exposes it.
	MaxRSSKB *uint64
	// Tracker is the sampler time series, when the sampler ran.
	Tracker *TrackerStats
}

// JobResponse is the successful child→parent payload: the compiled artifact
// plus the memory observations. CPU time is deliberately absent: the child
// cannot be trusted to report its own time, so the supervisor measures it.
type JobResponse struct {
	Memory   MemoryStats
	Artifact []byte
}

// Stats is the successful worker→host payload once the supervisor has
// written the artifact and computed the isolated CPU time.
type Stats struct {
	CPUTime time.Duration
	Memory  MemoryStats
}
