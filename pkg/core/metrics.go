package core

import "sync/atomic"

// RelayMetrics counts relay pipeline outcomes. Fields are updated with
// sync/atomic so the optional statistics reporter can read them from its
// own goroutine.
type RelayMetrics struct {
	// FramesSeen is the number of frames pulled from the capture handle.
	FramesSeen uint64

	// PartialCaptures is the number of frames discarded because the
	// captured length was shorter than the wire length.
	PartialCaptures uint64

	// Accepted is the number of frames that passed parsing and both
	// rate-limit gates.
	Accepted uint64

	// Rejected is the number of frames refused by the parser or a limiter.
	Rejected uint64

	// Injected is the number of frames handed to the injector.
	Injected uint64

	// InjectedBytes is the total size of injected frames.
	InjectedBytes uint64
}

// Snapshot returns a consistent-enough copy of the counters for reporting.
func (m *RelayMetrics) Snapshot() RelayMetrics {
	return RelayMetrics{
		FramesSeen:      atomic.LoadUint64(&m.FramesSeen),
		PartialCaptures: atomic.LoadUint64(&m.PartialCaptures),
		Accepted:        atomic.LoadUint64(&m.Accepted),
		Rejected:        atomic.LoadUint64(&m.Rejected),
		Injected:        atomic.LoadUint64(&m.Injected),
		InjectedBytes:   atomic.LoadUint64(&m.InjectedBytes),
	}
}
