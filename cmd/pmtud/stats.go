package main

import (
	"time"

	"pmtud/pkg/core"
	"pmtud/pkg/logging"
	"pmtud/pkg/relay"
)

// runStatsReporter periodically dumps relay and capture counters to the
// diagnostic log. Rejects are otherwise invisible below verbosity 2; this
// is the only always-available view of them.
func runStatsReporter(interval time.Duration, pipeline *relay.Pipeline, source core.CaptureSource, injector core.Injector, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m := pipeline.Metrics.Snapshot()
			var cs core.CaptureStats
			if st, err := source.Stats(); err == nil {
				cs = st
			}
			logging.Infof("stats: seen=%d partial=%d accepted=%d rejected=%d injected=%d/%d sendDrops=%d capture={recv=%d drop=%d ifdrop=%d}",
				m.FramesSeen, m.PartialCaptures, m.Accepted, m.Rejected,
				m.Injected, m.InjectedBytes, injector.Drops(),
				cs.Received, cs.Dropped, cs.IfDropped)
		}
	}
}
