package relay

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"pmtud/pkg/bitmap"
	"pmtud/pkg/core"
	"pmtud/pkg/hashlimit"
)

// sourceTableSlots is the fixed capacity of the per-source limiter table.
// Colliding sources evict each other rather than growing the table.
const sourceTableSlots = 8191

// burstFactor scales a rate into its bucket's burst ceiling.
const burstFactor = 1.9

// ifaceKey is the constant key of the single-bucket interface limiter.
var ifaceKey = []byte{0}

// Config carries the pipeline's construction parameters.
type Config struct {
	// SrcRate is the per-source admission rate in packets per second.
	SrcRate float64

	// IfaceRate is the aggregate admission rate in packets per second.
	IfaceRate float64

	// Ports, when non-empty, restricts forwarding to frames whose inner L4
	// source port appears on the list.
	Ports []int

	// Injector transmits accepted frames. Ignored when DryRun is set.
	Injector core.Injector

	// Verbose selects the packet log detail: 0 silent, 1 accepts,
	// 2 accepts and rejects, >=3 adds a hex dump.
	Verbose int

	// DryRun suppresses injection; everything else still runs.
	DryRun bool

	// PacketLog receives the per-packet lines. Defaults to os.Stdout.
	PacketLog io.Writer
}

// Pipeline glues the relay stages together: parse, rate-limit, rewrite,
// inject, tally. It owns both limiter tables and the optional allow-list
// and is driven from a single goroutine.
type Pipeline struct {
	sources  *hashlimit.HashLimit
	iface    *hashlimit.HashLimit
	ports    *bitmap.BitMap
	injector core.Injector
	verbose  int
	dryRun   bool
	out      io.Writer

	// Metrics is updated on every frame and may be read concurrently.
	Metrics core.RelayMetrics
}

// NewPipeline builds a pipeline from the given configuration.
func NewPipeline(cfg Config) *Pipeline {
	var ports *bitmap.BitMap
	if len(cfg.Ports) > 0 {
		ports = bitmap.New(65536)
		for _, port := range cfg.Ports {
			ports.Set(port)
		}
	}

	out := cfg.PacketLog
	if out == nil {
		out = os.Stdout
	}

	return &Pipeline{
		sources:  hashlimit.New(sourceTableSlots, cfg.SrcRate, cfg.SrcRate*burstFactor),
		iface:    hashlimit.New(1, cfg.IfaceRate, cfg.IfaceRate*burstFactor),
		ports:    ports,
		injector: cfg.Injector,
		verbose:  cfg.Verbose,
		dryRun:   cfg.DryRun,
		out:      out,
	}
}

// Handle processes one captured frame. The only non-nil return is a fatal
// injection error; every per-packet condition is absorbed here.
func (p *Pipeline) Handle(frame []byte, info core.FrameInfo) error {
	atomic.AddUint64(&p.Metrics.FramesSeen, 1)

	// Partial captures are discarded without logging.
	if info.CaptureLength != info.Length {
		atomic.AddUint64(&p.Metrics.PartialCaptures, 1)
		return nil
	}

	c := Parse(frame, p.ports)
	if !c.Accepted() {
		p.logReject(c, frame)
		return nil
	}

	// Admission strictly precedes the rewrite and injection: a frame that
	// fails either gate is never modified or transmitted.
	if !p.sources.Touch(c.SrcKey) {
		c.Reject = ReasonSourceRateLimit
		p.logReject(c, frame)
		return nil
	}
	if !p.iface.Touch(ifaceKey) {
		c.Reject = ReasonIfaceRateLimit
		p.logReject(c, frame)
		return nil
	}

	RewriteBroadcast(frame)
	atomic.AddUint64(&p.Metrics.Accepted, 1)
	p.logAccept(c, frame)

	if p.dryRun {
		return nil
	}
	if err := p.injector.Inject(frame); err != nil {
		return err
	}
	atomic.AddUint64(&p.Metrics.Injected, 1)
	atomic.AddUint64(&p.Metrics.InjectedBytes, uint64(len(frame)))
	return nil
}

func (p *Pipeline) logAccept(c Classification, frame []byte) {
	if p.verbose >= 3 {
		fmt.Fprintf(p.out, "%s %s  %s\n", c.SourceIP(), c.Reject, hexDump(frame))
	} else if p.verbose >= 1 {
		fmt.Fprintf(p.out, "%s %s\n", c.SourceIP(), c.Reject)
	}
}

func (p *Pipeline) logReject(c Classification, frame []byte) {
	atomic.AddUint64(&p.Metrics.Rejected, 1)
	if p.verbose >= 3 {
		fmt.Fprintf(p.out, "%s %s  %s\n", c.SourceIP(), c.Reject, hexDump(frame))
	} else if p.verbose >= 2 {
		fmt.Fprintf(p.out, "%s %s\n", c.SourceIP(), c.Reject)
	}
}

func hexDump(frame []byte) string {
	var b strings.Builder
	b.Grow(len(frame) * 3)
	for i, octet := range frame {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", octet)
	}
	return b.String()
}
