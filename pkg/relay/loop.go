package relay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"pmtud/pkg/core"
	"pmtud/pkg/logging"
)

// Loop is the daemon's single-threaded event loop. It alternates between
// draining the capture source and checking for a termination signal, so
// signal delivery serializes with packet handling: an in-flight frame
// always completes, and shutdown is observed when the current drain ends,
// that is after one capture read times out with no frame. Under a
// continuous stream of frames the drain does not end.
type Loop struct {
	source   core.CaptureSource
	pipeline *Pipeline
	sigs     chan os.Signal
}

// NewLoop wires a capture source to a pipeline and registers for SIGINT
// and SIGTERM.
func NewLoop(source core.CaptureSource, pipeline *Pipeline) *Loop {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	return &Loop{
		source:   source,
		pipeline: pipeline,
		sigs:     sigs,
	}
}

// Run processes frames until a termination signal arrives or the capture
// source fails. A clean shutdown (signal, or end of an offline capture)
// returns nil; anything else is a fatal runtime error.
func (l *Loop) Run() error {
	defer signal.Stop(l.sigs)

	for {
		select {
		case sig := <-l.sigs:
			logging.Debugf("received %v, shutting down", sig)
			return nil
		default:
		}

		if err := l.drain(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// drain pulls frames until the source reports a timeout, handing each one
// to the pipeline.
func (l *Loop) drain() error {
	for {
		frame, info, err := l.source.ReadFrame()
		switch {
		case err == nil:
			if err := l.pipeline.Handle(frame, info); err != nil {
				return err
			}
		case errors.Is(err, core.ErrTimeout):
			return nil
		case errors.Is(err, io.EOF):
			return io.EOF
		default:
			return fmt.Errorf("capture read: %w", err)
		}
	}
}
