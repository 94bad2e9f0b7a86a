// Package stopsignal is the Stop Signal Handler (spec.md §4.13): listens
// for process interrupt/terminate signals and exposes a cooperative stop
// flag the engines poll between task attempts and before starting new
// batches.
package stopsignal

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/anthropics/mycelium-executor/internal/events"
)

// Handler owns the process-wide stop flag (spec.md §9: "the stop flag is a
// single atomic cell; no other shared mutable state escapes the Run
// Engine").
type Handler struct {
	stopped   atomic.Bool
	signalCh  chan os.Signal
	signalName atomic.Value
	log       *events.Logger
}

// New registers for SIGINT/SIGTERM. The first signal sets the cooperative
// stop flag and logs run.stop; a second signal escalates to immediate exit
// (spec.md §4.13).
func New(log *events.Logger) *Handler {
	h := &Handler{
		signalCh: make(chan os.Signal, 2),
		log:      log,
	}
	signal.Notify(h.signalCh, os.Interrupt, syscall.SIGTERM)
	go h.listen()
	return h
}

func (h *Handler) listen() {
	first := true
	for sig := range h.signalCh {
		if !first {
			os.Exit(130)
		}
		first = false
		h.signalName.Store(sig.String())
		h.stopped.Store(true)
		if h.log != nil {
			_ = h.log.Log(events.TypeRunStop, map[string]interface{}{"signal": sig.String()})
		}
	}
}

// Stopped reports whether a stop signal has been received.
func (h *Handler) Stopped() bool {
	return h.stopped.Load()
}

// SignalName returns the name of the signal that triggered the stop, or ""
// if none has been received.
func (h *Handler) SignalName() string {
	if v := h.signalName.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Stop clears the signal channel registration; used by tests and by the
// CLI's run command on exit.
func (h *Handler) Stop() {
	signal.Stop(h.signalCh)
	close(h.signalCh)
}
