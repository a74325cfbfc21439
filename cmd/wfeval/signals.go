package main

//
// Signal handling for the run subcommand
//

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/apex/log"
)

// navigationInterrupter is the part of the controller the handler uses.
type navigationInterrupter interface {
	InterruptNavigation() bool
}

// signalHandler turns signals into run actions. SIGINT interrupts the
// in-flight navigation when there is one and otherwise stops the run,
// SIGTERM always stops the run. Stopping means canceling the run
// context: the deferred teardown hooks still run.
type signalHandler struct {
	cancel context.CancelFunc
	mu     sync.Mutex
	target navigationInterrupter
}

// newSignalHandler creates a [*signalHandler] canceling the given context.
func newSignalHandler(cancel context.CancelFunc) *signalHandler {
	return &signalHandler{cancel: cancel}
}

// setTarget sets the controller once it exists.
func (h *signalHandler) setTarget(target navigationInterrupter) {
	h.mu.Lock()
	h.target = target
	h.mu.Unlock()
}

// handle processes a signal and returns whether the run is stopping.
func (h *signalHandler) handle(sig os.Signal) bool {
	if sig == syscall.SIGINT {
		h.mu.Lock()
		target := h.target
		h.mu.Unlock()
		if target != nil && target.InterruptNavigation() {
			return false
		}
	}
	log.Warnf("interrupted by signal: %v; stopping after the current step", sig)
	h.cancel()
	return true
}

// notify installs the handler until ctx is done and returns
// a function that uninstalls it.
func (h *signalHandler) notify(ctx context.Context) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if h.handle(sig) {
					return
				}
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
	}
}
