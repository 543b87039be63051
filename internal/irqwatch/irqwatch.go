// Package irqwatch implements the per-interrupt-line rising-edge watcher
// and the registry the request server uses to map client descriptors to
// watchers. Structured as an ISR-style edge watcher: a dedicated goroutine
// consuming edge events under a cancellable context, with a
// mutex-protected counter, enabled/exit flags, and clear-on-read semantics.
package irqwatch

import (
	"context"
	"sync"

	"github.com/esa-tu-darmstadt/tapasco/errcode"
	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel"
)

// Watcher counts rising edges observed on one signal while enabled. It
// runs its own goroutine in the simulator domain (suspended on
// RisingEdge), matching the "single suspension point" shape of the other
// simulator-domain tasks.
type Watcher struct {
	mu      sync.Mutex
	counter uint64
	enabled bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Start binds a Watcher to line and launches its counting goroutine. The
// watcher begins enabled.
func Start(k simkernel.Kernel, line simkernel.SignalHandle) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{enabled: true, cancel: cancel, done: make(chan struct{})}
	go w.run(ctx, k, line)
	return w
}

func (w *Watcher) run(ctx context.Context, k simkernel.Kernel, line simkernel.SignalHandle) {
	defer close(w.done)
	for {
		if err := k.RisingEdge(ctx, line); err != nil {
			return
		}
		w.mu.Lock()
		if w.enabled {
			w.counter++
		}
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
	}
}

// Count returns the current edge count without clearing it.
func (w *Watcher) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counter
}

// CountAndClear returns the edge count accumulated since the previous call
// (or since Start) and resets it to zero, matching get_interrupt_status's
// clear-on-read contract.
func (w *Watcher) CountAndClear() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.counter
	w.counter = 0
	return c
}

// Deregister disables counting and terminates the watcher's goroutine at
// its next suspension point (the in-flight RisingEdge wait).
func (w *Watcher) Deregister() {
	w.mu.Lock()
	w.enabled = false
	w.mu.Unlock()
	w.cancel()
}

// Manager owns the descriptor -> Watcher map on behalf of the request
// server (server-domain state; never touched by the simulator goroutines
// directly).
type Manager struct {
	mu       sync.Mutex
	watchers map[uint32]*Watcher
}

func NewManager() *Manager {
	return &Manager{watchers: make(map[uint32]*Watcher)}
}

// Register starts a new Watcher for fd on line, first deregistering any
// watcher already registered under fd.
func (m *Manager) Register(fd uint32, k simkernel.Kernel, line simkernel.SignalHandle) {
	m.mu.Lock()
	prev := m.watchers[fd]
	w := Start(k, line)
	m.watchers[fd] = w
	m.mu.Unlock()

	if prev != nil {
		prev.Deregister()
	}
}

// Deregister removes fd's watcher, if any, silently ignoring an unknown
// descriptor.
func (m *Manager) Deregister(fd uint32) {
	m.mu.Lock()
	w := m.watchers[fd]
	delete(m.watchers, fd)
	m.mu.Unlock()
	if w != nil {
		w.Deregister()
	}
}

// Status returns the cleared edge count for fd, or UnknownDescriptor if fd
// has no registered watcher.
func (m *Manager) Status(fd uint32) (uint64, error) {
	m.mu.Lock()
	w := m.watchers[fd]
	m.mu.Unlock()
	if w == nil {
		return 0, &errcode.E{C: errcode.UnknownDescriptor, Msg: "interrupt descriptor not registered"}
	}
	return w.CountAndClear(), nil
}
