// Package simkernel defines the narrow interface of simulator-kernel
// primitives the bus-functional models and the simulation pump consume:
// signal handles, edge waits, time advance, and a strongly-typed
// name-to-handle binding. It deliberately does not interpret design
// semantics; a concrete kernel (hostkernel, or a real RTL-simulator
// binding) supplies the actual signal storage and scheduling.
package simkernel

import (
	"context"
	"time"
)

// SignalHandle is one named signal on a bound design instance. Values are
// carried as a 64-bit unsigned word, sufficient for every signal this
// bridge drives or samples (single-bit control signals, addresses, and
// data/strobe words up to 64 bits wide).
type SignalHandle interface {
	Name() string
	Value() uint64
	Set(v uint64)
}

// Kernel is the set of simulator primitives a cooperative task may suspend
// on. These correspond exactly to the suspension points named in the
// concurrency model: rising edge, falling edge, the read-only phase within
// a timestep, the next timestep boundary, and a timed delay.
type Kernel interface {
	RisingEdge(ctx context.Context, s SignalHandle) error
	FallingEdge(ctx context.Context, s SignalHandle) error
	ReadOnlyPhase(ctx context.Context) error
	NextTimeStep(ctx context.Context) error
	Delay(ctx context.Context, d time.Duration) error
	Now() time.Duration
}

// Binding replaces the dynamic attribute lookup on signal objects used to
// reach a design's ports and named interrupt lines (e.g.
// ext_intr_PE_<id>_0) with an explicit, strongly-typed map populated once
// at bind time.
type Binding struct {
	Kernel  Kernel
	signals map[string]SignalHandle
}

// NewBinding constructs a Binding over the given kernel and name set. Only
// names present in the kernel are recorded; callers probe for optional
// signals (transaction IDs) via Lookup rather than assuming presence.
func NewBinding(k Kernel, resolve func(name string) (SignalHandle, bool), names []string) *Binding {
	b := &Binding{Kernel: k, signals: make(map[string]SignalHandle, len(names))}
	for _, n := range names {
		if h, ok := resolve(n); ok {
			b.signals[n] = h
		}
	}
	return b
}

// Lookup returns the handle for name and whether it was bound; an unbound
// name reports false rather than a zero-valued handle. (bfm.BindPort
// probes the optional *ID lines through its resolve callback, not through
// a Binding.)
func (b *Binding) Lookup(name string) (SignalHandle, bool) {
	h, ok := b.signals[name]
	return h, ok
}

// Must returns the handle for name, panicking if it is not bound. Used for
// signals the naming contract requires to exist (clock, reset, locked,
// the mandatory channel signals).
func (b *Binding) Must(name string) SignalHandle {
	h, ok := b.signals[name]
	if !ok {
		panic("simkernel: required signal not bound: " + name)
	}
	return h
}
