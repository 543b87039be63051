// Package hostkernel is a reference simkernel.Kernel used by package tests
// and the standalone demo harness. It is not an RTL simulator: signal edges
// are driven by whatever goroutine calls Set, and simulated time is a
// manually advanced virtual clock rather than an event-driven schedule.
// Styled as a host-side factory fake, standing in for a real simulator
// kernel binding the same way a host-side fake stands in for a real
// peripheral driver behind the same interface.
package hostkernel

import (
	"context"
	"sync"
	"time"

	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel"
)

// Signal is a named, edge-observable register.
type Signal struct {
	name string

	mu    sync.Mutex
	cond  *sync.Cond
	value uint64
	risingGen, fallingGen uint64
}

func newSignal(name string) *Signal {
	s := &Signal{name: name}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Signal) Name() string { return s.name }

func (s *Signal) Value() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set updates the signal's value and, if it actually changed between 0 and
// non-zero, bumps the matching edge generation and wakes any waiters.
func (s *Signal) Set(v uint64) {
	s.mu.Lock()
	was := s.value
	s.value = v
	if was == 0 && v != 0 {
		s.risingGen++
	} else if was != 0 && v == 0 {
		s.fallingGen++
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *Signal) waitEdge(ctx context.Context, rising bool) error {
	s.mu.Lock()
	start := s.risingGen
	if !rising {
		start = s.fallingGen
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast() // unstick the Wait below
		case <-done:
		}
	}()
	for {
		cur := s.risingGen
		if !rising {
			cur = s.fallingGen
		}
		if cur != start {
			s.mu.Unlock()
			close(done)
			return nil
		}
		if ctx.Err() != nil {
			s.mu.Unlock()
			close(done)
			return ctx.Err()
		}
		s.cond.Wait()
	}
}

// Kernel is the reference simkernel.Kernel implementation.
type Kernel struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Duration
	signals map[string]*Signal
}

// New returns an empty Kernel. Signals are created lazily via Register so
// that bind-time probing (Resolve before use) works the same as it
// would against a real simulator binding: unknown names simply are not
// created unless the test explicitly registers them via Register.
func New() *Kernel {
	k := &Kernel{signals: make(map[string]*Signal)}
	k.cond = sync.NewCond(&k.mu)
	return k
}

// Register creates (if absent) and returns the named signal. Real
// bindings instead resolve names against the design's port list; tests use
// Register to declare exactly the signals a scenario needs, which doubles
// as the presence probe for optional *ID signals.
func (k *Kernel) Register(name string) *Signal {
	k.mu.Lock()
	defer k.mu.Unlock()
	if s, ok := k.signals[name]; ok {
		return s
	}
	s := newSignal(name)
	k.signals[name] = s
	return s
}

// Resolve implements the resolve callback expected by simkernel.NewBinding:
// it only returns signals that have been Register-ed, so absent optional
// signals (e.g. a port with no *ID lines) are correctly reported missing.
func (k *Kernel) Resolve(name string) (simkernel.SignalHandle, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.signals[name]
	if !ok {
		return nil, false
	}
	return s, true
}

func (k *Kernel) RisingEdge(ctx context.Context, s simkernel.SignalHandle) error {
	return s.(*Signal).waitEdge(ctx, true)
}

func (k *Kernel) FallingEdge(ctx context.Context, s simkernel.SignalHandle) error {
	return s.(*Signal).waitEdge(ctx, false)
}

// ReadOnlyPhase models cocotb's ReadOnly() sync point: a brief window after
// signal updates settle within the current timestep, before the next edge.
// The host kernel has no sub-step phases, so this is a no-op suspension
// that still respects ctx cancellation.
func (k *Kernel) ReadOnlyPhase(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// NextTimeStep advances the virtual clock by one arbitrary tick. Real
// callers rely on Delay/RisingEdge for anything timing-sensitive; this
// exists so call sites written against the cocotb "NextTimeStep()" idiom
// have a direct analogue.
func (k *Kernel) NextTimeStep(ctx context.Context) error {
	return k.Delay(ctx, time.Nanosecond)
}

// Delay blocks until the virtual clock has advanced by at least d from the
// call time, or ctx is cancelled. Advance must be driven externally via
// AdvanceBy (typically by RunClock).
func (k *Kernel) Delay(ctx context.Context, d time.Duration) error {
	k.mu.Lock()
	target := k.now + d
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			k.cond.Broadcast()
		case <-done:
		}
	}()
	for k.now < target {
		if ctx.Err() != nil {
			k.mu.Unlock()
			close(done)
			return ctx.Err()
		}
		k.cond.Wait()
	}
	k.mu.Unlock()
	close(done)
	return nil
}

// Now returns the current virtual simulated time.
func (k *Kernel) Now() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

// AdvanceBy moves the virtual clock forward by d and wakes every Delay
// waiter so they can re-check their deadline.
func (k *Kernel) AdvanceBy(d time.Duration) {
	k.mu.Lock()
	k.now += d
	k.mu.Unlock()
	k.cond.Broadcast()
}

// RunClock drives a square wave of the given period on sig until ctx is
// cancelled, advancing the virtual clock by one half-period per edge. This
// is the host kernel's stand-in for the pump's real clock generator.
func (k *Kernel) RunClock(ctx context.Context, sig *Signal, period time.Duration) {
	half := period / 2
	if half <= 0 {
		half = time.Nanosecond
	}
	high := uint64(0)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		high ^= 1
		sig.Set(high)
		k.AdvanceBy(half)
	}
}
