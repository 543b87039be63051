// Package bfmtest provides a small wiring harness shared by the master and
// slave bus-functional model tests: it registers the full AXI4-style
// signal set on a hostkernel.Kernel, runs the clock, and drives the reset
// sequence, so each package's tests only need to construct their BFM under
// test against a ready-made Port.
package bfmtest

import (
	"context"
	"time"

	"github.com/esa-tu-darmstadt/tapasco/internal/axitypes"
	"github.com/esa-tu-darmstadt/tapasco/internal/bfm"
	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel/hostkernel"
)

// Harness wires one bound port's worth of signals on a fresh host kernel.
type Harness struct {
	Kernel *hostkernel.Kernel
	Clock  *hostkernel.Signal
	Reset  *hostkernel.Signal
	Port   *bfm.Port
}

// New registers every signal named by axitypes.Suffixes under prefix
// (e.g. "S_AXI_"), plus the clock and reset lines, starts the clock
// generator, and returns the bound Port. withID controls whether *ID
// signals are registered (and therefore bound).
func New(prefix string, period time.Duration, withID bool) *Harness {
	k := hostkernel.New()
	clk := k.Register(axitypes.SigClock)
	reset := k.Register(axitypes.SigReset)
	reset.Set(1) // deasserted (active-low)

	for _, suf := range axitypes.Suffixes.AR {
		if suf == "ID" && !withID {
			continue
		}
		k.Register(prefix + "AR" + suf)
	}
	for _, suf := range axitypes.Suffixes.AW {
		if suf == "ID" && !withID {
			continue
		}
		k.Register(prefix + "AW" + suf)
	}
	for _, suf := range axitypes.Suffixes.R {
		if suf == "ID" && !withID {
			continue
		}
		k.Register(prefix + "R" + suf)
	}
	for _, suf := range axitypes.Suffixes.W {
		k.Register(prefix + "W" + suf)
	}
	for _, suf := range axitypes.Suffixes.B {
		if suf == "ID" && !withID {
			continue
		}
		k.Register(prefix + "B" + suf)
	}

	port, err := bfm.BindPort(k.Resolve, prefix)
	if err != nil {
		panic(err)
	}

	go k.RunClock(context.Background(), clk, period)

	return &Harness{Kernel: k, Clock: clk, Reset: reset, Port: port}
}

// PulseReset drives the active-low reset line low for lowPeriods clock
// periods, then high, waiting one further period before returning.
func (h *Harness) PulseReset(ctx context.Context, period time.Duration, lowPeriods int) {
	h.Reset.Set(0)
	_ = h.Kernel.Delay(ctx, period*time.Duration(lowPeriods))
	h.Reset.Set(1)
	_ = h.Kernel.RisingEdge(ctx, h.Clock)
}
