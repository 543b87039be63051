// Package bfm holds the signal-binding plumbing shared by the master and
// slave bus-functional models: the per-channel handle groups and the
// presence-probed bind step that replaces dynamic attribute lookup with a
// strongly-typed map (see simkernel.Binding).
package bfm

import (
	"fmt"

	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel"
)

// AddrChannel groups the address-phase signals shared by AR and AW.
type AddrChannel struct {
	Valid, Ready, Addr, Prot, Len, Size, Burst, Lock, Cache simkernel.SignalHandle
	ID                                                      simkernel.SignalHandle // nil if the port has no *ID lines
}

// DataRChannel groups the read-data channel signals.
type DataRChannel struct {
	Valid, Ready, Data, Resp, Last simkernel.SignalHandle
	ID                             simkernel.SignalHandle
}

// DataWChannel groups the write-data channel signals (no ID on AXI4 W).
type DataWChannel struct {
	Valid, Ready, Data, Strb, Last simkernel.SignalHandle
}

// RespChannel groups the write-response channel signals.
type RespChannel struct {
	Valid, Ready, Resp simkernel.SignalHandle
	ID                 simkernel.SignalHandle
}

// Port is the full five-channel signal set for one side (master-driven or
// slave-driven) of the split bus.
type Port struct {
	AR AddrChannel
	R  DataRChannel
	AW AddrChannel
	W  DataWChannel
	B  RespChannel

	HasID bool
}

func bindAddr(lookup func(string) (simkernel.SignalHandle, bool), prefix, chanPrefix string) (AddrChannel, error) {
	get := func(suffix string) (simkernel.SignalHandle, error) {
		name := prefix + chanPrefix + suffix
		h, ok := lookup(name)
		if !ok {
			return nil, fmt.Errorf("bfm: required signal not present: %s", name)
		}
		return h, nil
	}
	var c AddrChannel
	var err error
	if c.Valid, err = get("VALID"); err != nil {
		return c, err
	}
	if c.Ready, err = get("READY"); err != nil {
		return c, err
	}
	if c.Addr, err = get("ADDR"); err != nil {
		return c, err
	}
	if c.Prot, err = get("PROT"); err != nil {
		return c, err
	}
	if c.Len, err = get("LEN"); err != nil {
		return c, err
	}
	if c.Size, err = get("SIZE"); err != nil {
		return c, err
	}
	if c.Burst, err = get("BURST"); err != nil {
		return c, err
	}
	if c.Lock, err = get("LOCK"); err != nil {
		return c, err
	}
	if c.Cache, err = get("CACHE"); err != nil {
		return c, err
	}
	c.ID, _ = lookup(prefix + chanPrefix + "ID") // optional
	return c, nil
}

// BindPort resolves all five channels of a port named prefix (e.g.
// "S_AXI_" or "M_AXI_") against lookup. *ID signals are probed for
// presence rather than assumed; HasID reports whether they were found (and
// is only considered true if every channel that can carry an ID has one).
func BindPort(lookup func(string) (simkernel.SignalHandle, bool), prefix string) (*Port, error) {
	ar, err := bindAddr(lookup, prefix, "AR")
	if err != nil {
		return nil, err
	}
	aw, err := bindAddr(lookup, prefix, "AW")
	if err != nil {
		return nil, err
	}

	get := func(suffix string) (simkernel.SignalHandle, error) {
		name := prefix + "R" + suffix
		h, ok := lookup(name)
		if !ok {
			return nil, fmt.Errorf("bfm: required signal not present: %s", name)
		}
		return h, nil
	}
	var r DataRChannel
	if r.Valid, err = get("VALID"); err != nil {
		return nil, err
	}
	if r.Ready, err = get("READY"); err != nil {
		return nil, err
	}
	if r.Data, err = get("DATA"); err != nil {
		return nil, err
	}
	if r.Resp, err = get("RESP"); err != nil {
		return nil, err
	}
	if r.Last, err = get("LAST"); err != nil {
		return nil, err
	}
	r.ID, _ = lookup(prefix + "RID")

	getW := func(suffix string) (simkernel.SignalHandle, error) {
		name := prefix + "W" + suffix
		h, ok := lookup(name)
		if !ok {
			return nil, fmt.Errorf("bfm: required signal not present: %s", name)
		}
		return h, nil
	}
	var w DataWChannel
	if w.Valid, err = getW("VALID"); err != nil {
		return nil, err
	}
	if w.Ready, err = getW("READY"); err != nil {
		return nil, err
	}
	if w.Data, err = getW("DATA"); err != nil {
		return nil, err
	}
	if w.Strb, err = getW("STRB"); err != nil {
		return nil, err
	}
	if w.Last, err = getW("LAST"); err != nil {
		return nil, err
	}

	getB := func(suffix string) (simkernel.SignalHandle, error) {
		name := prefix + "B" + suffix
		h, ok := lookup(name)
		if !ok {
			return nil, fmt.Errorf("bfm: required signal not present: %s", name)
		}
		return h, nil
	}
	var b RespChannel
	if b.Valid, err = getB("VALID"); err != nil {
		return nil, err
	}
	if b.Ready, err = getB("READY"); err != nil {
		return nil, err
	}
	if b.Resp, err = getB("RESP"); err != nil {
		return nil, err
	}
	b.ID, _ = lookup(prefix + "BID")

	hasID := ar.ID != nil && aw.ID != nil && r.ID != nil && b.ID != nil

	return &Port{AR: ar, R: r, AW: aw, W: w, B: b, HasID: hasID}, nil
}
