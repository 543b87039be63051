// Package slave implements the slave bus-functional model: it answers read
// and write bursts issued against a design's master port, backed by an
// owned byte-addressable memory. Per-beat slave-error on out-of-range
// access; strobe-applied writes synchronized to the falling clock edge so
// same-cycle reads observe pre-write memory; the last-beat assertion
// checked on the final beat of a burst.
package slave

import (
	"context"
	"sync"

	"github.com/esa-tu-darmstadt/tapasco/internal/axitypes"
	"github.com/esa-tu-darmstadt/tapasco/internal/bfm"
	"github.com/esa-tu-darmstadt/tapasco/internal/lane"
	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel"
)

// Slave answers one bound port against an owned memory of the given size.
// It is the sole owner of that memory; every other access path in this
// bridge goes through read/write requests serialized onto the simulator
// pump. memMu guards every touch of mem: the bus-driven readLoop/writeLoop
// goroutines and direct-access callers (ReadDirect/WriteDirect, invoked
// from request-handling goroutines spawned per queued record) all run
// concurrently with each other, and nothing about the cooperative
// single-threaded simulator domain model prevents their beats or direct
// accesses from interleaving at the Go runtime level.
type Slave struct {
	k      simkernel.Kernel
	clk    simkernel.SignalHandle
	resetN simkernel.SignalHandle
	port   *bfm.Port
	width  int

	memMu sync.Mutex
	mem   []byte
}

// New binds a Slave to port and starts its reset watcher plus one read loop
// (AR/R) and one write loop (AW/W/B) serving the five channels. memSize is
// the owned memory's size in bytes (1 GiB per the data model, smaller in
// tests).
func New(k simkernel.Kernel, clk, resetN simkernel.SignalHandle, port *bfm.Port, width, memSize int) *Slave {
	s := &Slave{k: k, clk: clk, resetN: resetN, port: port, width: width, mem: make([]byte, memSize)}
	ctx := context.Background()
	go s.runReset(ctx)
	go s.readLoop(ctx)
	go s.writeLoop(ctx)
	return s
}

// ReadDirect returns a copy of mem[addr:addr+n]. Used by the request
// server's read_memory procedure, which the data model has bypass the bus
// protocol entirely and touch the owned memory straight from the
// simulator domain. Held under memMu so it cannot race an in-flight write
// burst's beats or a concurrent direct access.
func (s *Slave) ReadDirect(addr uint64, n int) ([]byte, bool) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	if addr+uint64(n) > uint64(len(s.mem)) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, s.mem[addr:addr+uint64(n)])
	return out, true
}

// WriteDirect writes data into mem at addr, bypassing the bus protocol, for
// the request server's write_memory procedure. Held under memMu for the
// same reason as ReadDirect.
func (s *Slave) WriteDirect(addr uint64, data []byte) bool {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	if addr+uint64(len(data)) > uint64(len(s.mem)) {
		return false
	}
	copy(s.mem[addr:addr+uint64(len(data))], data)
	return true
}

// Size returns the owned memory's size in bytes.
func (s *Slave) Size() int { return len(s.mem) }

func (s *Slave) runReset(ctx context.Context) {
	for {
		if err := s.k.FallingEdge(ctx, s.resetN); err != nil {
			return
		}
		s.port.AR.Valid.Set(0)
		s.port.AW.Valid.Set(0)
		s.port.W.Valid.Set(0)
		if err := s.k.RisingEdge(ctx, s.resetN); err != nil {
			return
		}
	}
}

func (s *Slave) waitClockWhile(ctx context.Context, cond func() bool) error {
	for !cond() {
		if err := s.k.RisingEdge(ctx, s.clk); err != nil {
			return err
		}
	}
	return nil
}

// readLoop answers AR/R bursts one at a time.
func (s *Slave) readLoop(ctx context.Context) {
	ar := s.port.AR
	r := s.port.R
	for {
		ar.Ready.Set(1)
		if err := s.waitClockWhile(ctx, func() bool { return ar.Valid.Value() != 0 }); err != nil {
			return
		}
		ar.Ready.Set(0)

		addr := ar.Addr.Value()
		beatLen := int(ar.Len.Value()) + 1
		bytesPerBeat := 1 << ar.Size.Value()
		burst := axitypes.Burst(ar.Burst.Value())
		var id uint64
		if ar.ID != nil {
			id = ar.ID.Value()
		}

		addrI := addr
		for beatN := 0; beatN < beatLen; beatN++ {
			var resp axitypes.Resp
			var word []byte
			s.memMu.Lock()
			if addrI+uint64(bytesPerBeat) > uint64(len(s.mem)) {
				resp = axitypes.RespSlvErr
				word = make([]byte, s.width)
			} else {
				resp = axitypes.RespOkay
				base := lane.AlignDown(addrI, s.width)
				word = make([]byte, s.width)
				copy(word, s.mem[base:base+uint64(s.width)])
			}
			s.memMu.Unlock()

			r.Data.Set(bytesToWord(word))
			r.Resp.Set(uint64(resp))
			if beatN == beatLen-1 {
				r.Last.Set(1)
			} else {
				r.Last.Set(0)
			}
			if r.ID != nil {
				r.ID.Set(id)
			}
			r.Valid.Set(1)

			if err := s.waitClockWhile(ctx, func() bool { return r.Ready.Value() == 0 }); err != nil {
				return
			}
			r.Valid.Set(0)

			if burst == axitypes.BurstIncr {
				addrI += uint64(bytesPerBeat)
			}
		}
	}
}

// writeLoop answers AW/W/B bursts one at a time, applying strobes to
// memory on the falling clock edge as the data model requires.
func (s *Slave) writeLoop(ctx context.Context) {
	aw := s.port.AW
	w := s.port.W
	b := s.port.B
	for {
		aw.Ready.Set(1)
		if err := s.waitClockWhile(ctx, func() bool { return aw.Valid.Value() != 0 }); err != nil {
			return
		}
		aw.Ready.Set(0)

		addr := aw.Addr.Value()
		beatLen := int(aw.Len.Value()) + 1
		bytesPerBeat := 1 << aw.Size.Value()
		var id uint64
		if aw.ID != nil {
			id = aw.ID.Value()
		}

		addrI := addr
		resp := axitypes.RespOkay
		for beatN := 0; beatN < beatLen; beatN++ {
			w.Ready.Set(1)
			if err := s.waitClockWhile(ctx, func() bool { return w.Valid.Value() == 0 }); err != nil {
				return
			}

			isLast := w.Last.Value() != 0
			if beatN == beatLen-1 && !isLast {
				panic("slave bfm: received beats but did not see wlast on the final beat")
			}

			strb := w.Strb.Value()
			word := wordToBytes(w.Data.Value(), s.width)

			if err := s.k.FallingEdge(ctx, s.clk); err != nil {
				return
			}
			w.Ready.Set(0)

			end := addrI + uint64(s.width)
			s.memMu.Lock()
			if addrI+uint64(bytesPerBeat) > uint64(len(s.mem)) {
				resp = axitypes.RespSlvErr
			} else if end <= uint64(len(s.mem)) {
				strobeOffset := int(addrI % uint64(s.width))
				lane.ApplyStrobe(s.mem[addrI:end], word, strb, strobeOffset)
			}
			s.memMu.Unlock()

			addrI += uint64(bytesPerBeat)
		}

		b.Resp.Set(uint64(resp))
		if b.ID != nil {
			b.ID.Set(id)
		}
		b.Valid.Set(1)
		if err := s.waitClockWhile(ctx, func() bool { return b.Ready.Value() == 0 }); err != nil {
			return
		}
		b.Valid.Set(0)
	}
}

func bytesToWord(b []byte) uint64 {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func wordToBytes(v uint64, width int) []byte {
	out := make([]byte, width)
	for i := 0; i < width && i < 8; i++ {
		out[i] = byte(v >> (8 * uint(i)))
	}
	return out
}
