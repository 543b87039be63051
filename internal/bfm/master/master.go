// Package master implements the master bus-functional model: it drives a
// design's slave port (the five AXI4-style channels) to perform read and
// write bursts, computing lane-aligned strobes and masking read data per
// the canonical masked form. Each Read or Write call drives the address,
// data and response channels of its burst one after another from the
// calling goroutine, in a register-transaction style of sending address and
// data out, then awaiting the response in; there are no per-channel
// background tasks or request queues, and the only background goroutine
// watches the reset line.
package master

import (
	"context"
	"fmt"

	"github.com/esa-tu-darmstadt/tapasco/errcode"
	"github.com/esa-tu-darmstadt/tapasco/internal/axitypes"
	"github.com/esa-tu-darmstadt/tapasco/internal/bfm"
	"github.com/esa-tu-darmstadt/tapasco/internal/lane"
	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel"
)

// ReadReq describes one read burst. BeatCount >= 1; BytesPerBeat must be a
// power of two <= the bus width.
type ReadReq struct {
	Addr         uint64
	BeatCount    int
	BytesPerBeat int
	Burst        axitypes.Burst
	Prot         axitypes.Prot
	ID           uint32
}

// ReadResp carries the masked data beats and the burst response.
type ReadResp struct {
	Beats [][]byte
	Resp  axitypes.Resp
	ID    uint32
}

// WriteReq describes one write burst; len(Data) == beat count.
type WriteReq struct {
	Addr  uint64
	Data  [][]byte
	Burst axitypes.Burst
	Prot  axitypes.Prot
	ID    uint32
}

// WriteResp carries the burst response.
type WriteResp struct {
	Resp axitypes.Resp
	ID   uint32
}

// Master drives one bound port. Only one burst is in flight at a time
// (the bounded in-flight queue named in the data model is realized here
// with capacity 1 via callMu), which keeps the reset/retry contract exact
// without needing full per-ID pipelining.
type Master struct {
	k      simkernel.Kernel
	clk    simkernel.SignalHandle
	resetN simkernel.SignalHandle
	port   *bfm.Port
	width  int // bus width in bytes

	callMu chan struct{} // 1-buffered semaphore serializing calls

	resetEvt *resetBroadcaster
}

// New binds a Master to port, clocked by clk and reset by resetN (active
// low), with a bus width of width bytes. A background goroutine watches
// resetN and cancels any in-flight handshake.
func New(k simkernel.Kernel, clk, resetN simkernel.SignalHandle, port *bfm.Port, width int) *Master {
	m := &Master{
		k: k, clk: clk, resetN: resetN, port: port, width: width,
		callMu:   make(chan struct{}, 1),
		resetEvt: newResetBroadcaster(),
	}
	m.callMu <- struct{}{}
	go m.watchReset(context.Background())
	return m
}

type resetBroadcaster struct {
	ch chan struct{}
}

func newResetBroadcaster() *resetBroadcaster { return &resetBroadcaster{ch: make(chan struct{})} }

func (r *resetBroadcaster) wait() <-chan struct{} { return r.ch }

func (r *resetBroadcaster) fire() {
	close(r.ch)
	r.ch = make(chan struct{})
}

func (m *Master) watchReset(ctx context.Context) {
	for {
		if err := m.k.FallingEdge(ctx, m.resetN); err != nil {
			return
		}
		m.resetEvt.fire()
		if err := m.k.RisingEdge(ctx, m.resetN); err != nil {
			return
		}
		if err := m.k.RisingEdge(ctx, m.clk); err != nil {
			return
		}
	}
}

func (m *Master) acquire(ctx context.Context) error {
	select {
	case <-m.callMu:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Master) release() { m.callMu <- struct{}{} }

// Read performs a read burst, retrying automatically whenever the bus
// resets mid-transfer (the "null" sentinel), per the failure semantics in
// the component design.
func (m *Master) Read(ctx context.Context, req ReadReq) (ReadResp, error) {
	if req.Burst == axitypes.BurstWrap {
		return ReadResp{}, &errcode.E{C: errcode.UnsupportedBurst, Msg: "wrap bursts are not supported"}
	}
	if err := m.acquire(ctx); err != nil {
		return ReadResp{}, err
	}
	defer m.release()

	for {
		resp, null, err := m.doRead(ctx, req)
		if err != nil {
			return ReadResp{}, err
		}
		if null {
			continue
		}
		return resp, nil
	}
}

// Write performs a write burst with the same reset-retry contract as Read.
func (m *Master) Write(ctx context.Context, req WriteReq) (WriteResp, error) {
	if req.Burst == axitypes.BurstWrap {
		return WriteResp{}, &errcode.E{C: errcode.UnsupportedBurst, Msg: "wrap bursts are not supported"}
	}
	if err := m.acquire(ctx); err != nil {
		return WriteResp{}, err
	}
	defer m.release()

	for {
		resp, null, err := m.doWrite(ctx, req)
		if err != nil {
			return WriteResp{}, err
		}
		if null {
			continue
		}
		return resp, nil
	}
}

// waitHandshake waits for ready on a rising clock edge; the caller asserts
// valid beforehand. It returns (true, nil) once ready is seen, (false, nil)
// if the bus reset fired first, and (false, err) if the wait failed. The
// host kernel samples ready immediately following the edge, within the same
// timestep.
func (m *Master) waitHandshake(ctx context.Context, ready simkernel.SignalHandle) (bool, error) {
	resetCh := m.resetEvt.wait()
	for {
		edgeErr := make(chan error, 1)
		go func() { edgeErr <- m.k.RisingEdge(ctx, m.clk) }()
		select {
		case <-resetCh:
			return false, nil
		case err := <-edgeErr:
			if err != nil {
				return false, err
			}
			if ready.Value() != 0 {
				return true, nil
			}
		}
	}
}

func beatSize(bytesPerBeat int) uint64 {
	n := 0
	for (1 << uint(n)) < bytesPerBeat {
		n++
	}
	return uint64(n)
}

func (m *Master) doRead(ctx context.Context, req ReadReq) (ReadResp, bool, error) {
	ar := m.port.AR
	aligned := lane.AlignDown(req.Addr, req.BytesPerBeat)

	ar.Addr.Set(aligned)
	ar.Len.Set(uint64(req.BeatCount - 1))
	ar.Size.Set(beatSize(req.BytesPerBeat))
	ar.Burst.Set(uint64(req.Burst))
	ar.Prot.Set(uint64(req.Prot))
	if ar.ID != nil {
		ar.ID.Set(uint64(req.ID))
	}
	ar.Valid.Set(1)

	accepted, err := m.waitHandshake(ctx, ar.Ready)
	ar.Valid.Set(0)
	if err != nil {
		return ReadResp{}, false, err
	}
	if !accepted {
		return ReadResp{}, true, nil // reset hit before address phase accepted
	}

	r := m.port.R
	r.Ready.Set(1)
	defer r.Ready.Set(0)

	beats := make([][]byte, 0, req.BeatCount)
	var lastResp axitypes.Resp
	for beatN := 0; beatN < req.BeatCount; beatN++ {
		accepted, err := m.waitHandshake(ctx, r.Valid)
		if err != nil {
			return ReadResp{}, false, err
		}
		if !accepted {
			return ReadResp{}, true, nil
		}

		word := uint64ToBytes(r.Data.Value(), m.width)
		var b lane.Beat
		if beatN == 0 {
			b = lane.Lane0(req.Addr, m.width, req.BytesPerBeat)
		} else {
			b = lane.BeatN(aligned, beatN, m.width, req.BytesPerBeat)
		}
		beats = append(beats, lane.Mask(word, b))
		lastResp = axitypes.Resp(r.Resp.Value())

		if r.Last.Value() != 0 && beatN != req.BeatCount-1 {
			panic("master bfm: RLAST asserted before the expected final beat")
		}
	}

	id := req.ID
	if r.ID != nil {
		id = uint32(r.ID.Value())
	}
	return ReadResp{Beats: beats, Resp: lastResp, ID: id}, false, nil
}

func (m *Master) doWrite(ctx context.Context, req WriteReq) (WriteResp, bool, error) {
	beatCount := len(req.Data)
	if beatCount == 0 {
		return WriteResp{}, false, fmt.Errorf("master bfm: write burst with zero beats")
	}
	bytesPerBeat := len(req.Data[0])
	aligned := lane.AlignDown(req.Addr, bytesPerBeat)

	aw := m.port.AW
	aw.Addr.Set(aligned)
	aw.Len.Set(uint64(beatCount - 1))
	aw.Size.Set(beatSize(bytesPerBeat))
	aw.Burst.Set(uint64(req.Burst))
	aw.Prot.Set(uint64(req.Prot))
	if aw.ID != nil {
		aw.ID.Set(uint64(req.ID))
	}
	aw.Valid.Set(1)

	accepted, err := m.waitHandshake(ctx, aw.Ready)
	aw.Valid.Set(0)
	if err != nil {
		return WriteResp{}, false, err
	}
	if !accepted {
		return WriteResp{}, true, nil
	}

	w := m.port.W
	for beatN, beat := range req.Data {
		var b lane.Beat
		if req.Burst == axitypes.BurstFixed {
			b = lane.Lane0(req.Addr, m.width, bytesPerBeat)
		} else if beatN == 0 {
			b = lane.Lane0(req.Addr, m.width, bytesPerBeat)
		} else {
			b = lane.BeatN(aligned, beatN, m.width, bytesPerBeat)
		}
		strb := lane.Strobe(b)

		w.Data.Set(bytesToUint64(beat, m.width))
		w.Strb.Set(strb)
		if beatN == beatCount-1 {
			w.Last.Set(1)
		} else {
			w.Last.Set(0)
		}
		w.Valid.Set(1)

		accepted, err := m.waitHandshake(ctx, w.Ready)
		w.Valid.Set(0)
		if err != nil {
			return WriteResp{}, false, err
		}
		if !accepted {
			return WriteResp{}, true, nil
		}
	}

	b := m.port.B
	b.Ready.Set(1)
	defer b.Ready.Set(0)

	accepted, err = m.waitHandshake(ctx, b.Valid)
	if err != nil {
		return WriteResp{}, false, err
	}
	if !accepted {
		return WriteResp{}, true, nil
	}

	id := req.ID
	if b.ID != nil {
		id = uint32(b.ID.Value())
	}
	return WriteResp{Resp: axitypes.Resp(b.Resp.Value()), ID: id}, false, nil
}

func uint64ToBytes(v uint64, width int) []byte {
	out := make([]byte, width)
	for i := 0; i < width && i < 8; i++ {
		out[i] = byte(v >> (8 * uint(i)))
	}
	return out
}

func bytesToUint64(b []byte, width int) uint64 {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
