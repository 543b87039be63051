package pump

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/esa-tu-darmstadt/tapasco/internal/axitypes"
	"github.com/esa-tu-darmstadt/tapasco/internal/queue"
	"github.com/esa-tu-darmstadt/tapasco/internal/reqserver"
	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel"
	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel/hostkernel"
)

const testPeriod = 10 * time.Nanosecond

// wirePump registers a full S_AXI_/M_AXI_ signal set plus clock, reset, and
// locked on one shared host kernel, builds a Pump against it, and starts a
// harness-driven clock and a settled reset/locked state. There is no design
// between the two ports, so the resolver loops them back: every M_AXI_ name
// resolves to the matching S_AXI_ signal, and the master's bursts are
// answered by the pump's own slave and its memory. Unlike Run, this
// does not exercise the pump's own clock/reset orchestration (which assumes
// a kernel whose Delay is driven by the underlying simulator engine, not a
// host test double) — the same reason master/slave tests drive their own
// clock rather than relying on a pump-owned one.
func wirePump(t *testing.T, memSize int) (*Pump, *hostkernel.Kernel, *queue.Queue[*reqserver.Record]) {
	t.Helper()
	k := hostkernel.New()
	clk := k.Register(axitypes.SigClock)
	reset := k.Register(axitypes.SigReset)
	locked := k.Register(axitypes.SigLocked)
	reset.Set(1)
	locked.Set(1)

	for _, prefix := range []string{"S_AXI_", "M_AXI_"} {
		for _, suf := range axitypes.Suffixes.AR {
			k.Register(prefix + "AR" + suf)
		}
		for _, suf := range axitypes.Suffixes.AW {
			k.Register(prefix + "AW" + suf)
		}
		for _, suf := range axitypes.Suffixes.R {
			k.Register(prefix + "R" + suf)
		}
		for _, suf := range axitypes.Suffixes.W {
			k.Register(prefix + "W" + suf)
		}
		for _, suf := range axitypes.Suffixes.B {
			k.Register(prefix + "B" + suf)
		}
	}

	loopback := func(name string) (simkernel.SignalHandle, bool) {
		if rest, ok := strings.CutPrefix(name, "M_AXI_"); ok {
			name = "S_AXI_" + rest
		}
		return k.Resolve(name)
	}

	fifo := queue.New[*reqserver.Record](0)
	p, err := New(Config{
		Kernel: k, Resolve: loopback, BusWidth: 4, MemorySize: memSize,
		Logger: zerolog.Nop(),
	}, fifo)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go k.RunClock(context.Background(), clk, testPeriod)
	return p, k, fifo
}

func TestPump_WriteMemoryThenReadMemoryBypassesBus(t *testing.T) {
	p, _, _ := wirePump(t, 1<<16)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec := &reqserver.Record{Kind: reqserver.KindWriteMemory, Addr: 0x100, Data: []byte{1, 2, 3, 4}, Done: make(chan struct{})}
	p.execute(ctx, rec)
	if rec.Result.Err != nil {
		t.Fatalf("write_memory: %v", rec.Result.Err)
	}

	rec2 := &reqserver.Record{Kind: reqserver.KindReadMemory, Addr: 0x100, Length: 4, Done: make(chan struct{})}
	p.execute(ctx, rec2)
	if rec2.Result.Err != nil {
		t.Fatalf("read_memory: %v", rec2.Result.Err)
	}
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if rec2.Result.Data[i] != want[i] {
			t.Fatalf("read_memory data = %#v, want %#v", rec2.Result.Data, want)
		}
	}
}

func TestPump_WriteMemoryOutOfRangeIsAddressError(t *testing.T) {
	p, _, _ := wirePump(t, 1<<8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec := &reqserver.Record{Kind: reqserver.KindWriteMemory, Addr: 1 << 8, Data: []byte{1}, Done: make(chan struct{})}
	p.execute(ctx, rec)
	if rec.Result.Err == nil {
		t.Fatal("expected an out-of-range error")
	}
}

func TestPump_WritePlatformThenReadPlatformRoundTrip(t *testing.T) {
	p, _, _ := wirePump(t, 1<<16)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	words := []uint32{0x11223344, 0x55667788, 0xAABBCCDD}
	if err := p.writePlatform(ctx, &reqserver.Record{Addr: 0x40, U32: words}); err != nil {
		t.Fatalf("writePlatform: %v", err)
	}

	got, err := p.readPlatform(ctx, 0x40, len(words)*4)
	if err != nil {
		t.Fatalf("readPlatform: %v", err)
	}
	if len(got) != len(words) {
		t.Fatalf("readPlatform returned %d words, want %d", len(got), len(words))
	}
	for i := range words {
		if got[i] != words[i] {
			t.Fatalf("word %d = %#x, want %#x", i, got[i], words[i])
		}
	}
}

func TestPump_WritePlatform64SplitsIntoTwoLittleEndianBeats(t *testing.T) {
	p, _, _ := wirePump(t, 1<<16)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	v := uint64(0x1122334455667788)
	if err := p.writePlatform(ctx, &reqserver.Record{Addr: 0x80, U64: []uint64{v}, WidePlat: true}); err != nil {
		t.Fatalf("writePlatform: %v", err)
	}

	got, err := p.readPlatform(ctx, 0x80, 8)
	if err != nil {
		t.Fatalf("readPlatform: %v", err)
	}
	if got[0] != uint32(v) || got[1] != uint32(v>>32) {
		t.Fatalf("beats = %#x %#x, want %#x %#x", got[0], got[1], uint32(v), uint32(v>>32))
	}
}

func TestPump_PrefetchStatusDecodesVarintLengthPrefix(t *testing.T) {
	// The status region sits at a fixed high address, so the backing
	// memory must extend at least that far plus its 8 KiB window.
	p, _, _ := wirePump(t, StatusBase+StatusSize)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := []byte("idle")
	raw := make([]byte, StatusSize)
	raw[0] = byte(len(payload)) // single-byte varint, length < 128
	copy(raw[1:], payload)

	// Seed the status base address directly via the slave's owned memory,
	// mirroring how the design would expose it to the master's read bursts.
	if !p.Slave.WriteDirect(StatusBase, raw) {
		t.Fatal("seed status region: out of range")
	}

	if err := p.prefetchStatus(ctx); err != nil {
		t.Fatalf("prefetchStatus: %v", err)
	}
	got, err := p.Status.Wait(ctx)
	if err != nil {
		t.Fatalf("Status.Wait: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("status payload = %q, want %q", got, payload)
	}
}

func TestPump_DrainOnceDispatchesQueuedRecordAndClosesDone(t *testing.T) {
	p, _, fifo := wirePump(t, 1<<16)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec := &reqserver.Record{Kind: reqserver.KindWriteMemory, Addr: 0x10, Data: []byte{9}, Done: make(chan struct{})}
	if err := fifo.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p.drainOnce(ctx)

	select {
	case <-rec.Done:
	case <-time.After(time.Second):
		t.Fatal("record was never completed")
	}
	if rec.Result.Err != nil {
		t.Fatalf("dispatched write_memory failed: %v", rec.Result.Err)
	}

	got, ok := p.Slave.ReadDirect(0x10, 1)
	if !ok || got[0] != 9 {
		t.Fatalf("memory = %#v, want [9]", got)
	}
}
