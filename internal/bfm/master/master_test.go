package master

import (
	"context"
	"testing"
	"time"

	"github.com/esa-tu-darmstadt/tapasco/internal/axitypes"
	"github.com/esa-tu-darmstadt/tapasco/internal/bfm/bfmtest"
	"github.com/esa-tu-darmstadt/tapasco/internal/bfm/slave"
)

const testPeriod = 10 * time.Nanosecond

func newWiredPair(t *testing.T, withID bool) (*Master, *slave.Slave, *bfmtest.Harness) {
	t.Helper()
	h := bfmtest.New("S_AXI_", testPeriod, withID)
	m := New(h.Kernel, h.Clock, h.Reset, h.Port, 4)
	s := slave.New(h.Kernel, h.Clock, h.Reset, h.Port, 4, 1<<16)
	return m, s, h
}

func TestMaster_WriteThenReadRoundTrip(t *testing.T) {
	m, s, _ := newWiredPair(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data := []byte{0x01, 0x02, 0x03, 0x04}
	_, err := m.Write(ctx, WriteReq{
		Addr:  0x100,
		Data:  [][]byte{data},
		Burst: axitypes.BurstIncr,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok := s.ReadDirect(0x100, 4)
	if !ok {
		t.Fatal("ReadDirect: address out of range")
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("memory = %v, want %v", got, data)
		}
	}

	resp, err := m.Read(ctx, ReadReq{Addr: 0x100, BeatCount: 1, BytesPerBeat: 4, Burst: axitypes.BurstIncr})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if resp.Resp != axitypes.RespOkay {
		t.Fatalf("resp = %v, want okay", resp.Resp)
	}
	if len(resp.Beats) != 1 {
		t.Fatalf("got %d beats, want 1", len(resp.Beats))
	}
	for i := range data {
		if resp.Beats[0][i] != data[i] {
			t.Fatalf("read beat = %v, want %v", resp.Beats[0], data)
		}
	}
}

func TestMaster_BurstReadLengthAndLast(t *testing.T) {
	m, _, _ := newWiredPair(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const beats = 16
	resp, err := m.Read(ctx, ReadReq{Addr: 0, BeatCount: beats, BytesPerBeat: 4, Burst: axitypes.BurstIncr})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(resp.Beats) != beats {
		t.Fatalf("got %d beats, want %d", len(resp.Beats), beats)
	}
}

func TestMaster_WrapBurstRejected(t *testing.T) {
	m, _, _ := newWiredPair(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := m.Read(ctx, ReadReq{Addr: 0, BeatCount: 1, BytesPerBeat: 4, Burst: axitypes.BurstWrap})
	if err == nil {
		t.Fatal("expected an error for a wrap burst")
	}
}

func TestMaster_OutOfRangeWriteYieldsSlaveError(t *testing.T) {
	m, s, _ := newWiredPair(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	memSize := uint64(1 << 16)
	_ = s

	resp, err := m.Write(ctx, WriteReq{
		Addr:  memSize, // exactly at the boundary: out of range
		Data:  [][]byte{{0xFF, 0xFF, 0xFF, 0xFF}},
		Burst: axitypes.BurstIncr,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if resp.Resp != axitypes.RespSlvErr {
		t.Fatalf("resp = %v, want slverr", resp.Resp)
	}
}

func TestMaster_ResetMidReadRetriesToSuccess(t *testing.T) {
	m, _, h := newWiredPair(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.PulseReset(ctx, testPeriod, 12)
	}()

	resp, err := m.Read(ctx, ReadReq{Addr: 0, BeatCount: 1, BytesPerBeat: 4, Burst: axitypes.BurstIncr})
	if err != nil {
		t.Fatalf("Read after reset: %v", err)
	}
	if resp.Resp != axitypes.RespOkay {
		t.Fatalf("resp = %v, want okay", resp.Resp)
	}
}
