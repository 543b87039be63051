package transport

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/esa-tu-darmstadt/tapasco/internal/irqwatch"
	"github.com/esa-tu-darmstadt/tapasco/internal/queue"
	"github.com/esa-tu-darmstadt/tapasco/internal/reqserver"
	"github.com/esa-tu-darmstadt/tapasco/internal/statuscache"
)

// fakeDispatcher drains the request FIFO the way the simulation pump would,
// but only handles write_memory/read_memory against an in-process byte
// slice, enough to exercise the transport's framing and dispatch without
// standing up a full bus-functional-model harness.
func startFakeDispatcher(ctx context.Context, fifo *queue.Queue[*reqserver.Record], mem []byte) {
	go func() {
		for {
			rec, err := fifo.Get(ctx)
			if err != nil {
				return
			}
			switch rec.Kind {
			case reqserver.KindWriteMemory:
				copy(mem[rec.Addr:], rec.Data)
			case reqserver.KindReadMemory:
				out := make([]byte, rec.Length)
				copy(out, mem[rec.Addr:int(rec.Addr)+rec.Length])
				rec.Result.Data = out
			}
			close(rec.Done)
		}
	}()
}

func newTestServer(t *testing.T) (*Server, net.Listener) {
	t.Helper()
	fifo := queue.New[*reqserver.Record](0)
	mem := make([]byte, 1<<16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	startFakeDispatcher(ctx, fifo, mem)

	req := reqserver.New(fifo, irqwatch.NewManager(), statuscache.New(), 4)
	srv := New("127.0.0.1:0", req, nil, zerolog.Nop())

	ln, err := srv.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve(ctx, ln)
	return srv, ln
}

func TestTransport_WriteMemoryThenReadMemoryRoundTrip(t *testing.T) {
	_, ln := newTestServer(t)

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	writePayload := make([]byte, 8+4)
	binary.BigEndian.PutUint64(writePayload[:8], 0x20)
	copy(writePayload[8:], []byte{1, 2, 3, 4})
	if err := writeFrame(conn, Frame{Tag: byte(KindWriteMemory), ReqID: 1, Payload: writePayload}); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	resp, err := readFrame(conn)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if Status(resp.Tag) != StatusOK || resp.ReqID != 1 {
		t.Fatalf("write response = %+v, want ok/1", resp)
	}

	readPayload := make([]byte, 12)
	binary.BigEndian.PutUint64(readPayload[:8], 0x20)
	binary.BigEndian.PutUint32(readPayload[8:12], 4)
	if err := writeFrame(conn, Frame{Tag: byte(KindReadMemory), ReqID: 2, Payload: readPayload}); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	resp, err = readFrame(conn)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if Status(resp.Tag) != StatusOK || resp.ReqID != 2 {
		t.Fatalf("read response = %+v, want ok/2", resp)
	}
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if resp.Payload[i] != want[i] {
			t.Fatalf("payload = %#v, want %#v", resp.Payload, want)
		}
	}
}

func TestTransport_UnknownKindYieldsErrorStatusAndCode(t *testing.T) {
	_, ln := newTestServer(t)
	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := writeFrame(conn, Frame{Tag: 0xFE, ReqID: 9}); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	resp, err := readFrame(conn)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if Status(resp.Tag) != StatusError || resp.ReqID != 9 {
		t.Fatalf("resp = %+v, want error/9", resp)
	}
	if string(resp.Payload) != "unsupported" {
		t.Fatalf("error code = %q, want \"unsupported\"", resp.Payload)
	}
}

func TestTransport_GetInterruptStatusUnknownDescriptor(t *testing.T) {
	_, ln := newTestServer(t)
	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	fd := make([]byte, 4)
	binary.BigEndian.PutUint32(fd, 42)
	if err := writeFrame(conn, Frame{Tag: byte(KindGetInterruptStatus), ReqID: 5, Payload: fd}); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	resp, err := readFrame(conn)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if Status(resp.Tag) != StatusError {
		t.Fatalf("status = %v, want error", resp.Tag)
	}
	if string(resp.Payload) != "unknown-descriptor" {
		t.Fatalf("error code = %q, want \"unknown-descriptor\"", resp.Payload)
	}
}
