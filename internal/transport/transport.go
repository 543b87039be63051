// Package transport is the remote client-facing wire boundary: a TCP
// listener that frames incoming requests, dispatches each to the request
// server under its worker-pool bound, and writes back a status/reason
// response. Uses a length-prefixed framing shape (widened to carry a
// request ID and 32-bit length, since requests can legitimately carry
// megabyte-scale read_platform/read_memory payloads), a
// backoff-on-transient-failure helper for listener accept retries, and
// state published as retained evbus messages reporting link health.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/esa-tu-darmstadt/tapasco/errcode"
	"github.com/esa-tu-darmstadt/tapasco/internal/evbus"
	"github.com/esa-tu-darmstadt/tapasco/internal/reqserver"
)

// Kind tags a request frame's procedure. Numeric values are part of the
// wire contract and must not be renumbered.
type Kind byte

const (
	KindWriteMemory Kind = iota
	KindReadMemory
	KindReadPlatform
	KindWritePlatform32
	KindWritePlatform64
	KindRegisterInterrupt
	KindDeregisterInterrupt
	KindGetStatus
	KindGetInterruptStatus
)

// Status is the response's outcome marker.
type Status byte

const (
	StatusOK    Status = 0
	StatusError Status = 1
)

// Frame is one length-prefixed wire unit: a 1-byte leading tag (Kind for a
// request, Status for a response), a 4-byte big-endian request ID used to
// match responses to requests on a single connection, and a 4-byte
// big-endian payload length.
type Frame struct {
	Tag     byte
	ReqID   uint32
	Payload []byte
}

func readFrame(r io.Reader) (Frame, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[5:9])
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Tag: hdr[0], ReqID: binary.BigEndian.Uint32(hdr[1:5]), Payload: buf}, nil
}

func writeFrame(w io.Writer, f Frame) error {
	var hdr [9]byte
	hdr[0] = f.Tag
	binary.BigEndian.PutUint32(hdr[1:5], f.ReqID)
	binary.BigEndian.PutUint32(hdr[5:9], uint32(len(f.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		_, err := w.Write(f.Payload)
		return err
	}
	return nil
}

// Server accepts connections and dispatches framed requests to a
// reqserver.Server.
type Server struct {
	addr string
	req  *reqserver.Server
	evts *evbus.Connection
	log  zerolog.Logger
}

// New returns a Server listening on addr (host:port) once Run is called.
func New(addr string, req *reqserver.Server, events *evbus.Bus, log zerolog.Logger) *Server {
	if events == nil {
		events = evbus.New(0)
	}
	return &Server{addr: addr, req: req, evts: events.NewConnection(), log: log}
}

// Listen opens the server's listening socket without yet accepting
// connections, so callers (tests, or a launcher reporting its bound
// ephemeral port) can inspect the resolved address first.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	return ln, nil
}

// Run opens a listener on s.addr and serves it until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	defer ln.Close()
	return s.Serve(ctx, ln)
}

// Serve accepts connections off ln until ctx is cancelled, retrying
// transient Accept failures with a doubling backoff.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.publishState("up", "listening")
	backoff := backoffSeq(50*time.Millisecond, 2*time.Second)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := backoff()
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	send := func(f Frame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = writeFrame(conn, f)
	}

	var wg sync.WaitGroup
	for {
		f, err := readFrame(conn)
		if err != nil {
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(f Frame) {
			defer wg.Done()
			s.dispatch(connCtx, f, send)
		}(f)
	}
}

func (s *Server) dispatch(ctx context.Context, f Frame, send func(Frame)) {
	release, err := s.req.Acquire(ctx)
	if err != nil {
		return
	}
	defer release()

	resp, err := s.execute(ctx, Kind(f.Tag), f.Payload)
	if err != nil {
		send(Frame{Tag: byte(StatusError), ReqID: f.ReqID, Payload: []byte(errcode.Of(err))})
		return
	}
	send(Frame{Tag: byte(StatusOK), ReqID: f.ReqID, Payload: resp})
}

func (s *Server) execute(ctx context.Context, kind Kind, payload []byte) ([]byte, error) {
	switch kind {
	case KindWriteMemory:
		if len(payload) < 8 {
			return nil, &errcode.E{C: errcode.InvalidPayload, Msg: "write_memory: short payload"}
		}
		addr := binary.BigEndian.Uint64(payload[:8])
		return nil, s.req.WriteMemory(ctx, addr, payload[8:])

	case KindReadMemory:
		if len(payload) != 12 {
			return nil, &errcode.E{C: errcode.InvalidPayload, Msg: "read_memory: want 12-byte payload"}
		}
		addr := binary.BigEndian.Uint64(payload[:8])
		length := binary.BigEndian.Uint32(payload[8:12])
		return s.req.ReadMemory(ctx, addr, int(length))

	case KindReadPlatform:
		if len(payload) != 12 {
			return nil, &errcode.E{C: errcode.InvalidPayload, Msg: "read_platform: want 12-byte payload"}
		}
		addr := binary.BigEndian.Uint64(payload[:8])
		numBytes := binary.BigEndian.Uint32(payload[8:12])
		words, err := s.req.ReadPlatform(ctx, addr, int(numBytes))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(words)*4)
		for i, w := range words {
			binary.BigEndian.PutUint32(out[i*4:], w)
		}
		return out, nil

	case KindWritePlatform32:
		if len(payload) < 8 || (len(payload)-8)%4 != 0 {
			return nil, &errcode.E{C: errcode.InvalidPayload, Msg: "write_platform: malformed 32-bit word list"}
		}
		addr := binary.BigEndian.Uint64(payload[:8])
		words := make([]uint32, (len(payload)-8)/4)
		for i := range words {
			words[i] = binary.BigEndian.Uint32(payload[8+i*4:])
		}
		return nil, s.req.WritePlatform32(ctx, addr, words)

	case KindWritePlatform64:
		if len(payload) < 8 || (len(payload)-8)%8 != 0 {
			return nil, &errcode.E{C: errcode.InvalidPayload, Msg: "write_platform: malformed 64-bit word list"}
		}
		addr := binary.BigEndian.Uint64(payload[:8])
		words := make([]uint64, (len(payload)-8)/8)
		for i := range words {
			words[i] = binary.BigEndian.Uint64(payload[8+i*8:])
		}
		return nil, s.req.WritePlatform64(ctx, addr, words)

	case KindRegisterInterrupt:
		if len(payload) != 8 {
			return nil, &errcode.E{C: errcode.InvalidPayload, Msg: "register_interrupt: want 8-byte payload"}
		}
		fd := binary.BigEndian.Uint32(payload[:4])
		peID := binary.BigEndian.Uint32(payload[4:8])
		return nil, s.req.RegisterInterrupt(ctx, fd, int(peID))

	case KindDeregisterInterrupt:
		if len(payload) != 4 {
			return nil, &errcode.E{C: errcode.InvalidPayload, Msg: "deregister_interrupt: want 4-byte payload"}
		}
		s.req.DeregisterInterrupt(binary.BigEndian.Uint32(payload))
		return nil, nil

	case KindGetStatus:
		return s.req.GetStatus(ctx)

	case KindGetInterruptStatus:
		if len(payload) != 4 {
			return nil, &errcode.E{C: errcode.InvalidPayload, Msg: "get_interrupt_status: want 4-byte payload"}
		}
		count, err := s.req.GetInterruptStatus(binary.BigEndian.Uint32(payload))
		if err != nil {
			return nil, err
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, count)
		return out, nil

	default:
		return nil, &errcode.E{C: errcode.Unsupported, Msg: "unknown request kind"}
	}
}

func (s *Server) publishState(level, status string) {
	s.evts.Publish(evbus.Topic{"transport", "state"}, map[string]any{"level": level, "status": status}, true)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
