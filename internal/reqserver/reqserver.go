// Package reqserver implements the request service described in the
// external interfaces: typed procedures dispatched from a bounded worker
// pool, each of which (aside from get_status and the pure interrupt-map
// reads) is translated into a plain tagged Record and handed to the
// simulation pump over a thread-safe FIFO, then blocks on a one-shot
// completion signal.
//
// A coroutine-closure FIFO (capturing a continuation on one goroutine and
// resuming it on another) would assume a safety guarantee Go's runtime
// does not make between arbitrary goroutines, so the thread boundary is
// crossed with a plain data record instead — the pump on the simulator
// side is the only thing that turns a Record into actual bus activity.
package reqserver

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/esa-tu-darmstadt/tapasco/internal/irqwatch"
	"github.com/esa-tu-darmstadt/tapasco/internal/queue"
	"github.com/esa-tu-darmstadt/tapasco/internal/statuscache"
)

// Kind tags the request variant a Record carries.
type Kind int

const (
	KindWriteMemory Kind = iota
	KindReadMemory
	KindReadPlatform
	KindWritePlatform
	KindRegisterInterrupt
)

// Record is the plain tagged request record pushed onto the FIFO the pump
// drains. Only the fields relevant to Kind are populated by the caller;
// Result is filled in by the pump's executor before Done is closed.
type Record struct {
	Kind Kind

	Addr     uint64
	Length   int       // read_memory / read_platform
	Data     []byte    // write_memory
	U32      []uint32  // write_platform (32-bit variant); read_platform's words go to Result.U32
	U64      []uint64  // write_platform (64-bit variant)
	WidePlat bool      // write_platform carries U64 instead of U32

	FD   uint32 // register_interrupt
	PEID int    // register_interrupt

	Result Result
	Done   chan struct{}
}

// Result is the outcome the pump's executor attaches to a Record.
type Result struct {
	Err  error
	Data []byte
	U32  []uint32
}

func newRecord(kind Kind) *Record {
	return &Record{Kind: kind, Done: make(chan struct{})}
}

func (r *Record) await(ctx context.Context) (Result, error) {
	select {
	case <-r.Done:
		return r.Result, r.Result.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Server is the request-service façade consumed by the transport layer.
// The FIFO is shared with the simulation pump; Server only ever appends to
// its producer side, per the concurrency model's ownership split.
type Server struct {
	fifo   *queue.Queue[*Record]
	irq    *irqwatch.Manager
	status *statuscache.Cache
	sem    *semaphore.Weighted
}

// New constructs a Server. workers bounds how many requests this server
// processes concurrently (the data model recommends at least 10); fifo,
// irq, and status are shared with the pump that was (or will be)
// constructed alongside it.
func New(fifo *queue.Queue[*Record], irq *irqwatch.Manager, status *statuscache.Cache, workers int) *Server {
	if workers <= 0 {
		workers = 10
	}
	return &Server{fifo: fifo, irq: irq, status: status, sem: semaphore.NewWeighted(int64(workers))}
}

// Acquire bounds concurrent in-flight requests to the configured worker
// count; callers (the transport layer) hold the returned release until
// the request completes.
func (s *Server) Acquire(ctx context.Context) (release func(), err error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.sem.Release(1) }, nil
}

func (s *Server) submit(ctx context.Context, rec *Record) (Result, error) {
	if err := s.fifo.Put(ctx, rec); err != nil {
		return Result{}, err
	}
	return rec.await(ctx)
}

// WriteMemory implements write_memory.
func (s *Server) WriteMemory(ctx context.Context, addr uint64, data []byte) error {
	rec := newRecord(KindWriteMemory)
	rec.Addr, rec.Data = addr, data
	_, err := s.submit(ctx, rec)
	return err
}

// ReadMemory implements read_memory.
func (s *Server) ReadMemory(ctx context.Context, addr uint64, length int) ([]byte, error) {
	rec := newRecord(KindReadMemory)
	rec.Addr, rec.Length = addr, length
	res, err := s.submit(ctx, rec)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// ReadPlatform implements read_platform: numBytes rounded up to whole
// 32-bit words.
func (s *Server) ReadPlatform(ctx context.Context, addr uint64, numBytes int) ([]uint32, error) {
	rec := newRecord(KindReadPlatform)
	rec.Addr, rec.Length = addr, numBytes
	res, err := s.submit(ctx, rec)
	if err != nil {
		return nil, err
	}
	return res.U32, nil
}

// WritePlatform32 implements write_platform's 32-bit-word variant.
func (s *Server) WritePlatform32(ctx context.Context, addr uint64, words []uint32) error {
	rec := newRecord(KindWritePlatform)
	rec.Addr, rec.U32 = addr, words
	_, err := s.submit(ctx, rec)
	return err
}

// WritePlatform64 implements write_platform's 64-bit-word variant; each
// u64 is split into two little-endian 32-bit beats on the bus.
func (s *Server) WritePlatform64(ctx context.Context, addr uint64, words []uint64) error {
	rec := newRecord(KindWritePlatform)
	rec.Addr, rec.U64, rec.WidePlat = addr, words, true
	_, err := s.submit(ctx, rec)
	return err
}

// RegisterInterrupt implements register_interrupt. Creating the watcher
// requires resolving the PE's signal handle, which only the simulator
// domain (the pump) may touch, so this still crosses the FIFO even though
// the interrupt map itself is server-domain state.
func (s *Server) RegisterInterrupt(ctx context.Context, fd uint32, peID int) error {
	rec := newRecord(KindRegisterInterrupt)
	rec.FD, rec.PEID = fd, peID
	_, err := s.submit(ctx, rec)
	return err
}

// DeregisterInterrupt implements deregister_interrupt directly against the
// server-owned interrupt map; unknown descriptors are silently ignored.
func (s *Server) DeregisterInterrupt(fd uint32) {
	s.irq.Deregister(fd)
}

// GetInterruptStatus implements get_interrupt_status directly against the
// server-owned interrupt map.
func (s *Server) GetInterruptStatus(fd uint32) (uint64, error) {
	count, err := s.irq.Status(fd)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetStatus implements get_status: it never touches the FIFO, only the
// status cache's one-shot completion signal.
func (s *Server) GetStatus(ctx context.Context) ([]byte, error) {
	payload, err := s.status.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
