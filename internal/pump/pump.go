// Package pump implements the simulation entry point: clock generation,
// reset sequencing, the one-shot status prefetch, and the FIFO-draining
// loop that turns queued request records into real bus activity. It is the
// only thing in the simulator domain that ever dequeues from the request
// FIFO, matching the bridge contract in the concurrency model.
//
// Structured as a cooperative select loop: a single goroutine re-arming a
// poll timer each iteration and servicing whatever is due, adapted here to
// a fixed polling cadence rather than per-item due times, since the FIFO
// has no individual item deadlines.
package pump

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/esa-tu-darmstadt/tapasco/errcode"
	"github.com/esa-tu-darmstadt/tapasco/internal/axitypes"
	"github.com/esa-tu-darmstadt/tapasco/internal/bfm"
	"github.com/esa-tu-darmstadt/tapasco/internal/bfm/master"
	"github.com/esa-tu-darmstadt/tapasco/internal/bfm/slave"
	"github.com/esa-tu-darmstadt/tapasco/internal/evbus"
	"github.com/esa-tu-darmstadt/tapasco/internal/irqwatch"
	"github.com/esa-tu-darmstadt/tapasco/internal/mathx"
	"github.com/esa-tu-darmstadt/tapasco/internal/queue"
	"github.com/esa-tu-darmstadt/tapasco/internal/reqserver"
	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel"
	"github.com/esa-tu-darmstadt/tapasco/internal/statuscache"
)

// Timing constants carried verbatim from the original launcher's literals.
const (
	ClockPeriod      = 10 * time.Nanosecond
	ResetLowPeriods  = 12
	PostResetPeriods = 120
	StatusBase       = 0x10000000
	StatusSize       = 1 << 13 // 8 KiB
	StatusBeatsPerBurst = 256
	StatusBytesPerBeat  = 4
	DefaultPollPeriod  = 400 * time.Nanosecond
)

// Pump owns every simulator-domain resource: signal handles (via the
// binding), the two bus-functional models, the interrupt registry, the
// status cache, and the request FIFO's consumer side.
type Pump struct {
	k       simkernel.Kernel
	binding *simkernel.Binding
	resolve func(name string) (simkernel.SignalHandle, bool)
	clk, resetN, locked simkernel.SignalHandle

	Master *master.Master
	Slave  *slave.Slave
	Status *statuscache.Cache
	Irq    *irqwatch.Manager

	fifo       *queue.Queue[*reqserver.Record]
	pollPeriod time.Duration

	events *evbus.Connection
	log    zerolog.Logger
}

// Config bundles the construction-time parameters that vary between the
// host reference kernel and a real simulator binding.
type Config struct {
	Kernel     simkernel.Kernel
	Resolve    func(name string) (simkernel.SignalHandle, bool)
	BusWidth   int
	MemorySize int
	PollPeriod time.Duration // 0 uses DefaultPollPeriod
	Events     *evbus.Bus
	Logger     zerolog.Logger
}

// New binds every required signal (clock, reset, locked, both bus ports)
// and constructs the master/slave BFMs, the interrupt manager, and the
// status cache. It does not yet drive the clock or reset sequence; call
// Run for that.
func New(cfg Config, fifo *queue.Queue[*reqserver.Record]) (*Pump, error) {
	names := []string{axitypes.SigClock, axitypes.SigReset, axitypes.SigLocked}
	b := simkernel.NewBinding(cfg.Kernel, cfg.Resolve, names)

	sPort, err := bfm.BindPort(cfg.Resolve, "S_AXI_")
	if err != nil {
		return nil, err
	}
	mPort, err := bfm.BindPort(cfg.Resolve, "M_AXI_")
	if err != nil {
		return nil, err
	}

	clk := b.Must(axitypes.SigClock)
	resetN := b.Must(axitypes.SigReset)
	locked := b.Must(axitypes.SigLocked)

	pollPeriod := cfg.PollPeriod
	if pollPeriod <= 0 {
		pollPeriod = DefaultPollPeriod
	}
	events := cfg.Events
	if events == nil {
		events = evbus.New(0)
	}

	p := &Pump{
		k: cfg.Kernel, binding: b, resolve: cfg.Resolve,
		clk: clk, resetN: resetN, locked: locked,
		Master:     master.New(cfg.Kernel, clk, resetN, sPort, cfg.BusWidth),
		Slave:      slave.New(cfg.Kernel, clk, resetN, mPort, cfg.BusWidth, cfg.MemorySize),
		Status:     statuscache.New(),
		Irq:        irqwatch.NewManager(),
		fifo:       fifo,
		pollPeriod: pollPeriod,
		events:     events.NewConnection(),
		log:        cfg.Logger,
	}
	return p, nil
}

// Run drives the clock, performs the reset sequence, launches the status
// prefetch, and then loops forever draining the request FIFO on
// pollPeriod cadence. It returns only on ctx cancellation. A status-parse
// failure is logged at fatal level, which exits the process.
func (p *Pump) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p.runClock(gctx)
		return nil
	})

	if p.locked.Value() == 0 {
		if err := p.k.RisingEdge(gctx, p.locked); err != nil {
			return err
		}
	}

	p.resetN.Set(0)
	p.events.Publish(evbus.TopicResetAsserted, nil, true)
	if err := p.k.Delay(gctx, ClockPeriod*ResetLowPeriods); err != nil {
		return err
	}
	p.resetN.Set(1)
	p.events.Publish(evbus.TopicResetDeasserted, nil, true)
	if err := p.k.Delay(gctx, ClockPeriod*PostResetPeriods); err != nil {
		return err
	}

	g.Go(func() error {
		if err := p.prefetchStatus(gctx); err != nil {
			p.log.Fatal().Err(err).Msg("status prefetch failed")
			return err
		}
		return nil
	})

	fmt.Println("[tapasco-message] simulation-started")
	p.events.Publish(evbus.TopicSimulationStarted, nil, true)

	g.Go(func() error {
		for {
			if err := p.k.Delay(gctx, p.pollPeriod); err != nil {
				return err
			}
			p.drainOnce(gctx)
		}
	})

	return g.Wait()
}

func (p *Pump) runClock(ctx context.Context) {
	half := ClockPeriod / 2
	high := uint64(0)
	for {
		if err := p.k.Delay(ctx, half); err != nil {
			return
		}
		high ^= 1
		p.clk.Set(high)
	}
}

// drainOnce pops every record currently queued and spawns each as its own
// goroutine, matching "spawning each queued coroutine as a child task"; a
// wrapper awaits completion and fills in Result before closing Done. Bus
// traffic and the owned slave memory are still safe to touch concurrently
// this way: the bus-functional models serialize their own channel state
// per transaction, and slave.Slave guards its backing memory with its own
// mutex rather than relying on ReadOnlyPhase (a real simulator's
// once-per-timestep settle point, not a mutual-exclusion primitive) for
// serialization.
func (p *Pump) drainOnce(ctx context.Context) {
	for {
		rec, ok := p.fifo.TryGet()
		if !ok {
			return
		}
		go p.execute(ctx, rec)
	}
}

func (p *Pump) execute(ctx context.Context, rec *reqserver.Record) {
	defer close(rec.Done)
	switch rec.Kind {
	case reqserver.KindWriteMemory:
		if err := p.k.ReadOnlyPhase(ctx); err != nil {
			rec.Result.Err = err
			return
		}
		if !p.Slave.WriteDirect(rec.Addr, rec.Data) {
			rec.Result.Err = &errcode.E{C: errcode.AddressOutOfRange, Msg: "write_memory address out of range"}
		}
	case reqserver.KindReadMemory:
		if err := p.k.ReadOnlyPhase(ctx); err != nil {
			rec.Result.Err = err
			return
		}
		data, ok := p.Slave.ReadDirect(rec.Addr, rec.Length)
		if !ok {
			rec.Result.Err = &errcode.E{C: errcode.AddressOutOfRange, Msg: "read_memory address out of range"}
			return
		}
		rec.Result.Data = data
	case reqserver.KindReadPlatform:
		words, err := p.readPlatform(ctx, rec.Addr, rec.Length)
		rec.Result.Err = err
		rec.Result.U32 = words
	case reqserver.KindWritePlatform:
		rec.Result.Err = p.writePlatform(ctx, rec)
	case reqserver.KindRegisterInterrupt:
		line, ok := p.resolve(axitypes.InterruptLine(rec.PEID))
		if !ok {
			rec.Result.Err = &errcode.E{C: errcode.UnknownDescriptor, Msg: "unknown processing element interrupt line"}
			return
		}
		p.Irq.Register(rec.FD, p.k, line)
		p.events.Publish(evbus.TopicInterruptRegistered(rec.FD), nil, false)
	}
}

// readPlatform issues read bursts of up to 256 beats of 4 bytes each
// against addr until numBytes (rounded up to whole words) is satisfied.
func (p *Pump) readPlatform(ctx context.Context, addr uint64, numBytes int) ([]uint32, error) {
	wantWords := mathx.CeilDiv(uint(numBytes), uint(StatusBytesPerBeat))
	out := make([]uint32, 0, wantWords)
	cur := addr
	remaining := int(wantWords)
	for remaining > 0 {
		beats := remaining
		if beats > StatusBeatsPerBurst {
			beats = StatusBeatsPerBurst
		}
		resp, err := p.Master.Read(ctx, master.ReadReq{
			Addr: cur, BeatCount: beats, BytesPerBeat: StatusBytesPerBeat,
			Burst: axitypes.BurstIncr,
		})
		if err != nil {
			return nil, err
		}
		if resp.Resp != axitypes.RespOkay {
			return nil, &errcode.E{C: errcode.Error, Msg: "read_platform: " + resp.Resp.String()}
		}
		for _, beat := range resp.Beats {
			out = append(out, binary.LittleEndian.Uint32(beat))
		}
		cur += uint64(beats * StatusBytesPerBeat)
		remaining -= beats
	}
	return out[:wantWords], nil
}

// writePlatform partitions rec's words into write bursts of up to 256
// beats. A u64 list is split into two little-endian 32-bit beats per word,
// per the original single-32-vs-2x32 handling.
func (p *Pump) writePlatform(ctx context.Context, rec *reqserver.Record) error {
	var words []uint32
	if rec.WidePlat {
		words = make([]uint32, 0, len(rec.U64)*2)
		for _, v := range rec.U64 {
			words = append(words, uint32(v), uint32(v>>32))
		}
	} else {
		words = rec.U32
	}

	cur := rec.Addr
	for offset := 0; offset < len(words); {
		n := len(words) - offset
		if n > StatusBeatsPerBurst {
			n = StatusBeatsPerBurst
		}
		beats := make([][]byte, n)
		for i := 0; i < n; i++ {
			b := make([]byte, StatusBytesPerBeat)
			binary.LittleEndian.PutUint32(b, words[offset+i])
			beats[i] = b
		}
		resp, err := p.Master.Write(ctx, master.WriteReq{Addr: cur, Data: beats, Burst: axitypes.BurstIncr})
		if err != nil {
			return err
		}
		if resp.Resp != axitypes.RespOkay {
			return &errcode.E{C: errcode.Error, Msg: "write_platform: " + resp.Resp.String()}
		}
		cur += uint64(n * StatusBytesPerBeat)
		offset += n
	}
	return nil
}

// prefetchStatus reads StatusSize bytes from StatusBase, decodes the
// varint length prefix, and populates the status cache.
func (p *Pump) prefetchStatus(ctx context.Context) error {
	raw := make([]byte, 0, StatusSize)
	cur := uint64(StatusBase)
	remainingBytes := StatusSize
	for remainingBytes > 0 {
		beats := remainingBytes / StatusBytesPerBeat
		if beats > StatusBeatsPerBurst {
			beats = StatusBeatsPerBurst
		}
		resp, err := p.Master.Read(ctx, master.ReadReq{
			Addr: cur, BeatCount: beats, BytesPerBeat: StatusBytesPerBeat,
			Burst: axitypes.BurstIncr,
		})
		if err != nil {
			return err
		}
		for _, beat := range resp.Beats {
			raw = append(raw, beat...)
		}
		n := beats * StatusBytesPerBeat
		cur += uint64(n)
		remainingBytes -= n
	}
	if err := p.Status.Set(raw); err != nil {
		return err
	}
	p.events.Publish(evbus.TopicStatusReady, nil, true)
	return nil
}
