// Command tapasco-sim-server is the launcher: it parses the command-line
// contract, brings up a host reference kernel standing in for a real
// simulator binding, wires the pump, the request server, and the
// transport listener together, and runs until interrupted.
//
// Follows a bootstrap sequence of build the event bus first, start
// services against it, wait for readiness, then block on
// completion/cancellation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/esa-tu-darmstadt/tapasco/internal/axitypes"
	"github.com/esa-tu-darmstadt/tapasco/internal/config"
	"github.com/esa-tu-darmstadt/tapasco/internal/evbus"
	"github.com/esa-tu-darmstadt/tapasco/internal/heartbeat"
	"github.com/esa-tu-darmstadt/tapasco/internal/pump"
	"github.com/esa-tu-darmstadt/tapasco/internal/queue"
	"github.com/esa-tu-darmstadt/tapasco/internal/reqserver"
	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel"
	"github.com/esa-tu-darmstadt/tapasco/internal/simkernel/hostkernel"
	"github.com/esa-tu-darmstadt/tapasco/internal/transport"
)

// busWidthBytes is the data bus width the host reference signal set is
// registered at: 32 bits, matching the narrow-transfer and strobe-width
// assumptions exercised throughout the bus-functional model tests.
const busWidthBytes = 4

func main() {
	cfg, err := config.Parse(os.Args[1:], os.Getenv("TAPASCO_SIM_TUNING"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "tapasco-sim-server:", err)
		os.Exit(2)
	}

	log := newLogger(cfg.Verbosity)
	log.Info().
		Str("input_archive", cfg.InputArchive).
		Bool("gui", cfg.GUI).
		Strs("sim_args", cfg.ExtraSimArgs).
		Int("workers", cfg.Workers).
		Msg("starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("exited")
	}
}

// run wires the kernel, pump, request server, and transport listener and
// blocks until ctx is cancelled or any of them fails.
func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	k := hostkernel.New()
	resolve, locked := registerDesignSignals(k)
	go driveHostTime(ctx, k)

	events := evbus.New(cfg.QueueCapacity)
	fifo := queue.New[*reqserver.Record](cfg.QueueCapacity)

	p, err := pump.New(pump.Config{
		Kernel:     k,
		Resolve:    resolve,
		BusWidth:   busWidthBytes,
		MemorySize: cfg.MemorySize,
		Events:     events,
		Logger:     log.With().Str("component", "pump").Logger(),
	}, fifo)
	if err != nil {
		return fmt.Errorf("tapasco-sim-server: wiring pump: %w", err)
	}

	req := reqserver.New(fifo, p.Irq, p.Status, cfg.Workers)
	srv := transport.New(fmt.Sprintf(":%d", cfg.Port), req, events, log.With().Str("component", "transport").Logger())

	heartbeat.New(events).Start(ctx, 5*time.Second)

	ln, err := srv.Listen(ctx)
	if err != nil {
		return fmt.Errorf("tapasco-sim-server: listen: %w", err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	// Once locked is asserted the simulator is considered ready; Run starts
	// its reset sequence as soon as it sees locked high. The host kernel has
	// no clock/power-on sequencing of its own, so the launcher asserts it
	// immediately after registration, before Run starts.
	locked.Set(1)

	errc := make(chan error, 2)
	go func() { errc <- p.Run(ctx) }()
	go func() { errc <- srv.Serve(ctx, ln) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

// registerDesignSignals creates the full clock/reset/locked plus split
// S_AXI_/M_AXI_ signal set on the host kernel, the way a real simulator
// binding would expose a bound design instance's ports. Returns the
// resolve callback pump.New expects and the locked signal the launcher
// drives once setup is complete.
func registerDesignSignals(k *hostkernel.Kernel) (func(string) (simkernel.SignalHandle, bool), *hostkernel.Signal) {
	k.Register(axitypes.SigClock)
	reset := k.Register(axitypes.SigReset)
	reset.Set(0)
	locked := k.Register(axitypes.SigLocked)

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

	// Processing element interrupt lines are registered lazily: the returned
	// resolver Registers an ext_intr_PE_<id>_0 name on its first lookup, so
	// register_interrupt resolves it on demand and there is no fixed PE
	// count to enumerate here.
	resolve := func(name string) (simkernel.SignalHandle, bool) {
		if strings.HasPrefix(name, "ext_intr_PE_") {
			return k.Register(name), true
		}
		return k.Resolve(name)
	}
	return resolve, locked
}

// driveHostTime advances the host kernel's virtual clock continuously
// until ctx is cancelled. Unlike a real simulator engine, whose Delay
// implicitly advances alongside its own event-driven schedule, the host
// kernel's Delay only returns once something calls AdvanceBy; the pump's
// own clock generator toggles the clock signal but never advances virtual
// time itself, so this loop supplies the missing drive.
func driveHostTime(ctx context.Context, k *hostkernel.Kernel) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		k.AdvanceBy(pump.ClockPeriod / 2)
	}
}

func newLogger(verbosity string) zerolog.Logger {
	level, err := zerolog.ParseLevel(verbosity)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}
