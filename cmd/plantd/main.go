// plantd runs the plant node: the simulated ball-and-plate rig together
// with the sampling and regulation core that keeps the ball at its
// setpoint. The node answers protocol requests from the PC side for
// tuning, tracing and pinging.
//
// Usage:
//
//	plantd -config plant.yaml [options]
//
// Options:
//
//	-config string   Node configuration file (required)
//	-ball-x float    Initial ball position X in mm (default 0)
//	-ball-y float    Initial ball position Y in mm (default 0)
//	-noise float     Touchscreen measurement noise in mm (default 0.5)
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/arena"
	"ballplate-go/pkg/config"
	"ballplate-go/pkg/control"
	"ballplate-go/pkg/event"
	"ballplate-go/pkg/link"
	"ballplate-go/pkg/log"
	"ballplate-go/pkg/sim"
	"ballplate-go/pkg/stats"
)

func main() {
	configFile := flag.String("config", "", "Node configuration file (required)")
	ballX := flag.Float64("ball-x", 0, "Initial ball position X in mm")
	ballY := flag.Float64("ball-y", 0, "Initial ball position Y in mm")
	noise := flag.Float64("noise", 0.5, "Touchscreen measurement noise in mm")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fatal("%v", err)
	}

	logger := log.New("plantd")
	logger.SetLevel(log.ParseLevel(cfg.Node.LogLevel))

	table := stats.New()
	logger.SetTruncationHook(table.TruncationHook)
	if cfg.Node.StatsInterval > 0 {
		table.StartReporter(logger, time.Duration(cfg.Node.StatsInterval*float64(time.Second)))
	}

	a := arena.New(cfg.Node.ArenaCapacity)
	a.OnAllocFailure(table.AllocFailureHook)

	// Deferred releases from the link-receive context travel through the
	// event queue back to the dispatcher goroutine.
	dispatcher := event.New(cfg.Network.EventQueueLen, logger.Component("event"), table)
	a.SetDeferredRelease(func(b *arena.Buffer) { dispatcher.DeferRelease(b) })
	if err := dispatcher.RegisterHandler(event.KindDeferredFree, func(e event.Event) {
		a.Release(e.Payload.(*arena.Buffer))
	}); err != nil {
		fatal("register deferred free handler: %v", err)
	}

	udp, err := link.NewUDP(cfg.Network.Listen)
	if err != nil {
		fatal("link: %v", err)
	}

	transport, err := acp.New(acp.Config{
		Link:         udp,
		Arena:        a,
		Logger:       logger.Component("acp"),
		AddressTable: cfg.AddressTable(),
		RxQueueLen:   cfg.Network.RxQueueLen,
		TxQueueLen:   cfg.Network.TxQueueLen,
	})
	if err != nil {
		fatal("transport: %v", err)
	}
	if transport.OwnID() != acp.NodePlant {
		fatal("listen address %s belongs to node %s, plantd must be bound to the plant address",
			cfg.Network.Listen, transport.OwnID())
	}
	transport.OnTxDrop(func(acp.NodeID, acp.TxDropReason) { table.TxMessagesDropped.Add(1) })
	transport.OnRxDrop(func(acp.NodeID, acp.RxDropReason) { table.RxMessagesDropped.Add(1) })

	plate := sim.NewPlate(sim.Config{
		NoiseMm: *noise,
		Seed:    time.Now().UnixNano(),
	})
	plate.PlaceBall(*ballX, *ballY)

	core, err := control.New(control.Config{
		Logger:              logger.Component("control"),
		Stats:               table,
		Transport:           transport,
		Dispatcher:          dispatcher,
		Screen:              plate,
		ActuatorX:           plate.ActuatorX(),
		ActuatorY:           plate.ActuatorY(),
		TraceReceiver:       acp.NodePC,
		SamplingPeriod:      cfg.Control.SamplingPeriod,
		FilterOrder:         cfg.Control.FilterOrder,
		ProportionalGain:    cfg.Control.ProportionalGain,
		IntegralGain:        cfg.Control.IntegralGain,
		DerivativeGain:      cfg.Control.DerivativeGain,
		SaturationThreshold: cfg.Control.SaturationThreshold,
		SetpointXMm:         cfg.Control.SetpointXMm,
		SetpointYMm:         cfg.Control.SetpointYMm,
		NoTouchTolerance:    cfg.Control.NoTouchTolerance,
		TraceEnabled:        cfg.Control.TraceEnabled,
	})
	if err != nil {
		fatal("control: %v", err)
	}

	listener := control.StartListener(transport, dispatcher, logger)
	dispatcher.Start()
	core.Start()
	logger.Info("plant node up at %s", cfg.Network.Listen)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logger.Info("caught %s, shutting down", sig)

	core.Stop()
	transport.Close()
	listener.Wait()
	dispatcher.Stop()
	table.Stop()

	snap := table.Snapshot()
	logger.Info("final counters: dispatched %d, rx dropped %d, tx dropped %d, false starts %d",
		snap.EventsDispatched, snap.RxMessagesDropped, snap.TxMessagesDropped, snap.TimerFalseStarts)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "plantd: "+format+"\n", args...)
	os.Exit(1)
}
