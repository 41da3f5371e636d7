// controllerd runs the handheld controller node: a touch panel polled
// on a timer, forwarding the touched position to the plant as setpoint
// requests. Without hardware the panel is simulated as an operator
// holding a steady touch at a fixed position.
//
// Usage:
//
//	controllerd -config controller.yaml [options]
//
// Options:
//
//	-config string    Node configuration file (required)
//	-touch-x float    Held touch position X in mm (default 0)
//	-touch-y float    Held touch position Y in mm (default 0)
//	-noise float      Panel measurement noise in mm (default 0.5)
//	-period float     Panel polling period in seconds (default 0.01)
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
	"ballplate-go/pkg/controller"
	"ballplate-go/pkg/link"
	"ballplate-go/pkg/log"
	"ballplate-go/pkg/sim"
	"ballplate-go/pkg/stats"
)

func main() {
	configFile := flag.String("config", "", "Node configuration file (required)")
	touchX := flag.Float64("touch-x", 0, "Held touch position X in mm")
	touchY := flag.Float64("touch-y", 0, "Held touch position Y in mm")
	noise := flag.Float64("noise", 0.5, "Panel measurement noise in mm")
	period := flag.Float64("period", controller.DefaultSamplingPeriod, "Panel polling period in seconds")
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

	logger := log.New("controllerd")
	logger.SetLevel(log.ParseLevel(cfg.Node.LogLevel))

	table := stats.New()
	logger.SetTruncationHook(table.TruncationHook)
	if cfg.Node.StatsInterval > 0 {
		table.StartReporter(logger, time.Duration(cfg.Node.StatsInterval*float64(time.Second)))
	}

	// The controller has no event dispatcher; deferred releases from the
	// link-receive context go straight back to the arena.
	a := arena.New(cfg.Node.ArenaCapacity)
	a.OnAllocFailure(table.AllocFailureHook)
	a.SetDeferredRelease(func(b *arena.Buffer) { a.Release(b) })

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
	transport.OnTxDrop(func(acp.NodeID, acp.TxDropReason) { table.TxMessagesDropped.Add(1) })
	transport.OnRxDrop(func(acp.NodeID, acp.RxDropReason) { table.RxMessagesDropped.Add(1) })

	// The simulated panel is a level plate with the ball parked where
	// the operator's finger would be.
	panel := sim.NewPlate(sim.Config{
		NoiseMm: *noise,
		Seed:    time.Now().UnixNano(),
	})
	panel.PlaceBall(*touchX, *touchY)

	ctl, err := controller.New(controller.Config{
		Logger:         logger,
		Transport:      transport,
		Panel:          panel,
		SamplingPeriod: *period,
	})
	if err != nil {
		fatal("%v", err)
	}
	ctl.Start()

	// From here on local log lines reach the PC as protocol messages.
	logger.SetCommitCallback(ctl.LogSink())
	logger.Info("controller node up at %s, holding touch at (%g, %g)", cfg.Network.Listen, *touchX, *touchY)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logger.SetCommitCallback(nil)
	logger.Info("caught %s, shutting down", sig)

	ctl.Stop()
	transport.Close()
	ctl.Wait()
	table.Stop()
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "controllerd: "+format+"\n", args...)
	os.Exit(1)
}
