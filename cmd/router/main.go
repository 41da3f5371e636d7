// router runs the PC-side bridge node. It impersonates the PC on the
// wireless network and pumps frames between the network and a serial
// port, so an operator terminal on the other end of the cable talks the
// raw protocol. An optional websocket monitor streams decoded trace and
// log payloads to browsers.
//
// Usage:
//
//	router -config pc.yaml
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.bug.st/serial"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/arena"
	"ballplate-go/pkg/config"
	"ballplate-go/pkg/link"
	"ballplate-go/pkg/log"
	"ballplate-go/pkg/monitor"
	"ballplate-go/pkg/router"
	"ballplate-go/pkg/stats"
)

func main() {
	configFile := flag.String("config", "", "Node configuration file (required)")
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
	if cfg.Serial.Device == "" {
		fatal("no serial device configured, set serial.device")
	}

	logger := log.New("router")
	logger.SetLevel(log.ParseLevel(cfg.Node.LogLevel))

	table := stats.New()
	logger.SetTruncationHook(table.TruncationHook)
	if cfg.Node.StatsInterval > 0 {
		table.StartReporter(logger, time.Duration(cfg.Node.StatsInterval*float64(time.Second)))
	}

	// The router has no event dispatcher; deferred releases from the
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

	port, err := serial.Open(cfg.Serial.Device, &serial.Mode{BaudRate: cfg.Serial.BaudRate})
	if err != nil {
		fatal("open %s: %v", cfg.Serial.Device, err)
	}
	logger.Info("serial port %s open at %d baud", cfg.Serial.Device, cfg.Serial.BaudRate)

	var broadcaster *monitor.Broadcaster
	if cfg.Monitor.Listen != "" {
		broadcaster = monitor.New(logger.Component("monitor"))
		broadcaster.Start(cfg.Monitor.Listen)
	}

	r, err := router.New(router.Config{
		Logger:    logger,
		Transport: transport,
		Port:      port,
		Monitor:   broadcaster,
	})
	if err != nil {
		fatal("%v", err)
	}
	r.Start()

	// From here on local log lines ride the serial stream as protocol
	// messages, inline with the plant's traffic.
	logger.SetCommitCallback(r.LogSink())
	logger.Info("router node up at %s", cfg.Network.Listen)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logger.SetCommitCallback(nil)
	logger.Info("caught %s, shutting down", sig)

	transport.Close()
	port.Close()
	r.Wait()
	if broadcaster != nil {
		broadcaster.Close()
	}
	table.Stop()
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "router: "+format+"\n", args...)
	os.Exit(1)
}
