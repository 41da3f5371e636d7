// plantctl is the operator command line for the plant node. It joins
// the wireless network as the PC node, sends one request and prints the
// decoded reply.
//
// Usage:
//
//	plantctl -config pc.yaml [options] <command> [args]
//
// Commands:
//
//	ping                          Round-trip a ping to the plant
//	setpoint <x> <y>              Move the setpoint, in mm
//	get-pid <x|y>                 Print the axis PID gains
//	set-pid <x|y> <kp> <ki> <kd>  Replace the axis PID gains
//	get-period                    Print the sampling period
//	set-period <seconds>          Replace the sampling period
//	get-order <x|y>               Print the axis filter order
//	set-order <x|y> <n>           Replace the axis filter order
//	trace <on|off>                Toggle ball trace indications
//	watch                         Stream trace and log messages
//
// Options:
//
//	-config string     Node configuration file (required)
//	-timeout duration  Reply timeout (default 2s)
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/arena"
	"ballplate-go/pkg/config"
	"ballplate-go/pkg/link"
	"ballplate-go/pkg/log"
)

func main() {
	configFile := flag.String("config", "", "Node configuration file (required)")
	timeout := flag.Duration("timeout", 2*time.Second, "Reply timeout")
	flag.Usage = usage
	flag.Parse()

	if *configFile == "" || flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fatal("%v", err)
	}

	logger := log.New("plantctl")
	logger.SetLevel(log.WARN)

	a := arena.New(cfg.Node.ArenaCapacity)
	a.SetDeferredRelease(func(b *arena.Buffer) { a.Release(b) })

	udp, err := link.NewUDP(cfg.Network.Listen)
	if err != nil {
		fatal("link: %v", err)
	}

	transport, err := acp.New(acp.Config{
		Link:         udp,
		Arena:        a,
		Logger:       logger,
		AddressTable: cfg.AddressTable(),
		RxQueueLen:   cfg.Network.RxQueueLen,
		TxQueueLen:   cfg.Network.TxQueueLen,
	})
	if err != nil {
		fatal("transport: %v", err)
	}
	defer transport.Close()
	if transport.OwnID() != acp.NodePC {
		fatal("listen address %s belongs to node %s, plantctl must be bound to the pc address",
			cfg.Network.Listen, transport.OwnID())
	}

	c := &client{transport: transport, timeout: *timeout}
	if err := c.dispatch(flag.Arg(0), flag.Args()[1:]); err != nil {
		fatal("%v", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: plantctl -config <file> [options] <command> [args]

Commands:
  ping                          Round-trip a ping to the plant
  setpoint <x> <y>              Move the setpoint, in mm
  get-pid <x|y>                 Print the axis PID gains
  set-pid <x|y> <kp> <ki> <kd>  Replace the axis PID gains
  get-period                    Print the sampling period
  set-period <seconds>          Replace the sampling period
  get-order <x|y>               Print the axis filter order
  set-order <x|y> <n>           Replace the axis filter order
  trace <on|off>                Toggle ball trace indications
  watch                         Stream trace and log messages

Options:
`)
	flag.PrintDefaults()
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "plantctl: "+format+"\n", args...)
	os.Exit(1)
}

type client struct {
	transport *acp.Transport
	timeout   time.Duration
}

func (c *client) dispatch(command string, args []string) error {
	switch command {
	case "ping":
		return c.ping(args)
	case "setpoint":
		return c.setpoint(args)
	case "get-pid":
		return c.getPid(args)
	case "set-pid":
		return c.setPid(args)
	case "get-period":
		return c.getPeriod(args)
	case "set-period":
		return c.setPeriod(args)
	case "get-order":
		return c.getOrder(args)
	case "set-order":
		return c.setOrder(args)
	case "trace":
		return c.trace(args)
	case "watch":
		return c.watch(args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// request sends one message to the plant, with marshal filling the
// payload in place.
func (c *client) request(kind acp.Kind, size int, marshal func([]byte)) error {
	msg, ok := c.transport.CreateMessage(acp.NodePlant, kind, size)
	if !ok {
		return fmt.Errorf("out of message memory")
	}
	if marshal != nil {
		marshal(msg.Payload())
	}
	c.transport.Send(msg)
	return nil
}

// await blocks until a message of the wanted kind arrives, discarding
// anything else, or the timeout runs out.
func (c *client) await(kind acp.Kind) (*acp.Message, error) {
	deadline := time.Now().Add(c.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no reply from the plant within %s", c.timeout)
		}
		msg := c.transport.Receive(remaining)
		if msg == nil {
			continue
		}
		if msg.Kind() == kind {
			return msg, nil
		}
		c.transport.Destroy(msg)
	}
}

func (c *client) ping(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("ping takes no arguments")
	}
	start := time.Now()
	if err := c.request(acp.KindPingReq, 0, nil); err != nil {
		return err
	}
	msg, err := c.await(acp.KindPingResp)
	if err != nil {
		return err
	}
	c.transport.Destroy(msg)
	fmt.Printf("pong from plant in %s\n", time.Since(start).Round(time.Microsecond))
	return nil
}

func (c *client) setpoint(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("setpoint takes <x> <y> in mm")
	}
	x, err := strconv.ParseFloat(args[0], 32)
	if err != nil {
		return fmt.Errorf("bad x %q", args[0])
	}
	y, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return fmt.Errorf("bad y %q", args[1])
	}
	err = c.request(acp.KindNewSetpointReq, acp.NewSetpointReqSize, func(p []byte) {
		(&acp.NewSetpointReq{SetpointX: float32(x), SetpointY: float32(y)}).Marshal(p)
	})
	if err != nil {
		return err
	}
	fmt.Printf("setpoint moved to (%g, %g) mm\n", x, y)
	return nil
}

func (c *client) getPid(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("get-pid takes <x|y>")
	}
	axis, err := parseAxis(args[0])
	if err != nil {
		return err
	}
	err = c.request(acp.KindGetPidSettingsReq, acp.GetPidSettingsReqSize, func(p []byte) {
		(&acp.GetPidSettingsReq{AxisID: axis}).Marshal(p)
	})
	if err != nil {
		return err
	}
	msg, err := c.await(acp.KindGetPidSettingsResp)
	if err != nil {
		return err
	}
	defer c.transport.Destroy(msg)

	var resp acp.GetPidSettingsResp
	if err := resp.Unmarshal(msg.Payload()); err != nil {
		return err
	}
	fmt.Printf("axis %s: kp=%g ki=%g kd=%g\n",
		args[0], resp.ProportionalGain, resp.IntegralGain, resp.DerivativeGain)
	return nil
}

func (c *client) setPid(args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("set-pid takes <x|y> <kp> <ki> <kd>")
	}
	axis, err := parseAxis(args[0])
	if err != nil {
		return err
	}
	var gains [3]float64
	for i, name := range []string{"kp", "ki", "kd"} {
		gains[i], err = strconv.ParseFloat(args[i+1], 32)
		if err != nil {
			return fmt.Errorf("bad %s %q", name, args[i+1])
		}
	}
	err = c.request(acp.KindSetPidSettingsReq, acp.SetPidSettingsReqSize, func(p []byte) {
		(&acp.SetPidSettingsReq{
			AxisID:           axis,
			ProportionalGain: float32(gains[0]),
			IntegralGain:     float32(gains[1]),
			DerivativeGain:   float32(gains[2]),
		}).Marshal(p)
	})
	if err != nil {
		return err
	}
	msg, err := c.await(acp.KindSetPidSettingsResp)
	if err != nil {
		return err
	}
	defer c.transport.Destroy(msg)

	var resp acp.SetPidSettingsResp
	if err := resp.Unmarshal(msg.Payload()); err != nil {
		return err
	}
	fmt.Printf("axis %s: kp %g -> %g, ki %g -> %g, kd %g -> %g\n", args[0],
		resp.OldProportionalGain, resp.NewProportionalGain,
		resp.OldIntegralGain, resp.NewIntegralGain,
		resp.OldDerivativeGain, resp.NewDerivativeGain)
	return nil
}

func (c *client) getPeriod(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("get-period takes no arguments")
	}
	if err := c.request(acp.KindGetSamplingPeriodReq, 0, nil); err != nil {
		return err
	}
	msg, err := c.await(acp.KindGetSamplingPeriodResp)
	if err != nil {
		return err
	}
	defer c.transport.Destroy(msg)

	var resp acp.GetSamplingPeriodResp
	if err := resp.Unmarshal(msg.Payload()); err != nil {
		return err
	}
	fmt.Printf("sampling period %gs\n", resp.SamplingPeriod)
	return nil
}

func (c *client) setPeriod(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("set-period takes <seconds>")
	}
	period, err := strconv.ParseFloat(args[0], 32)
	if err != nil || period <= 0 {
		return fmt.Errorf("bad period %q", args[0])
	}
	err = c.request(acp.KindSetSamplingPeriodReq, acp.SetSamplingPeriodReqSize, func(p []byte) {
		(&acp.SetSamplingPeriodReq{SamplingPeriod: float32(period)}).Marshal(p)
	})
	if err != nil {
		return err
	}
	msg, err := c.await(acp.KindSetSamplingPeriodResp)
	if err != nil {
		return err
	}
	defer c.transport.Destroy(msg)

	var resp acp.SetSamplingPeriodResp
	if err := resp.Unmarshal(msg.Payload()); err != nil {
		return err
	}
	fmt.Printf("sampling period %gs -> %gs\n", resp.OldSamplingPeriod, resp.NewSamplingPeriod)
	return nil
}

func (c *client) getOrder(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("get-order takes <x|y>")
	}
	axis, err := parseAxis(args[0])
	if err != nil {
		return err
	}
	err = c.request(acp.KindGetFilterOrderReq, acp.GetFilterOrderReqSize, func(p []byte) {
		(&acp.GetFilterOrderReq{AxisID: axis}).Marshal(p)
	})
	if err != nil {
		return err
	}
	msg, err := c.await(acp.KindGetFilterOrderResp)
	if err != nil {
		return err
	}
	defer c.transport.Destroy(msg)

	var resp acp.GetFilterOrderResp
	if err := resp.Unmarshal(msg.Payload()); err != nil {
		return err
	}
	fmt.Printf("axis %s: filter order %d\n", args[0], resp.FilterOrder)
	return nil
}

func (c *client) setOrder(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("set-order takes <x|y> <n>")
	}
	axis, err := parseAxis(args[0])
	if err != nil {
		return err
	}
	order, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("bad order %q", args[1])
	}
	err = c.request(acp.KindSetFilterOrderReq, acp.SetFilterOrderReqSize, func(p []byte) {
		(&acp.SetFilterOrderReq{AxisID: axis, FilterOrder: uint32(order)}).Marshal(p)
	})
	if err != nil {
		return err
	}
	msg, err := c.await(acp.KindSetFilterOrderResp)
	if err != nil {
		return err
	}
	defer c.transport.Destroy(msg)

	var resp acp.SetFilterOrderResp
	if err := resp.Unmarshal(msg.Payload()); err != nil {
		return err
	}
	if resp.Status != acp.StatusOK {
		return fmt.Errorf("plant rejected order %d, axis %s keeps order %d",
			order, args[0], resp.OldFilterOrder)
	}
	fmt.Printf("axis %s: filter order %d -> %d\n", args[0], resp.OldFilterOrder, resp.NewFilterOrder)
	return nil
}

func (c *client) trace(args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("trace takes <on|off>")
	}
	enable := args[0] == "on"
	err := c.request(acp.KindBallTraceEnable, acp.BallTraceEnableSize, func(p []byte) {
		(&acp.BallTraceEnable{Enable: enable}).Marshal(p)
	})
	if err != nil {
		return err
	}
	// The plant echoes the request back as the acknowledgement.
	msg, err := c.await(acp.KindBallTraceEnable)
	if err != nil {
		return err
	}
	c.transport.Destroy(msg)
	fmt.Printf("trace %s\n", args[0])
	return nil
}

// watch streams trace indications and log commits until interrupted.
func (c *client) watch(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("watch takes no arguments")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("watching, interrupt to stop")
	for {
		select {
		case <-sigc:
			return nil
		default:
		}

		msg := c.transport.Receive(250 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Kind() {
		case acp.KindBallTraceInd:
			var ind acp.BallTraceInd
			if ind.Unmarshal(msg.Payload()) == nil {
				fmt.Printf("%d %g %g %g %g\n", ind.SampleNumber,
					ind.SetpointX, ind.PositionX, ind.SetpointY, ind.PositionY)
			}
		case acp.KindLogCommit:
			var commit acp.LogCommit
			if commit.Unmarshal(msg.Payload()) == nil {
				fmt.Println(commit.Text())
			}
		}
		c.transport.Destroy(msg)
	}
}

func parseAxis(s string) (acp.Axis, error) {
	switch s {
	case "x", "X":
		return acp.AxisX, nil
	case "y", "Y":
		return acp.AxisY, nil
	default:
		return 0, fmt.Errorf("bad axis %q, want x or y", s)
	}
}
