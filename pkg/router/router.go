// Package router bridges the wireless control network onto a serial
// byte stream. It runs on the PC-side node: frames arriving over the
// link go down the serial port verbatim, and frames read off the serial
// stream are injected into the network. Locally generated log lines are
// wrapped into protocol messages so the operator sees them inline.
package router

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/log"
	"ballplate-go/pkg/monitor"
)

// Config parameterizes a Router.
type Config struct {
	Logger    *log.Logger
	Transport *acp.Transport

	// Port is the serial byte stream, typically a go.bug.st/serial
	// port. Any duplex stream works, which is what the tests use.
	Port io.ReadWriter

	// Monitor, when set, receives decoded trace and log payloads.
	Monitor *monitor.Broadcaster
}

// Router owns the uplink and downlink pump goroutines.
type Router struct {
	logger    *log.Logger
	transport *acp.Transport
	port      io.ReadWriter
	monitor   *monitor.Broadcaster

	portMu sync.Mutex
	wg     sync.WaitGroup

	// inSink breaks the loop when forwarding a log line fails and that
	// failure is itself logged through the sink.
	inSink atomic.Bool
}

// New validates the deployment and builds an idle router. The router
// impersonates the PC on the wireless side, so it must be bound to the
// PC's link address.
func New(cfg Config) (*Router, error) {
	if cfg.Transport.OwnID() != acp.NodePC {
		return nil, fmt.Errorf("router: deployed on node %s, must be bound to the pc address", cfg.Transport.OwnID())
	}
	return &Router{
		logger:    cfg.Logger,
		transport: cfg.Transport,
		port:      cfg.Port,
		monitor:   cfg.Monitor,
	}, nil
}

// Start spawns the downlink (network to serial) and uplink (serial to
// network) pumps. Downlink exits when the transport closes; uplink
// exits when the port read fails.
func (r *Router) Start() {
	r.wg.Add(2)
	go r.downlink()
	go r.uplink()
	r.logger.Info("router bridging as %s", r.transport.OwnID())
}

// Wait blocks until both pumps have exited.
func (r *Router) Wait() {
	r.wg.Wait()
}

// LogSink returns a commit callback wrapping local log lines into
// LogCommit frames bound down the serial port, so the router's own
// logging shows up in the operator's stream.
func (r *Router) LogSink() log.CommitCallback {
	return func(level log.Level, line string) {
		if !r.inSink.CompareAndSwap(false, true) {
			return
		}
		defer r.inSink.Store(false)

		msg, ok := r.transport.CreateMessage(acp.NodePC, acp.KindLogCommit, acp.LogCommitSize)
		if !ok {
			return
		}
		var payload acp.LogCommit
		payload.SetText(line)
		payload.Marshal(msg.Payload())
		r.forward(msg)
	}
}

// downlink pumps network messages onto the serial port.
func (r *Router) downlink() {
	defer r.wg.Done()
	for {
		msg := r.transport.Receive(acp.WaitForever)
		if msg == nil {
			return
		}
		r.forward(msg)
	}
}

// forward writes one frame down the serial port, taps the monitor and
// destroys the message.
func (r *Router) forward(msg *acp.Message) {
	defer r.transport.Destroy(msg)

	r.tap(msg)

	r.portMu.Lock()
	_, err := r.port.Write(msg.Frame())
	r.portMu.Unlock()
	if err != nil {
		r.logger.Warn("serial write failed: %v", err)
	}
}

func (r *Router) tap(msg *acp.Message) {
	if r.monitor == nil {
		return
	}
	switch msg.Kind() {
	case acp.KindBallTraceInd:
		var ind acp.BallTraceInd
		if ind.Unmarshal(msg.Payload()) == nil {
			r.monitor.BroadcastTrace(ind)
		}
	case acp.KindLogCommit:
		var commit acp.LogCommit
		if commit.Unmarshal(msg.Payload()) == nil {
			r.monitor.BroadcastLog(commit.Text())
		}
	}
}

// uplink reassembles frames from the serial stream and injects them
// into the network. Framing rides on the length byte of the header; the
// stream is trusted to stay aligned, same as the wire protocol itself.
func (r *Router) uplink() {
	defer r.wg.Done()

	header := make([]byte, acp.HeaderSize)
	payload := make([]byte, acp.MaxPayload)
	for {
		if _, err := io.ReadFull(r.port, header); err != nil {
			r.logger.Info("serial stream closed: %v", err)
			return
		}
		body := payload[:int(header[3])]
		if _, err := io.ReadFull(r.port, body); err != nil {
			r.logger.Info("serial stream closed mid-frame: %v", err)
			return
		}

		frame := append(append(make([]byte, 0, acp.HeaderSize+len(body)), header...), body...)
		msg, ok := r.transport.CreateMessageFromFrame(frame)
		if !ok {
			r.logger.Warn("dropping unframeable serial input (kind 0x%02X, %d byte(s))",
				header[0], len(frame))
			continue
		}
		r.transport.Send(msg)
	}
}
