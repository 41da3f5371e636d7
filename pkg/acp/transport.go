package acp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ballplate-go/pkg/arena"
	"ballplate-go/pkg/link"
	"ballplate-go/pkg/log"
)

// WaitForever blocks a Receive call until a message arrives or the
// transport closes.
const WaitForever time.Duration = -1

// TxDropReason explains a discarded outgoing message.
type TxDropReason uint8

const (
	TxDropQueueStarvation TxDropReason = iota
	TxDropInvalidReceiver
	TxDropLinkSendFailed
	TxDropLinkLayerError
)

// String returns the reason name.
func (r TxDropReason) String() string {
	switch r {
	case TxDropQueueStarvation:
		return "queue starvation"
	case TxDropInvalidReceiver:
		return "invalid receiver"
	case TxDropLinkSendFailed:
		return "link send failed"
	case TxDropLinkLayerError:
		return "link layer error"
	default:
		return "unknown"
	}
}

// RxDropReason explains a discarded incoming message.
type RxDropReason uint8

const (
	RxDropAllocationFailure RxDropReason = iota
	RxDropQueueStarvation
)

// String returns the reason name.
func (r RxDropReason) String() string {
	switch r {
	case RxDropAllocationFailure:
		return "allocation failure"
	case RxDropQueueStarvation:
		return "queue starvation"
	default:
		return "unknown"
	}
}

// TxDropHook observes outgoing message drops.
type TxDropHook func(receiver NodeID, reason TxDropReason)

// RxDropHook observes incoming message drops.
type RxDropHook func(sender NodeID, reason RxDropReason)

// TraceDirection tells a trace callback which side of the transport the
// message crossed.
type TraceDirection uint8

const (
	TraceSend TraceDirection = iota
	TraceReceive
)

// TraceCallback observes messages of the traced kind. The message is
// still owned by the transport; the callback must not retain or destroy
// it.
type TraceCallback func(dir TraceDirection, msg *Message)

// Config parameterizes a Transport.
type Config struct {
	Link   link.Link
	Arena  *arena.Arena
	Logger *log.Logger

	// AddressTable maps every node of the deployment to its link
	// address. The local node is identified by matching the link's
	// local address against this table; no match is a startup error.
	AddressTable map[NodeID]string

	RxQueueLen int
	TxQueueLen int
}

// Transport is one node's endpoint of the control protocol. A single
// gateway goroutine owns the egress path; ingress runs in the link's
// receive context and only copies, validates and enqueues.
type Transport struct {
	link   link.Link
	arena  *arena.Arena
	logger *log.Logger

	own   NodeID
	addrs map[NodeID]string

	rxq chan *Message
	txq chan *Message

	mu        sync.Mutex
	txDrop    TxDropHook
	rxDrop    RxDropHook
	traceKind Kind
	traceCb   TraceCallback

	quit chan struct{}
	wg   sync.WaitGroup
}

// New resolves the local node identity from the address table, registers
// all peers with the link and starts the gateway.
func New(cfg Config) (*Transport, error) {
	own := NodeInvalid
	for node, addr := range cfg.AddressTable {
		if addr == cfg.Link.LocalAddr() {
			own = node
			break
		}
	}
	if own == NodeInvalid {
		return nil, fmt.Errorf("acp: local address %s not in the address table", cfg.Link.LocalAddr())
	}

	t := &Transport{
		link:      cfg.Link,
		arena:     cfg.Arena,
		logger:    cfg.Logger,
		own:       own,
		addrs:     make(map[NodeID]string, len(cfg.AddressTable)),
		rxq:       make(chan *Message, cfg.RxQueueLen),
		txq:       make(chan *Message, cfg.TxQueueLen),
		traceKind: KindInvalid,
		quit:      make(chan struct{}),
	}
	for node, addr := range cfg.AddressTable {
		if node == own {
			continue
		}
		if err := cfg.Link.RegisterPeer(addr); err != nil {
			return nil, fmt.Errorf("acp: register peer %s: %w", node, err)
		}
		t.addrs[node] = addr
	}

	cfg.Link.SetReceiveHandler(t.onLinkReceive)

	t.wg.Add(1)
	go t.gateway()

	t.logger.Info("transport up as %s (%s), %d peer(s)", own, cfg.Link.LocalAddr(), len(t.addrs))
	return t, nil
}

// OwnID returns the local node identity.
func (t *Transport) OwnID() NodeID {
	return t.own
}

// OnTxDrop registers the outgoing drop hook.
func (t *Transport) OnTxDrop(hook TxDropHook) {
	t.mu.Lock()
	t.txDrop = hook
	t.mu.Unlock()
}

// OnRxDrop registers the incoming drop hook.
func (t *Transport) OnRxDrop(hook RxDropHook) {
	t.mu.Lock()
	t.rxDrop = hook
	t.mu.Unlock()
}

// SetTrace installs a trace tap on one message kind. The callback fires
// on every send and every accepted receive of that kind. KindInvalid or
// a nil callback disables tracing.
func (t *Transport) SetTrace(kind Kind, cb TraceCallback) {
	t.mu.Lock()
	if cb == nil {
		t.traceKind = KindInvalid
		t.traceCb = nil
	} else {
		t.traceKind = kind
		t.traceCb = cb
	}
	t.mu.Unlock()
}

// CreateMessage allocates an outgoing message addressed to receiver.
// The payload is zeroed. Fails when the payload exceeds MaxPayload or
// the arena budget is exhausted.
func (t *Transport) CreateMessage(receiver NodeID, kind Kind, payloadSize int) (*Message, bool) {
	if payloadSize < 0 || payloadSize > MaxPayload {
		return nil, false
	}
	buf, ok := t.arena.Alloc(HeaderSize + payloadSize)
	if !ok {
		return nil, false
	}
	b := buf.Bytes()
	b[0] = byte(kind)
	b[1] = byte(t.own)
	b[2] = byte(receiver)
	b[3] = byte(payloadSize)
	return &Message{buf: buf}, true
}

// CreateMessageFromFrame copies a raw wire frame into an arena-backed
// message, e.g. one lifted off a serial byte stream. Fails on an
// inconsistent header or an exhausted arena.
func (t *Transport) CreateMessageFromFrame(frame []byte) (*Message, bool) {
	if len(frame) < HeaderSize || int(frame[3])+HeaderSize != len(frame) {
		return nil, false
	}
	buf, ok := t.arena.Alloc(len(frame))
	if !ok {
		return nil, false
	}
	copy(buf.Bytes(), frame)
	return &Message{buf: buf}, true
}

// Duplicate deep-copies a message into a fresh buffer.
func (t *Transport) Duplicate(msg *Message) (*Message, bool) {
	buf, ok := t.arena.Alloc(msg.buf.Len())
	if !ok {
		return nil, false
	}
	copy(buf.Bytes(), msg.buf.Bytes())
	return &Message{buf: buf}, true
}

// Destroy releases a message's buffer back to the arena. Legal from the
// dispatcher and ordinary goroutines only.
func (t *Transport) Destroy(msg *Message) {
	t.arena.Release(msg.buf)
}

// Send hands a message to the gateway. Ownership transfers on call:
// whether the message is transmitted or dropped, the transport destroys
// it. Never blocks; a full egress queue drops the message and fires the
// tx drop hook.
func (t *Transport) Send(msg *Message) {
	t.trace(TraceSend, msg)
	select {
	case t.txq <- msg:
	default:
		t.dropTx(msg.Receiver(), TxDropQueueStarvation)
		t.Destroy(msg)
	}
}

// Echo swaps a message's sender and receiver in place and sends it back.
// Ownership transfers to the transport.
func (t *Transport) Echo(msg *Message) {
	sender := msg.Sender()
	msg.setSender(msg.Receiver())
	msg.setReceiver(sender)
	t.Send(msg)
}

// Receive returns the next inbound message, blocking up to timeout
// (WaitForever blocks indefinitely). Returns nil on timeout or when the
// transport closes. The caller owns the returned message.
func (t *Transport) Receive(timeout time.Duration) *Message {
	if timeout < 0 {
		select {
		case msg := <-t.rxq:
			return msg
		case <-t.quit:
			return nil
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-t.rxq:
		return msg
	case <-timer.C:
		return nil
	case <-t.quit:
		return nil
	}
}

// Close stops the gateway and releases all queued messages.
func (t *Transport) Close() error {
	err := t.link.Close()
	close(t.quit)
	t.wg.Wait()

	for {
		select {
		case msg := <-t.rxq:
			t.Destroy(msg)
		default:
			return err
		}
	}
}

// gateway is the single egress context: it validates the receiver,
// resolves the link address and transmits. Every message popped from the
// queue is destroyed here, success or not.
func (t *Transport) gateway() {
	defer t.wg.Done()
	for {
		select {
		case msg := <-t.txq:
			t.transmit(msg)
		case <-t.quit:
			for {
				select {
				case msg := <-t.txq:
					t.Destroy(msg)
				default:
					return
				}
			}
		}
	}
}

func (t *Transport) transmit(msg *Message) {
	defer t.Destroy(msg)

	receiver := msg.Receiver()
	addr, ok := t.addrs[receiver]
	if !ok {
		t.logger.Warn("dropping 0x%02X to unroutable node %d", uint8(msg.Kind()), uint8(receiver))
		t.dropTx(receiver, TxDropInvalidReceiver)
		return
	}

	if err := t.link.Send(addr, msg.Frame()); err != nil {
		reason := TxDropLinkSendFailed
		if errors.Is(err, link.ErrFrameTooLarge) || errors.Is(err, link.ErrUnknownPeer) {
			reason = TxDropLinkLayerError
		}
		t.logger.Warn("link send to %s failed: %v", receiver, err)
		t.dropTx(receiver, reason)
	}
}

// onLinkReceive runs in the link's receive context. It validates the
// frame, copies it into the arena and enqueues without blocking.
// Malformed frames and frames addressed elsewhere are dropped silently;
// resource-pressure drops fire the rx drop hook. Buffers are never
// released directly from this context.
func (t *Transport) onLinkReceive(from string, frame []byte) {
	if len(frame) < HeaderSize {
		return
	}
	if int(frame[3])+HeaderSize != len(frame) {
		return
	}
	if NodeID(frame[2]) != t.own {
		return
	}
	sender := NodeID(frame[1])

	buf, ok := t.arena.Alloc(len(frame))
	if !ok {
		t.dropRx(sender, RxDropAllocationFailure)
		return
	}
	copy(buf.Bytes(), frame)
	msg := &Message{buf: buf}

	t.trace(TraceReceive, msg)
	select {
	case t.rxq <- msg:
	default:
		t.dropRx(sender, RxDropQueueStarvation)
		t.arena.ReleaseDeferred(buf)
	}
}

func (t *Transport) trace(dir TraceDirection, msg *Message) {
	t.mu.Lock()
	kind := t.traceKind
	cb := t.traceCb
	t.mu.Unlock()
	if cb != nil && kind == msg.Kind() {
		cb(dir, msg)
	}
}

func (t *Transport) dropTx(receiver NodeID, reason TxDropReason) {
	t.mu.Lock()
	hook := t.txDrop
	t.mu.Unlock()
	if hook != nil {
		hook(receiver, reason)
	}
}

func (t *Transport) dropRx(sender NodeID, reason RxDropReason) {
	t.mu.Lock()
	hook := t.rxDrop
	t.mu.Unlock()
	if hook != nil {
		hook(sender, reason)
	}
}
