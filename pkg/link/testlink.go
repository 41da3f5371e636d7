package link

import (
	"sync"
)

// Network is an in-memory link fabric for tests and the simulator. Every
// node attached to the same Network can reach every other node; delivery
// happens synchronously in the sender's goroutine, which stands in for
// the receive-completion context of a real link.
type Network struct {
	mu    sync.Mutex
	nodes map[string]*MemLink
}

// NewNetwork creates an empty fabric.
func NewNetwork() *Network {
	return &Network{nodes: make(map[string]*MemLink)}
}

// Attach creates a link endpoint with the given address on this fabric.
func (n *Network) Attach(addr string) *MemLink {
	l := &MemLink{net: n, local: addr, peers: make(map[string]bool)}
	n.mu.Lock()
	n.nodes[addr] = l
	n.mu.Unlock()
	return l
}

func (n *Network) lookup(addr string) *MemLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[addr]
}

// MemLink is one endpoint on a Network.
type MemLink struct {
	net   *Network
	local string

	mu       sync.Mutex
	peers    map[string]bool
	handler  ReceiveHandler
	dropAll  bool
	sendErr  error
	closed   bool
	sent     int
	received int
}

// LocalAddr returns the endpoint's address.
func (l *MemLink) LocalAddr() string {
	return l.local
}

// RegisterPeer records addr as a valid destination.
func (l *MemLink) RegisterPeer(addr string) error {
	l.mu.Lock()
	l.peers[addr] = true
	l.mu.Unlock()
	return nil
}

// Send delivers a frame to the peer's handler in the caller's goroutine.
func (l *MemLink) Send(addr string, frame []byte) error {
	if len(frame) > MTU {
		return ErrFrameTooLarge
	}
	l.mu.Lock()
	known := l.peers[addr]
	drop := l.dropAll
	err := l.sendErr
	if err == nil && known && !drop {
		l.sent++
	}
	l.mu.Unlock()

	if err != nil {
		return err
	}
	if !known {
		return ErrUnknownPeer
	}
	if drop {
		return nil
	}

	peer := l.net.lookup(addr)
	if peer == nil {
		return nil
	}
	peer.deliver(l.local, frame)
	return nil
}

func (l *MemLink) deliver(from string, frame []byte) {
	l.mu.Lock()
	h := l.handler
	closed := l.closed
	if h != nil && !closed {
		l.received++
	}
	l.mu.Unlock()
	if h == nil || closed {
		return
	}
	// Hand the handler its own copy so the sender's buffer reuse cannot
	// race, same as a real link draining its DMA ring.
	cp := make([]byte, len(frame))
	copy(cp, frame)
	h(from, cp)
}

// SetReceiveHandler installs the ingress callback.
func (l *MemLink) SetReceiveHandler(h ReceiveHandler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Close detaches the endpoint.
func (l *MemLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// SetDropAll silently discards all outgoing frames when enabled.
func (l *MemLink) SetDropAll(drop bool) {
	l.mu.Lock()
	l.dropAll = drop
	l.mu.Unlock()
}

// SetSendError forces Send to fail with err until cleared with nil.
func (l *MemLink) SetSendError(err error) {
	l.mu.Lock()
	l.sendErr = err
	l.mu.Unlock()
}

// Sent returns the count of frames successfully handed to the fabric.
func (l *MemLink) Sent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

// Received returns the count of frames delivered to the handler.
func (l *MemLink) Received() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.received
}
