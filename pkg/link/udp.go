package link

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// UDPLink carries frames as UDP datagrams. One socket serves both
// directions; the reader goroutine is the link's receive context.
type UDPLink struct {
	conn  *net.UDPConn
	local string

	mu    sync.Mutex
	peers map[string]*net.UDPAddr

	handler atomic.Pointer[ReceiveHandler]

	closed chan struct{}
	wg     sync.WaitGroup
}

// NewUDP binds a UDP socket on listenAddr and starts the reader. The
// configured listenAddr string is the link's identity, so the address
// table entries must match it verbatim.
func NewUDP(listenAddr string) (*UDPLink, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("link: resolve %s: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("link: listen %s: %w", listenAddr, err)
	}

	l := &UDPLink{
		conn:   conn,
		local:  listenAddr,
		peers:  make(map[string]*net.UDPAddr),
		closed: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.readLoop()
	return l, nil
}

// LocalAddr returns the configured listen address.
func (l *UDPLink) LocalAddr() string {
	return l.local
}

// RegisterPeer resolves and stores a peer address.
func (l *UDPLink) RegisterPeer(addr string) error {
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("link: resolve peer %s: %w", addr, err)
	}
	l.mu.Lock()
	l.peers[addr] = resolved
	l.mu.Unlock()
	return nil
}

// Send transmits one datagram to a registered peer.
func (l *UDPLink) Send(addr string, frame []byte) error {
	if len(frame) > MTU {
		return ErrFrameTooLarge
	}
	l.mu.Lock()
	peer := l.peers[addr]
	l.mu.Unlock()
	if peer == nil {
		return ErrUnknownPeer
	}
	if _, err := l.conn.WriteToUDP(frame, peer); err != nil {
		return fmt.Errorf("link: send to %s: %w", addr, err)
	}
	return nil
}

// SetReceiveHandler installs the ingress callback.
func (l *UDPLink) SetReceiveHandler(h ReceiveHandler) {
	if h == nil {
		l.handler.Store(nil)
		return
	}
	l.handler.Store(&h)
}

// Close stops the reader and closes the socket.
func (l *UDPLink) Close() error {
	close(l.closed)
	err := l.conn.Close()
	l.wg.Wait()
	return err
}

func (l *UDPLink) readLoop() {
	defer l.wg.Done()
	buf := make([]byte, MTU+1)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
			}
			continue
		}
		if n > MTU {
			continue
		}
		if h := l.handler.Load(); h != nil {
			(*h)(from.String(), buf[:n])
		}
	}
}
