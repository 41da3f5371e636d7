// Package link abstracts the datagram link carrying protocol frames
// between nodes. Links are connectionless, unacknowledged and bounded by
// a fixed MTU; reliability lives in the layers above.
package link

import "errors"

// MTU is the largest frame a link accepts, header included.
const MTU = 250

// ErrFrameTooLarge is returned by Send for frames exceeding the MTU.
var ErrFrameTooLarge = errors.New("link: frame exceeds MTU")

// ErrUnknownPeer is returned by Send for addresses never registered.
var ErrUnknownPeer = errors.New("link: unknown peer address")

// ReceiveHandler is invoked from the link's receive context for every
// incoming frame. The frame slice is only valid for the duration of the
// call; the handler must copy what it keeps.
type ReceiveHandler func(from string, frame []byte)

// Link is a point-to-multipoint datagram transport.
type Link interface {
	// LocalAddr returns the link address this endpoint answers to.
	LocalAddr() string

	// RegisterPeer makes addr a valid Send destination.
	RegisterPeer(addr string) error

	// Send transmits one frame to a registered peer. Best effort: an
	// error reports local failure only, never remote delivery.
	Send(addr string, frame []byte) error

	// SetReceiveHandler installs the ingress callback. Frames arriving
	// while no handler is installed are discarded.
	SetReceiveHandler(h ReceiveHandler)

	// Close shuts the link down and stops the receive context.
	Close() error
}
