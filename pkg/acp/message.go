// Package acp implements the application control protocol spoken between
// the plant, controller and PC nodes.
//
// Frames are datagrams with a fixed 4-byte header followed by a typed
// payload:
//
//	[0] kind
//	[1] sender node id
//	[2] receiver node id
//	[3] payload length in bytes
//
// Multi-byte payload fields are little-endian. The transport validates
// receiver and framing on ingress and routes by the address table on
// egress; payload interpretation is the receiver's business.
package acp

import (
	"ballplate-go/pkg/arena"
	"ballplate-go/pkg/link"
)

// HeaderSize is the fixed frame header length.
const HeaderSize = 4

// MaxPayload is the largest payload a single frame can carry.
const MaxPayload = link.MTU - HeaderSize

// NodeID identifies a protocol endpoint.
type NodeID uint8

const (
	NodePlant      NodeID = 0x00
	NodeController NodeID = 0x01
	NodePC         NodeID = 0x02
	NodeInvalid    NodeID = 0xFF
)

// String returns the node name.
func (n NodeID) String() string {
	switch n {
	case NodePlant:
		return "plant"
	case NodeController:
		return "controller"
	case NodePC:
		return "pc"
	default:
		return "invalid"
	}
}

// Kind identifies a message type in the protocol registry.
type Kind uint8

const (
	KindPingReq               Kind = 0x00
	KindPingResp              Kind = 0x01
	KindBallTraceInd          Kind = 0x02
	KindBallTraceEnable       Kind = 0x03
	KindNewSetpointReq        Kind = 0x04
	KindGetPidSettingsReq     Kind = 0x05
	KindGetPidSettingsResp    Kind = 0x06
	KindSetPidSettingsReq     Kind = 0x07
	KindSetPidSettingsResp    Kind = 0x08
	KindGetSamplingPeriodReq  Kind = 0x09
	KindGetSamplingPeriodResp Kind = 0x0A
	KindSetSamplingPeriodReq  Kind = 0x0B
	KindSetSamplingPeriodResp Kind = 0x0C
	KindGetFilterOrderReq     Kind = 0x0D
	KindGetFilterOrderResp    Kind = 0x0E
	KindSetFilterOrderReq     Kind = 0x0F
	KindSetFilterOrderResp    Kind = 0x10
	KindLogCommit             Kind = 0x11
	KindInvalid               Kind = 0xFF
)

// Message is one protocol frame backed by an arena buffer. The buffer
// holds the wire representation, header included, so sending a message
// is a straight copy of Frame() onto the link.
type Message struct {
	buf *arena.Buffer
}

// Kind returns the message kind.
func (m *Message) Kind() Kind {
	return Kind(m.buf.Bytes()[0])
}

// Sender returns the sending node.
func (m *Message) Sender() NodeID {
	return NodeID(m.buf.Bytes()[1])
}

// Receiver returns the destination node.
func (m *Message) Receiver() NodeID {
	return NodeID(m.buf.Bytes()[2])
}

// PayloadSize returns the payload length in bytes.
func (m *Message) PayloadSize() int {
	return int(m.buf.Bytes()[3])
}

// Payload returns the payload bytes. The slice aliases the message
// buffer and dies with it.
func (m *Message) Payload() []byte {
	return m.buf.Bytes()[HeaderSize:]
}

// Frame returns the full wire frame, header included.
func (m *Message) Frame() []byte {
	return m.buf.Bytes()
}

func (m *Message) setSender(n NodeID) {
	m.buf.Bytes()[1] = byte(n)
}

func (m *Message) setReceiver(n NodeID) {
	m.buf.Bytes()[2] = byte(n)
}
