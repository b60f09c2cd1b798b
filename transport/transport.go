// Package transport defines the QUIC transport contract the session core
// consumes (spec §6 "Transport contract (consumed)"). The QUIC transport
// itself — stream creation/reset, delivery callbacks, flow-control reports —
// is an external collaborator; this package only states the interface by
// which the session core talks to it, mirroring the way quic-go's own
// http3 package builds a thin HTTP/3 layer on top of quic.Connection
// without owning the QUIC implementation.
//
// Two implementations exist: quicgo.go adapts a real quic.Connection (used
// by the demo command), and loopback.go is an in-memory pair used by the
// package tests.
package transport

import "context"

// StreamID mirrors quic-go's quic.StreamID: a 62-bit QUIC stream id,
// represented as int64.
type StreamID int64

// Role is the session's role on this transport.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// DeliveryCallback fires once the transport has confirmed that all bytes up
// to and including offset on the stream were acknowledged by the peer
// (acked=true), or fires with acked=false if the stream was reset/canceled
// before that point was reached (spec testable property 9).
type DeliveryCallback func(offset uint64, acked bool)

// Info is connection-level metadata exposed via getTransportInfo (spec §6).
type Info struct {
	ALPN       string
	RemoteAddr string
	LocalAddr  string
}

// Session is the full transport contract consumed by the session core.
// A Session is bound to one event-loop thread; none of its methods nor the
// callbacks it invokes may be called concurrently (spec §5).
type Session interface {
	Role() Role
	Info() Info

	// CreateBidiStream opens a new locally-initiated request stream.
	CreateBidiStream(ctx context.Context) (Stream, error)
	// CreateUniStream opens a new egress-only control stream.
	CreateUniStream(ctx context.Context) (SendStream, error)

	// OnNewBidiStream/OnNewUniStream register the callbacks invoked when the
	// peer opens a new stream. Exactly one registration is made, at setup.
	OnNewBidiStream(func(Stream))
	OnNewUniStream(func(ReceiveStream))

	// OnConnectionWriteReady delivers the write-ready budget (maxToSend) that
	// drives the egress scheduler (spec §4.6).
	OnConnectionWriteReady(func(maxToSend int))
	OnConnectionWriteError(func(error))
	OnConnectionEnd(func(error))
	// OnFlowControlUpdate fires when a stream's send window changes, in
	// particular when it grows from zero (spec boundary scenario S6).
	OnFlowControlUpdate(func(id StreamID, window uint64))

	// RegisterDeliveryCallback arms a one-shot delivery acknowledgement for
	// the given stream offset.
	RegisterDeliveryCallback(id StreamID, offset uint64, cb DeliveryCallback)

	ConnectionSendWindow() uint64
	StreamSendWindow(id StreamID) uint64

	// Close tears down the underlying connection with an application error
	// code, used on dropConnection.
	Close(code uint64, reason string) error
}

// ReceiveStream is the ingress half of a stream (either a unidirectional
// stream owned by the peer, or the read side of a bidirectional stream).
type ReceiveStream interface {
	ID() StreamID

	// SetPeekCallback/SetReadCallback select which of the two modes the
	// dispatcher or codec currently wants (spec §4.2: a stream starts in
	// peek mode until its preface is resolved, then switches to read mode).
	SetPeekCallback(func())
	SetReadCallback(func())

	// Peek returns currently-buffered bytes without consuming them.
	Peek() []byte
	// Consume removes n bytes from the front of the peek buffer, handing
	// them to the caller's own read path (used after a preface is decoded).
	Consume(n int)
	// Read consumes directly, bypassing Peek's buffer view.
	Read(p []byte) (int, error)

	StopSending(code uint64)

	SetDataExpiredCallback(func(offset uint64))
	SetDataRejectedCallback(func(offset uint64))

	// SetResetCallback registers the callback fired when the peer resets
	// this stream with the given application error code (spec §4.5
	// "Reset handling").
	SetResetCallback(func(code uint64))
}

// SendStream is the egress half of a stream.
type SendStream interface {
	ID() StreamID

	// WriteChain hands data to the transport, optionally with FIN. It
	// returns the number of bytes accepted; a transport send-window of zero
	// is not an error, it returns (0, nil) (spec §4.6 flow control).
	WriteChain(p []byte, fin bool) (int, error)

	ResetStream(code uint64)

	SendDataExpired(offset uint64) error
	SendDataRejected(offset uint64) error
}

// Stream is a bidirectional request/response stream.
type Stream interface {
	ReceiveStream
	SendStream
}
