package h3

import (
	"github.com/costinm/h3mux/nio"
	"github.com/costinm/h3mux/transport"
)

// controlStream is one unidirectional control stream: either the HTTP/3
// CONTROL stream, a QPACK encoder/decoder stream, or the Legacy-H1-Framed
// H1Q_CONTROL stream (spec §4.4, Data Model "Control Stream"). Egress is
// eager — created at session setup; ingress is late-bound once the
// dispatcher resolves the peer's matching stream's preface.
type controlStream struct {
	streamType ControlStreamType

	egress     transport.SendStream
	ingress    transport.ReceiveStream
	ingressID  *StreamID

	codec ControlCodec

	readBuf  *nio.Buffer
	writeBuf *nio.Buffer

	// bytesWritten is the cumulative count of bytes this control stream has
	// handed to the transport, used to compute the absolute stream offset a
	// queued write (e.g. a GOAWAY frame) will land at once the scheduler
	// flushes it (spec §4.7, boundary scenario S3: "delivery callback
	// registered at the post-GOAWAY offset").
	bytesWritten int

	// goAwayDeliveryArmed is set by drain() when it registers the first
	// GOAWAY's delivery callback. Nothing reads it: a second registration is
	// prevented by drain()'s early return once the drain state has left
	// NONE.
	goAwayDeliveryArmed bool
}

// pendingEndOffset returns the absolute stream offset the bytes currently
// queued in writeBuf will occupy once flushed.
func (c *controlStream) pendingEndOffset() uint64 {
	return uint64(c.bytesWritten + c.writeBuf.Size())
}

func newControlStream(t ControlStreamType, egress transport.SendStream) *controlStream {
	return &controlStream{
		streamType: t,
		egress:     egress,
		codec:      passthroughControlCodec{},
		readBuf:    nioGet(),
		writeBuf:   nioGet(),
	}
}

func nioGet() *nio.Buffer {
	return nio.NewPooledBuffer()
}

// bindIngress attaches the peer-initiated unidirectional stream the
// dispatcher resolved to this type. It installs no codec: the control
// stream keeps the passthroughControlCodec it was created with, so ingress
// control frames are not decoded.
func (c *controlStream) bindIngress(id StreamID, s transport.ReceiveStream) {
	c.ingressID = &id
	c.ingress = s
}

// feed appends newly arrived ingress bytes and drives the codec, matching
// spec §4.4: "append to read buffer, invoke the profile-provided ingress
// codec".
func (c *controlStream) feed(data []byte, cb ControlCallbacks) error {
	c.readBuf.Write(data)
	buf := c.readBuf.Bytes()
	n, err := c.codec.Feed(buf, cb)
	if err != nil {
		return err
	}
	c.readBuf.Skip(n)
	return nil
}

// appendEgress queues bytes (a GOAWAY frame body, a SETTINGS frame) for the
// scheduler to write ahead of request streams (spec §4.6 step 1).
func (c *controlStream) appendEgress(p []byte) {
	c.writeBuf.Write(p)
}

func (c *controlStream) hasPendingEgress() bool {
	return !c.writeBuf.IsEmpty()
}
