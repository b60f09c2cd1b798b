package h3

import (
	"time"

	"github.com/costinm/h3mux/nio"
	"github.com/costinm/h3mux/transport"
)

// Stream is one HTTP request/response exchange multiplexed over a
// bidirectional QUIC stream (spec Data Model "Stream (request)"). Despite
// the name collision with transport.Stream, the two are distinct: this
// Stream wraps a transport.Stream plus all of the session-core state the
// spec assigns it (codec, buffers, byte-event tracker, scheduler handle).
type Stream struct {
	id   StreamID
	sess *Session
	t    transport.Stream

	codec   StreamCodec
	handler TransactionHandler

	readBuf  *nio.Buffer
	writeBuf *nio.Buffer

	pendingEOM   bool
	eomSent      bool
	createdAt    time.Time
	bytesWritten int

	detached     bool
	ingressError bool
	gotIngress   bool

	events byteEventTracker

	// enqueued reports whether this stream currently holds a handle in the
	// scheduler's priority queue (spec Data Model "queue handle").
	enqueued bool
	priority int
	weight   float64

	// pushID identifies this stream as a server push response bound to a
	// push id announced on its parent stream (spec §4.5 "Push promise").
	pushID *uint64

	pr *partialReliability

	// pendingRead marks that Feed should be re-driven on the next tick, used
	// for the cross-stream QPACK unblock (spec §4.5, boundary scenario S4).
	pendingRead bool
}

func newStream(sess *Session, id StreamID, t transport.Stream, role Role) *Stream {
	s := &Stream{
		id:        id,
		sess:      sess,
		t:         t,
		codec:     &passthroughStreamCodec{},
		readBuf:   nio.NewPooledBuffer(),
		writeBuf:  nio.NewPooledBuffer(),
		createdAt: time.Now(),
		weight:    1,
	}
	if sess.config.PartialReliabilityEnabled && sess.profile.PartialReliabilitySupported() {
		s.pr = newPartialReliability(s)
	}
	return s
}

// ID returns the bound stream id.
func (s *Stream) ID() StreamID { return s.id }

// Sess returns the owning Session, for handlers that need session-level
// context (role, config) without a back-reference of their own.
func (s *Stream) Sess() *Session { return s.sess }

// SetHandler attaches the TransactionHandler that receives this stream's
// callbacks. Used by a server-role SessionConfig.OnNewPeerStream hook,
// which observes the stream before any handler exists (spec §6 Upper
// contract; client-role streams get their handler at newTransaction time
// instead).
func (s *Stream) SetHandler(h TransactionHandler) { s.handler = h }

// eligibleForDestruction implements spec Data Model invariant (a): "a
// stream is eligible for destruction iff detached && readBuf empty &&
// writeBuf empty && !pendingEOM && !enqueued".
func (s *Stream) eligibleForDestruction() bool {
	return s.detached && s.readBuf.IsEmpty() && s.writeBuf.IsEmpty() && !s.pendingEOM && !s.enqueued
}

// --- ingress -----------------------------------------------------------

// onReadable is the transport's per-stream read callback. It buffers the
// newly available bytes and marks the stream for codec processing on the
// next orchestrator tick rather than feeding the codec inline, exactly per
// spec §4.5: "processing is deferred to the next orchestrator tick".
func (s *Stream) onReadable() {
	if s.sess.readsThisLoop >= s.sess.config.maxReadsPerLoop() {
		return // spec §5 "Reads-per-loop cap"; transport re-delivers later.
	}
	p := s.t.Peek()
	if len(p) == 0 {
		return
	}
	s.sess.readsThisLoop++
	s.t.Consume(len(p))
	s.readBuf.Write(p)
	s.sess.markPendingRead(s)
}

// drainIngress feeds the codec with whatever is buffered. Called by the
// orchestrator tick, and re-called for a stream re-inserted into the
// pending-read set by a QPACK insert on another stream (spec §4.5).
func (s *Stream) drainIngress() {
	s.pendingRead = false
	buf := s.readBuf.Bytes()
	if len(buf) == 0 {
		return
	}
	n, err := s.codec.Feed(buf, s)
	if err != nil {
		s.failIngress(err)
		return
	}
	s.readBuf.Skip(n)
}

func (s *Stream) failIngress(err error) {
	s.ingressError = true
	if s.handler != nil {
		s.handler.OnError(&StreamError{StreamID: s.id, Proxygen: ErrStreamAbort, cause: err})
	}
}

// CodecCallbacks implementation: the session wires the codec's decoded
// events straight back onto the owning transaction.

func (s *Stream) OnHeadersComplete(h []HeaderField) {
	s.gotIngress = true
	if s.handler != nil {
		s.handler.OnHeadersComplete(h)
	}
}

func (s *Stream) OnBody(data []byte) {
	s.gotIngress = true
	if s.handler != nil {
		s.handler.OnBody(data)
	}
}

func (s *Stream) OnTrailers(h []HeaderField) {
	if s.handler != nil {
		s.handler.OnTrailers(h)
	}
}

func (s *Stream) OnMessageComplete() {
	if s.handler != nil {
		s.handler.OnMessageComplete()
	}
}

func (s *Stream) OnBlocked() {
	// Nothing to do here directly; QPACK unblock re-inserts via
	// sess.markPendingRead when the decoder stream catches up (S4).
}

// OnPushPromise forwards the codec's decoded push id/headers to the
// transaction handler and registers it so the PUSH stream that later
// carries the content finds its way back to this same handler (spec §4.5
// "Push promise").
func (s *Stream) OnPushPromise(pushID uint64, headers []HeaderField) {
	s.sess.registerPushPromise(pushID, s.handler)
	if s.handler != nil {
		s.handler.OnPushPromiseHeadersComplete(pushID, headers)
	}
}

// --- egress --------------------------------------------------------------

// SendHeaders appends a header block to the egress buffer and marks the
// stream as having pending egress (spec §6 Upper contract: sendHeaders).
func (s *Stream) SendHeaders(h []HeaderField) {
	start := uint64(s.bytesWritten + s.writeBuf.Size())
	s.writeBuf.UpdateAppend(s.codec.EncodeHeaders(s.writeBuf.Bytes(), h))
	end := uint64(s.bytesWritten + s.writeBuf.Size())
	if s.pr != nil {
		s.pr.noteHeaderWritten(start, end)
	}
	s.markPendingEgress()
}

func (s *Stream) SendBody(p []byte) {
	s.writeBuf.UpdateAppend(s.codec.EncodeBody(s.writeBuf.Bytes(), p, false))
	s.markPendingEgress()
}

// SendEOM marks end-of-message; the scheduler will request FIN on the
// transport write once the buffer drains and registers a delivery callback
// that keeps the transaction open until the wire acknowledges the last
// byte (spec §4.5 "Egress").
func (s *Stream) SendEOM() {
	s.pendingEOM = true
	s.markPendingEgress()
}

// SendChunkHeader/SendChunkTerminator exist for the Upper contract's
// chunked-transfer surface (legacy H1 profiles). Under every profile they
// write no bytes: each only marks the stream as having pending egress.
func (s *Stream) SendChunkHeader(size int) {
	s.markPendingEgress()
}

func (s *Stream) SendChunkTerminator() {
	s.markPendingEgress()
}

// SendAbort aborts the stream locally: resets the underlying transport
// stream with the code the active profile maps for this role/ingress state
// (spec §4.5 "Reset handling").
func (s *Stream) SendAbort() {
	proxErr, code := s.sess.profile.AbortCode(s.sess.role, s.gotIngress)
	s.t.ResetStream(uint64(code))
	s.finishWithError(proxErr, nil)
}

func (s *Stream) Peek() []byte { return s.readBuf.Bytes() }

func (s *Stream) Consume(n int) { s.readBuf.Skip(n) }

func (s *Stream) markPendingEgress() {
	if !s.enqueued {
		s.enqueued = true
		s.sess.scheduler.enqueue(s)
	}
}

// onPeerReset implements spec §4.5 "Reset handling".
func (s *Stream) onPeerReset(code uint64) {
	if s.detached {
		return // the peer answering our own reply reset
	}
	proxErr, replyCode := s.sess.profile.AbortCode(s.sess.role, s.gotIngress)
	if ErrorCode(code) == ErrGiveupZeroRTT {
		proxErr = ErrEarlyDataFailed
	}
	if (replyCode == ErrRequestRejected || ErrorCode(code) == ErrRequestRejected) && s.handler != nil {
		s.handler.OnUnacknowledged()
	}
	// Finish (and detach) before replying, so a reset the peer sends back
	// in answer finds the stream already detached.
	s.finishWithError(proxErr, nil)
	s.t.ResetStream(uint64(replyCode))
}

// finishWithError fails the transaction once; a detached stream is left
// alone so its handler never sees a second OnError.
func (s *Stream) finishWithError(proxErr ProxygenError, cause error) {
	if s.detached {
		return
	}
	for _, ev := range s.events.cancel() {
		s.fireByteEvent(ev, false)
	}
	if s.handler != nil {
		s.handler.OnError(&StreamError{StreamID: s.id, Proxygen: proxErr, cause: cause})
	}
	s.detach()
}

func (s *Stream) fireByteEvent(ev byteEvent, acked bool) {
	if s.handler == nil {
		return
	}
	switch ev.kind {
	case eventLastByteSent:
		if acked {
			s.handler.OnEgressLastByteAck()
		} else {
			s.handler.OnDeliveryCanceled()
		}
	case eventLastHeaderAcked, eventBodyByteAcked:
		if acked {
			s.handler.OnPartialReliabilityAck(ev.offset)
		}
	}
}

func (s *Stream) detach() {
	if s.detached {
		return
	}
	s.detached = true
	s.sess.metrics().streamClosed("detach")
}

// onDeliveryAck is registered with the transport via
// RegisterDeliveryCallback for every byte-event offset armed by the
// scheduler (spec §4.5, §9).
func (s *Stream) onDeliveryAck(offset uint64, acked bool) {
	for _, ev := range s.events.ack(offset) {
		s.fireByteEvent(ev, acked)
	}
	s.sess.metrics().bytesDelivered(int(offset))
	s.sess.checkForDetach(s)
}
