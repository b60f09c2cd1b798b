package h3

import "github.com/costinm/h3mux/transport"

// registerPushPromise records that pushID is now promised to h, so the PUSH
// stream carrying its content can find its way back to the same handler
// (spec §4.5 "Push promise").
func (sess *Session) registerPushPromise(pushID uint64, h TransactionHandler) {
	sess.pendingPushes[pushID] = h
}

// onNewPushStream is the dispatcher's hand-off once a peer unidirectional
// stream's preface has resolved to StreamTypePush (spec §4.5). The push id
// varint immediately follows the type tag on the wire; it may not have
// fully arrived yet, in which case a peek callback stays armed until it
// does.
func (sess *Session) onNewPushStream(id StreamID, rs transport.ReceiveStream, leftover []byte) {
	if _, _, err := decodeVarintPrefix(leftover); err == errNeedMoreBytes {
		rs.SetPeekCallback(func() { sess.retryPushStreamPreface(id, rs) })
		return
	}
	sess.bindPushStream(id, rs, leftover)
}

func (sess *Session) retryPushStreamPreface(id StreamID, rs transport.ReceiveStream) {
	buf := rs.Peek()
	if len(buf) == 0 {
		return
	}
	sess.bindPushStream(id, rs, buf)
}

func (sess *Session) bindPushStream(id StreamID, rs transport.ReceiveStream, buf []byte) {
	pushID, n, err := decodeVarintPrefix(buf)
	if err == errNeedMoreBytes {
		return // peek callback stays armed; onNewPushStream already set it.
	}
	if err != nil {
		rs.StopSending(uint64(ErrUnknownStreamType))
		rs.SetPeekCallback(nil)
		return
	}
	rs.Consume(n)
	rs.SetPeekCallback(nil)

	s := newStream(sess, id, pushReceiveStream{rs}, sess.role)
	s.pushID = &pushID
	s.handler = sess.pendingPushes[pushID]
	delete(sess.pendingPushes, pushID)
	// Push streams reuse the request map: a push stream is simply a
	// request stream with PushID set (registry.go).
	sess.registry.addRequest(s)
	// Move the already-peeked content into readBuf before the read callback
	// is armed, so a transport that fires it at once does not see it again.
	if remaining := buf[n:]; len(remaining) > 0 {
		rs.Consume(len(remaining))
		s.readBuf.Write(remaining)
		sess.markPendingRead(s)
	}
	sess.wireStreamCallbacks(s)
	sess.metrics().streamOpened()
}

// pushReceiveStream adapts a peer-initiated unidirectional ReceiveStream to
// the full transport.Stream interface Stream requires, since a PUSH stream
// never has an egress half on this side (spec §4.5: content flows ingress
// only, from the pushing peer). The send-side methods are unreachable in
// practice — no Upper-contract call ever sends on a push stream — and are
// no-ops rather than panics so a misuse fails soft instead of crashing the
// session.
type pushReceiveStream struct {
	transport.ReceiveStream
}

func (pushReceiveStream) WriteChain(p []byte, fin bool) (int, error) { return 0, nil }
func (pushReceiveStream) ResetStream(code uint64)                    {}
func (pushReceiveStream) SendDataExpired(offset uint64) error        { return nil }
func (pushReceiveStream) SendDataRejected(offset uint64) error       { return nil }
