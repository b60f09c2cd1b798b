package h3

// TransactionHandler is the upper HTTP transaction layer's callback
// surface (spec §1 "the HTTP transaction object... its user-facing handler
// API" is an external collaborator; TransactionHandler is that seam).
//
// Exactly one of OnError or OnMessageComplete fires per transaction (spec
// §8 testable property 6); OnEgressLastByteAck/OnDeliveryCanceled are
// mutually exclusive per sendEOM call (testable property 9).
type TransactionHandler interface {
	OnHeadersComplete(headers []HeaderField)
	OnBody(data []byte)
	OnTrailers(headers []HeaderField)
	OnMessageComplete()
	OnError(err error)

	// OnUnacknowledged marks the transaction retry-safe (spec §4.5: code
	// REQUEST_REJECTED "marks the transaction as unacknowledged").
	OnUnacknowledged()

	// OnEgressLastByteAck/OnDeliveryCanceled report the terminal outcome of a
	// sendEOM's delivery-tracked last byte (spec §9 property 9).
	OnEgressLastByteAck()
	OnDeliveryCanceled()

	// OnPartialReliabilityAck reports a body-offset acknowledgement when
	// partial reliability is enabled (spec §4.5 "last-header-acked,
	// body-byte-acked events").
	OnPartialReliabilityAck(offset uint64)

	// OnWriteReady is the scheduler's invitation to append more body bytes,
	// up to canSend, honoring the stream's priority share ratio (spec §4.6
	// step 3). Implementations that have no more data to give simply return.
	OnWriteReady(canSend int, shareRatio float64)

	// OnPushPromiseHeadersComplete fires on the parent stream when a push
	// promise's header block finishes decoding, carrying the push id the
	// new ingress push stream will bind to (spec §4.5 "Push promise").
	OnPushPromiseHeadersComplete(pushID uint64, headers []HeaderField)
}

// newTransaction creates a new outgoing request stream bound to handler —
// the client-role entry point of the Upper contract (spec §6
// "newTransaction(handler)"). It returns a ConnectionError with code
// ErrNoError when the local drain has reached SECOND_GOAWAY or DONE, or
// when the new stream id lies beyond the id of a GOAWAY received from the
// peer; in the second case handler.OnUnacknowledged is called first (spec
// §8 testable property 2).
func (sess *Session) newTransaction(handler TransactionHandler) (*Stream, error) {
	if sess.drainState >= drainFirstGoAway && sess.localGoAwayExcludes() {
		return nil, connectionErrorf(ErrNoError, nil, "newTransaction: session is draining")
	}
	t, err := sess.transport.CreateBidiStream(sess.ctx)
	if err != nil {
		return nil, err
	}
	id := StreamID(t.ID())
	if sess.peerMaxStreamID >= 0 && id > sess.peerMaxStreamID {
		if handler != nil {
			handler.OnUnacknowledged()
		}
		return nil, connectionErrorf(ErrNoError, nil, "newTransaction: beyond peer GOAWAY limit")
	}
	s := newStream(sess, id, t, sess.role)
	s.handler = handler
	sess.registry.addRequest(s)
	sess.wireStreamCallbacks(s)
	sess.metrics().streamOpened()
	return s, nil
}

func (sess *Session) localGoAwayExcludes() bool {
	return sess.drainState == drainSecondGoAway || sess.drainState == drainDone
}
