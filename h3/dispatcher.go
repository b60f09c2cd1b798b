package h3

import "github.com/costinm/h3mux/transport"

// pendingStream is a peer-initiated unidirectional stream whose type
// preface has not yet been fully read (spec §4.2). It is owned by the
// dispatcher until promoted to a controlStream or rejected.
type pendingStream struct {
	id StreamID
	s  transport.ReceiveStream
}

// dispatcher resolves the type of newly accepted peer unidirectional
// streams by peeking their preface varint, then hands them to the matching
// controlStream slot or rejects them with STOP_SENDING (spec §4.2).
type dispatcher struct {
	sess *Session
}

func newDispatcher(sess *Session) *dispatcher { return &dispatcher{sess: sess} }

// onNewPeerUniStream is the transport's OnNewUniStream callback. It installs
// a peek callback so the preface can be inspected without consuming bytes
// the eventual ingress codec will need to re-read (spec §4.2: "Registers a
// peek callback on each so bytes may be inspected before consumption").
func (d *dispatcher) onNewPeerUniStream(s transport.ReceiveStream) {
	id := StreamID(s.ID())
	p := &pendingStream{id: id, s: s}
	d.sess.registry.addPending(p)
	s.SetPeekCallback(func() { d.onPeek(p) })
}

func (d *dispatcher) onPeek(p *pendingStream) {
	// Idempotent: a transport that read the peek callback before it was
	// cleared can still invoke it after the stream has been promoted or
	// rejected. Guard by checking registry membership.
	if _, stillPending := d.sess.registry.pending[p.id]; !stillPending {
		return
	}

	buf := p.s.Peek()
	t, n, err := d.sess.profile.ParsePreface(buf)
	if err == errNeedMoreBytes {
		return
	}
	if err != nil {
		d.rejectAll(p, ErrUnknownStreamType, len(buf))
		return
	}

	alreadyOpen := map[ControlStreamType]bool{}
	d.sess.registry.forEachControl(func(c *controlStream) {
		if c.ingressID != nil {
			alreadyOpen[c.streamType] = true
		}
	})
	if verr := d.sess.profile.ValidateNewPeerStream(t, alreadyOpen); verr != nil {
		if rej, ok := verr.(*StreamRejectError); ok {
			d.rejectAll(p, rej.Code, len(buf))
			return
		}
		if cerr, ok := verr.(*ConnectionError); ok {
			d.sess.onConnectionError(cerr)
			return
		}
		d.sess.onConnectionError(connectionErrorf(ErrInternalError, verr, "dispatcher: stream validation failed"))
		return
	}

	p.s.Consume(n)
	d.sess.registry.removePending(p.id)

	ctrl := d.sess.registry.findByType(t)
	if ctrl == nil {
		// The profile validated the type but we never created an egress
		// counterpart for it (shouldn't happen for required types; PUSH has
		// no egress counterpart on this side and is handled separately).
		if t == StreamTypePush {
			d.sess.onNewPushStream(p.id, p.s, buf[n:])
			return
		}
		d.rejectAll(p, ErrUnknownStreamType, len(buf))
		return
	}
	ctrl.bindIngress(p.id, p.s)

	remaining := append([]byte(nil), buf[n:]...)
	p.s.SetPeekCallback(nil)
	if len(remaining) > 0 {
		p.s.Consume(len(remaining))
		_ = ctrl.feed(remaining, d.sess)
	}
	p.s.SetReadCallback(func() { d.sess.onControlReadable(ctrl) })
}

// rejectAll implements spec §4.2's unknown-preface outcome: STOP_SENDING,
// and the full peeked buffer (varint plus whatever else had already
// arrived) is drained since no codec will ever consume it (boundary
// scenario S2: "4 bytes consumed from peek buffer after varint").
func (d *dispatcher) rejectAll(p *pendingStream, code ErrorCode, consumeAll int) {
	d.sess.registry.removePending(p.id)
	p.s.Consume(consumeAll)
	p.s.StopSending(uint64(code))
	p.s.SetPeekCallback(nil)
	p.s.SetReadCallback(nil)
}

// clearPending cancels every still-pending dispatcher callback exactly once
// (spec §4.2 "Cancellation: if the session drops while streams are
// pending, all pending callbacks must be cleared exactly once").
func (d *dispatcher) clearPending() {
	for _, p := range d.sess.registry.pending {
		p.s.SetPeekCallback(nil)
		p.s.SetReadCallback(nil)
	}
	d.sess.registry.pending = map[StreamID]*pendingStream{}
}
