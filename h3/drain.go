package h3

import "github.com/costinm/h3mux/transport"

// drainState enumerates the session's shutdown phases (spec Data Model,
// §4.7). Transitions only move forward within the table in §4.7 (spec §8
// testable property 3: "Drain state only progresses; it never regresses").
type drainState int

const (
	drainNone drainState = iota
	drainPending
	drainFirstGoAway
	drainSecondGoAway
	drainCloseSent
	drainCloseReceived
	drainDone
)

func (d drainState) String() string {
	switch d {
	case drainNone:
		return "NONE"
	case drainPending:
		return "PENDING"
	case drainFirstGoAway:
		return "FIRST_GOAWAY"
	case drainSecondGoAway:
		return "SECOND_GOAWAY"
	case drainCloseSent:
		return "CLOSE_SENT"
	case drainCloseReceived:
		return "CLOSE_RECEIVED"
	case drainDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// transition moves the drain state forward, recording the metric and
// refusing to regress (invariant i).
func (sess *Session) transition(to drainState) {
	if to < sess.drainState {
		return
	}
	sess.drainState = to
	sess.metrics().drainTransition(to.String())
}

// drain begins orderly shutdown (spec §4.7, Upper contract "drain"). For
// framed profiles this emits the first GOAWAY at the max-representable
// stream id. For Legacy-H1-Unframed it only moves the state to CLOSE_SENT:
// nothing is written to the wire (no `Connection: close` header, no
// half-close), and only a connection drop moves it on to DONE.
func (sess *Session) drain() {
	if sess.drainState != drainNone {
		return
	}
	sess.transition(drainPending)

	frame, ok := sess.profile.EncodeGoAway(MaxStreamID)
	if !ok {
		// Legacy-H1-Unframed: no control stream exists to carry a GOAWAY.
		// Only the state changes; no signal is sent.
		sess.transition(drainCloseSent)
		sess.maybeFinishDrain()
		return
	}

	ctrl := sess.primaryControlStream()
	if ctrl == nil {
		sess.dropConnection(connectionErrorf(ErrInternalError, nil, "drain: no control stream for profile %s", sess.profile.Name()))
		return
	}
	ctrl.appendEgress(frame)
	offset := ctrl.pendingEndOffset()
	ctrl.goAwayDeliveryArmed = true
	sess.transition(drainFirstGoAway)
	sess.metrics().goAwaySent()
	sess.transport.RegisterDeliveryCallback(ctrlEgressID(ctrl), offset, func(ackedOffset uint64, acked bool) {
		sess.onFirstGoAwayAck(acked)
	})
}

func ctrlEgressID(ctrl *controlStream) transport.StreamID {
	return transport.StreamID(ctrl.egress.ID())
}

func (sess *Session) onFirstGoAwayAck(acked bool) {
	if sess.drainState != drainFirstGoAway || !acked {
		return
	}
	ctrl := sess.primaryControlStream()
	if ctrl == nil {
		return
	}
	// Open Question (i): the second GOAWAY uses maxIncomingStreamID observed
	// at ack time, which may simply equal the initial max-varint if no new
	// peer streams were accepted meanwhile (spec §9 Open Questions, decided
	// as-is per source). maxIncomingStreamID starts at -1 ("none observed
	// yet"); substitute the first GOAWAY's own id in that case so the
	// varint encoder never sees a negative value.
	secondGoAwayID := sess.maxIncomingStreamID
	if secondGoAwayID < 0 {
		secondGoAwayID = MaxStreamID
	}
	frame, _ := sess.profile.EncodeGoAway(secondGoAwayID)
	ctrl.appendEgress(frame)
	offset := ctrl.pendingEndOffset()
	sess.transition(drainSecondGoAway)
	sess.metrics().goAwaySent()
	sess.transport.RegisterDeliveryCallback(ctrlEgressID(ctrl), offset, func(ackedOffset uint64, acked bool) {
		sess.onSecondGoAwayAck(acked)
	})
}

func (sess *Session) onSecondGoAwayAck(acked bool) {
	if sess.drainState != drainSecondGoAway || !acked {
		return
	}
	sess.transition(drainDone)
	sess.maybeFinishDrain()
}

// onPeerGoAway records the peer's advertised limit (spec §8 testable
// property 2) and fast-tracks upstream sessions toward DONE once no new
// local streams will be opened (spec §4.7 "Upstream sessions... may
// fast-track PENDING -> DONE").
func (sess *Session) onPeerGoAway(lastStreamID StreamID) {
	sess.peerMaxStreamID = lastStreamID
	sess.metrics().goAwayReceived()

	sess.registry.forEach(func(s *Stream) {
		if s.id > lastStreamID && sess.isLocallyInitiated(s.id) {
			s.finishWithError(ErrStreamUnacknowledged, nil)
		}
	})

	if sess.role == RoleClient && sess.drainState == drainPending {
		sess.transition(drainDone)
		sess.maybeFinishDrain()
	}
}

func (sess *Session) isLocallyInitiated(id StreamID) bool {
	if sess.role == RoleClient {
		return id%4 == 0
	}
	return id%4 == 1
}

// maybeFinishDrain implements invariant (ii): once DONE and stream count is
// zero, destroy exactly once.
func (sess *Session) maybeFinishDrain() {
	if sess.drainState == drainDone && sess.registry.streamCount() == 0 {
		sess.destroyOnce()
	}
}
