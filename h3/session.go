package h3

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/costinm/h3mux/transport"
)

// Session is the HTTP-over-QUIC session core: it multiplexes many request
// streams over one transport.Session, owns the control streams the active
// Profile requires, and runs the drain/shutdown state machine (spec §3
// "Session").
//
// Session is single-threaded cooperative (spec §5): every method here is
// meant to run on whatever single goroutine drives the owning transport's
// callbacks. There is no internal locking.
type Session struct {
	Events

	ctx    context.Context
	cancel context.CancelFunc

	role      Role
	transport transport.Session
	profile   Profile
	config    SessionConfig
	log       zerolog.Logger

	registry   *registry
	scheduler  *scheduler
	dispatcher *dispatcher

	drainState drainState

	maxIncomingStreamID StreamID
	peerMaxStreamID     StreamID

	// deferredDrop is the single-slot "run at end of this loop iteration"
	// latch for a forced connection drop requested during a reentrant
	// callback (spec §5 "Suspension points").
	deferredDrop *ConnectionError

	readsThisLoop int

	// inFlightGuards counts externally-invoked methods currently executing
	// that might destroy streams or the session; destroyOnce only actually
	// destroys once this reaches zero (spec §5 "Reentrancy discipline",
	// §9 "Destructor guards").
	inFlightGuards int
	pendingDestroy bool
	destroyed      bool

	pendingReadSet map[StreamID]bool

	// pendingPushes maps a promised push id to the parent transaction's
	// handler, from the moment a codec reports OnPushPromise until the
	// matching PUSH unidirectional stream arrives and binds to it (spec
	// §4.5 "Push promise").
	pendingPushes map[uint64]TransactionHandler
}

// NewSession constructs a Session bound to t, selecting the Profile from
// cfg.ALPN (spec §4.1, §6 "unknown strings fail session setup"). Required
// egress control streams are created immediately (spec Data Model
// "Lifecycle"); failure to create any of them is a fatal session error
// (spec §4.4 invariant).
func NewSession(ctx context.Context, role Role, t transport.Session, cfg SessionConfig) (*Session, error) {
	profile, err := SelectProfile(cfg.ALPN)
	if err != nil {
		// spec §7(d): unknown ALPN is an immediate CONNECT_FAILED drop.
		return nil, connectFailedErrorf(err, "session setup: %v", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		ctx:                 sctx,
		cancel:              cancel,
		role:                role,
		transport:           t,
		profile:             profile,
		config:              cfg,
		log:                 cfg.logger(),
		registry:            newRegistry(),
		peerMaxStreamID:     MaxStreamID,
		maxIncomingStreamID: -1,
		pendingReadSet:      map[StreamID]bool{},
		pendingPushes:       map[uint64]TransactionHandler{},
	}
	sess.scheduler = newScheduler(sess)
	sess.dispatcher = newDispatcher(sess)

	if err := sess.createEgressControlStreams(); err != nil {
		cancel()
		return nil, err
	}
	sess.wireTransportCallbacks()
	return sess, nil
}

func (sess *Session) metrics() *Metrics { return sess.config.Metrics }

// Role reports whether this session is acting as client or server.
func (sess *Session) Role() Role { return sess.role }

// createEgressControlStreams implements spec §4.4's setup invariant: exactly
// the egress control streams the profile requires are created up front.
func (sess *Session) createEgressControlStreams() error {
	for _, t := range sess.profile.RequiredEgressControlStreams() {
		us, err := sess.transport.CreateUniStream(sess.ctx)
		if err != nil {
			// spec §7(d): control-stream creation failure is CONNECT_FAILED.
			return connectFailedErrorf(err, "failed to create required %s stream", t)
		}
		preface := appendVarint(nil, uint64(t))
		if _, werr := us.WriteChain(preface, false); werr != nil {
			return connectFailedErrorf(werr, "failed to write %s preface", t)
		}
		ctrl := newControlStream(t, us)
		ctrl.bytesWritten = len(preface) // the preface occupies the stream's first bytes
		sess.registry.addControl(ctrl)
	}

	// Invariant: the first bytes ever queued on the primary control stream
	// are the local SETTINGS frame, before any request stream exists to
	// queue competing egress (spec §4.4, boundary scenario S1).
	if ctrl := sess.primaryControlStream(); ctrl != nil {
		if frame, ok := sess.profile.EncodeSettings(sess.config.Egress); ok {
			ctrl.appendEgress(frame)
		}
	}
	return nil
}

func (sess *Session) primaryControlStream() *controlStream {
	for _, t := range sess.profile.RequiredEgressControlStreams() {
		if c := sess.registry.findByType(t); c != nil {
			return c
		}
	}
	return nil
}

func (sess *Session) wireTransportCallbacks() {
	sess.transport.OnNewBidiStream(sess.onNewPeerBidiStream)
	sess.transport.OnNewUniStream(sess.dispatcher.onNewPeerUniStream)
	sess.transport.OnConnectionWriteReady(sess.onConnectionWriteReady)
	sess.transport.OnConnectionWriteError(sess.onConnectionWriteError)
	sess.transport.OnConnectionEnd(sess.onConnectionEnd)
	sess.transport.OnFlowControlUpdate(func(id transport.StreamID, window uint64) {
		sess.scheduler.onFlowControlUpdate(StreamID(id), window)
	})
}

func (sess *Session) wireStreamCallbacks(s *Stream) {
	s.t.SetReadCallback(s.onReadable)
	s.t.SetResetCallback(s.onPeerReset)
	if s.pr != nil {
		s.t.SetDataExpiredCallback(s.onDataExpired)
		s.t.SetDataRejectedCallback(s.onDataRejected)
	}
}

func (sess *Session) onNewPeerBidiStream(t transport.Stream) {
	id := StreamID(t.ID())
	if id > sess.maxIncomingStreamID {
		sess.maxIncomingStreamID = id // invariant 1
	}
	if verr := sess.profile.ValidateNewPeerBidiStream(sess.role); verr != nil {
		if rej, ok := verr.(*StreamRejectError); ok {
			t.ResetStream(uint64(rej.Code))
		} else {
			t.ResetStream(uint64(ErrWrongStream))
		}
		return
	}
	if sess.role == RoleServer && sess.drainState >= drainFirstGoAway {
		t.ResetStream(uint64(ErrRequestRejected))
		return
	}
	s := newStream(sess, id, t, sess.role)
	sess.registry.addRequest(s)
	sess.wireStreamCallbacks(s)
	sess.metrics().streamOpened()
	sess.Events.fire(EventStreamStart, sess, s)
	if sess.config.onNewPeerStream != nil {
		sess.config.onNewPeerStream(s)
	}
}

// markPendingRead implements the deferred-ingress-processing rule (spec
// §4.5: "processing is deferred to the next orchestrator tick") and the
// cross-stream QPACK unblock re-insertion (boundary scenario S4).
func (sess *Session) markPendingRead(s *Stream) {
	s.pendingRead = true
	sess.pendingReadSet[s.id] = true
}

func (sess *Session) onControlReadable(ctrl *controlStream) {
	buf := ctrl.ingress.Peek()
	if len(buf) == 0 {
		return
	}
	ctrl.ingress.Consume(len(buf))
	if err := ctrl.feed(buf, sess); err != nil {
		sess.onConnectionError(connectionErrorf(ErrClosedCriticalStream, err, "control stream %s decode error", ctrl.streamType))
	}
}

// ControlCallbacks implementation: Session itself receives decoded control
// frame events (spec §4.4).

func (sess *Session) OnSettings(s Settings) {
	sess.Events.fire(EventSettings, sess, nil)
}

func (sess *Session) OnGoAway(lastStreamID StreamID) {
	sess.onPeerGoAway(lastStreamID)
	sess.Events.fire(EventGoAway, sess, nil)
}

func (sess *Session) OnQPACKInsertCountIncrement(n uint64) {
	// Re-drive every stream that reported blocked decoding; the codec
	// itself tracks which dynamic-table entry unblocks which stream. Here
	// we conservatively re-drive every stream with ingress bytes still
	// buffered, matching spec §4.5's "re-inserted into the pending-read
	// set" behavior at the orchestrator-tick granularity this core
	// guarantees.
	sess.registry.forEach(func(s *Stream) {
		if !s.readBuf.IsEmpty() {
			sess.markPendingRead(s)
		}
	})
}

// Tick runs one orchestrator loop iteration in the exact order spec §5
// prescribes: (1) deferred drop, (2) drain accumulated reads, (3) profile
// hooks [left to the profile/codec layer], (4) write control streams,
// (5) write request streams, (6) check for shutdown.
func (sess *Session) Tick(writeBudget int) {
	sess.enterGuard()
	defer sess.exitGuard()

	if sess.deferredDrop != nil {
		drop := sess.deferredDrop
		sess.deferredDrop = nil
		sess.doDropConnection(drop)
		return
	}

	sess.readsThisLoop = 0
	pending := sess.pendingReadSet
	sess.pendingReadSet = map[StreamID]bool{}
	for id := range pending {
		if s := sess.registry.find(id); s != nil {
			s.drainIngress()
		}
	}

	sess.onConnectionWriteReady(writeBudget)
	sess.checkShutdown()
}

func (sess *Session) onConnectionWriteReady(maxToSend int) {
	budget := sess.scheduler.runControlStreams(maxToSend)
	sess.scheduler.runRequestStreams(budget)

	if sess.scheduler.hasPendingWork() {
		sess.scheduler.paused = false
	} else {
		sess.scheduler.paused = true
	}
}

func (sess *Session) onConnectionWriteError(err error) {
	sess.onConnectionError(connectionErrorf(ErrInternalError, err, "transport write error"))
}

func (sess *Session) onConnectionEnd(err error) {
	sess.onConnectionError(connectionErrorf(ErrNoError, err, "transport connection ended"))
}

// onConnectionError and onStreamError implement spec §7's propagation
// policy: transport/control-stream errors are fatal and latch a deferred
// drop rather than reentering teardown; stream errors never propagate past
// the owning transaction.
func (sess *Session) onConnectionError(err *ConnectionError) {
	if sess.deferredDrop == nil {
		sess.deferredDrop = err
	}
}

func (sess *Session) onStreamError(s *Stream, err error) {
	s.finishWithError(ErrStreamAbort, err)
}

func (sess *Session) enterGuard() { sess.inFlightGuards++ }

func (sess *Session) exitGuard() {
	sess.inFlightGuards--
	if sess.inFlightGuards == 0 && sess.pendingDestroy {
		sess.destroyNow()
	}
}

// dropConnection is the Upper contract's fatal teardown entry point (spec
// §6 "dropConnection(reason)"). If called reentrantly while a drop is
// already in progress, it is latched instead of executed immediately (spec
// §4.7 "Reentrancy: GOAWAY generation must be guarded against invocation
// during an already-in-progress drop").
func (sess *Session) dropConnection(err *ConnectionError) {
	if sess.destroyed || sess.pendingDestroy {
		return
	}
	if sess.inFlightGuards > 0 {
		if sess.deferredDrop == nil {
			sess.deferredDrop = err
		}
		return
	}
	sess.doDropConnection(err)
}

func (sess *Session) doDropConnection(err *ConnectionError) {
	sess.dispatcher.clearPending()

	var merr *multierror.Error
	sess.registry.forEach(func(s *Stream) {
		s.finishWithError(ErrConnectionReset, err)
	})
	sess.transition(drainDone)
	if cerr := sess.transport.Close(uint64(err.Code), err.Reason); cerr != nil {
		merr = multierror.Append(merr, cerr)
	}
	sess.destroyNow()
	if merr != nil {
		sess.log.Error().Err(merr).Msg("h3mux: errors during teardown")
	}
}

func (sess *Session) checkShutdown() {
	if sess.drainState == drainDone {
		sess.maybeFinishDrain()
	}
}

// checkForDetach reaps a stream once it becomes eligible for destruction
// (spec Data Model invariant a; §4.3 "A stream marked detached remains
// discoverable... until checkForDetach reaps it").
func (sess *Session) checkForDetach(s *Stream) {
	if s.eligibleForDestruction() {
		sess.registry.erase(s.id)
		sess.maybeFinishDrain()
	}
}

func (sess *Session) destroyOnce() {
	if sess.destroyed || sess.pendingDestroy {
		return
	}
	if sess.inFlightGuards > 0 {
		sess.pendingDestroy = true
		return
	}
	sess.destroyNow()
}

func (sess *Session) destroyNow() {
	if sess.destroyed {
		return
	}
	sess.destroyed = true
	sess.pendingDestroy = false
	sess.cancel()
}

// Drain begins orderly shutdown (exported Upper-contract entry point; see
// drain() in drain.go for the state machine itself).
func (sess *Session) Drain() { sess.drain() }

// DropConnection is the exported Upper-contract fatal teardown entry point.
func (sess *Session) DropConnection(reason string) {
	sess.dropConnection(connectionErrorf(ErrInternalError, nil, reason))
}

// NewTransaction is the exported Upper-contract client-role entry point.
func (sess *Session) NewTransaction(handler TransactionHandler) (*Stream, error) {
	return sess.newTransaction(handler)
}

// GetTransportInfo is the exported Upper-contract session-level info query.
func (sess *Session) GetTransportInfo() transport.Info { return sess.transport.Info() }
