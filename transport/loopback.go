package transport

import (
	"context"
	"fmt"
	"sync"
)

// NewLoopbackPair builds two Session values wired directly to each other,
// entirely in memory — no net.Conn, no goroutines. It plays the role the
// teacher's h2_test.go ClientServerTransport plays for the HTTP/2 transport:
// a hand-rolled loopback used to drive the session core's tests without a
// real QUIC connection.
//
// Unlike a real QUIC transport, delivery acknowledgement is never automatic:
// call Ack on the sending side's Session to simulate the peer having
// acknowledged bytes up to an offset. This makes two-step sequences like the
// double-GOAWAY drain (spec boundary scenario S3) and flow-control unblock
// (S6) deterministic to test.
func NewLoopbackPair() (client, server *LoopbackSession) {
	client = newLoopbackSession(RoleClient)
	server = newLoopbackSession(RoleServer)
	client.peer = server
	server.peer = client
	return client, server
}

type pendingDelivery struct {
	offset uint64
	cb     DeliveryCallback
}

type loopbackStream struct {
	id    StreamID
	owner *LoopbackSession

	mu           sync.Mutex
	peekBuf      []byte
	readCallback func()
	peekCallback func()

	writtenOffset uint64
	finSent       bool
	resetCode     *uint64
	stoppedCode   *uint64

	dataExpiredCb  func(uint64)
	dataRejectedCb func(uint64)
	resetCallback  func(uint64)

	deliveries []pendingDelivery
}

func (s *loopbackStream) ID() StreamID { return s.id }

func (s *loopbackStream) SetPeekCallback(cb func()) {
	s.mu.Lock()
	s.peekCallback = cb
	hasData := len(s.peekBuf) > 0
	s.mu.Unlock()
	if hasData && cb != nil {
		cb()
	}
}

func (s *loopbackStream) SetReadCallback(cb func()) {
	s.mu.Lock()
	s.readCallback = cb
	hasData := len(s.peekBuf) > 0
	s.mu.Unlock()
	if hasData && cb != nil {
		cb()
	}
}

func (s *loopbackStream) Peek() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.peekBuf...)
}

func (s *loopbackStream) Consume(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.peekBuf) {
		s.peekBuf = nil
		return
	}
	s.peekBuf = s.peekBuf[n:]
}

func (s *loopbackStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peekBuf) == 0 {
		return 0, nil
	}
	n := copy(p, s.peekBuf)
	s.peekBuf = s.peekBuf[n:]
	return n, nil
}

func (s *loopbackStream) StopSending(code uint64) {
	s.mu.Lock()
	s.stoppedCode = &code
	s.mu.Unlock()
}

func (s *loopbackStream) SetDataExpiredCallback(cb func(uint64))  { s.dataExpiredCb = cb }
func (s *loopbackStream) SetDataRejectedCallback(cb func(uint64)) { s.dataRejectedCb = cb }
func (s *loopbackStream) SetResetCallback(cb func(uint64))        { s.resetCallback = cb }

func (s *loopbackStream) SendDataExpired(offset uint64) error {
	if peer := s.owner.peerStream(s.id); peer != nil && peer.dataExpiredCb != nil {
		peer.dataExpiredCb(offset)
	}
	return nil
}

func (s *loopbackStream) SendDataRejected(offset uint64) error {
	if peer := s.owner.peerStream(s.id); peer != nil && peer.dataRejectedCb != nil {
		peer.dataRejectedCb(offset)
	}
	return nil
}

func (s *loopbackStream) ResetStream(code uint64) {
	s.mu.Lock()
	s.resetCode = &code
	s.mu.Unlock()
	s.failDeliveries()
	if peer := s.owner.peerStream(s.id); peer != nil && peer.resetCallback != nil {
		peer.resetCallback(code)
	}
}

func (s *loopbackStream) failDeliveries() {
	s.mu.Lock()
	pending := s.deliveries
	s.deliveries = nil
	s.mu.Unlock()
	for _, d := range pending {
		d.cb(d.offset, false)
	}
}

func (s *loopbackStream) WriteChain(p []byte, fin bool) (int, error) {
	// A tracked send window caps the write; with no credit it returns (0, nil).
	if w := s.owner.StreamSendWindow(s.id); uint64(len(p)) > w {
		p, fin = p[:w], false
	}
	s.mu.Lock()
	if s.finSent {
		s.mu.Unlock()
		return 0, fmt.Errorf("h3mux/transport: write after FIN on stream %d", s.id)
	}
	s.writtenOffset += uint64(len(p))
	if fin {
		s.finSent = true
	}
	s.mu.Unlock()
	s.owner.consumeStreamWindow(s.id, len(p))

	if peer := s.owner.peerStream(s.id); peer != nil {
		peer.deliver(p)
	}
	return len(p), nil
}

// deliver appends bytes arriving from the peer and fires whichever callback
// (peek or read) is currently armed, synchronously — the session core is
// single-threaded cooperative, so there is no goroutine here (spec §5).
func (s *loopbackStream) deliver(p []byte) {
	s.mu.Lock()
	s.peekBuf = append(s.peekBuf, p...)
	peekCb := s.peekCallback
	readCb := s.readCallback
	s.mu.Unlock()

	if readCb != nil {
		readCb()
	} else if peekCb != nil {
		peekCb()
	}
}

// LoopbackSession is an in-memory Session implementation for tests.
type LoopbackSession struct {
	role Role
	peer *LoopbackSession

	mu              sync.Mutex
	nextBidiID      int64
	nextUniID       int64
	streams         map[StreamID]*loopbackStream
	connSendWindow  uint64
	streamWindows   map[StreamID]uint64
	closed          bool

	onNewBidi    func(Stream)
	onNewUni     func(ReceiveStream)
	onWriteReady func(int)
	onWriteErr   func(error)
	onConnEnd    func(error)
	onFlowUpdate func(StreamID, uint64)
}

func newLoopbackSession(role Role) *LoopbackSession {
	bidiBase, uniBase := int64(0), int64(2)
	if role == RoleServer {
		bidiBase, uniBase = 1, 3
	}
	return &LoopbackSession{
		role:           role,
		streams:        map[StreamID]*loopbackStream{},
		connSendWindow: 1 << 30,
		streamWindows:  map[StreamID]uint64{},
		nextBidiID:     bidiBase,
		nextUniID:      uniBase,
	}
}

func (l *LoopbackSession) Role() Role { return l.role }

func (l *LoopbackSession) Info() Info {
	return Info{ALPN: "loopback", RemoteAddr: "loopback-peer", LocalAddr: "loopback-self"}
}

func (l *LoopbackSession) newStream(id StreamID) *loopbackStream {
	s := &loopbackStream{id: id, owner: l}
	l.mu.Lock()
	l.streams[id] = s
	l.mu.Unlock()
	return s
}

func (l *LoopbackSession) peerStream(id StreamID) *loopbackStream {
	if l.peer == nil {
		return nil
	}
	l.peer.mu.Lock()
	defer l.peer.mu.Unlock()
	return l.peer.streams[id]
}

func (l *LoopbackSession) CreateBidiStream(_ context.Context) (Stream, error) {
	l.mu.Lock()
	id := StreamID(l.nextBidiID)
	l.nextBidiID += 4
	l.mu.Unlock()

	local := l.newStream(id)
	remote := l.peer.newStream(id)
	if l.peer.onNewBidi != nil {
		l.peer.onNewBidi(remote)
	}
	return local, nil
}

func (l *LoopbackSession) CreateUniStream(_ context.Context) (SendStream, error) {
	l.mu.Lock()
	id := StreamID(l.nextUniID)
	l.nextUniID += 4
	l.mu.Unlock()

	local := l.newStream(id)
	remote := l.peer.newStream(id)
	if l.peer.onNewUni != nil {
		l.peer.onNewUni(remote)
	}
	return local, nil
}

func (l *LoopbackSession) OnNewBidiStream(cb func(Stream))         { l.onNewBidi = cb }
func (l *LoopbackSession) OnNewUniStream(cb func(ReceiveStream))   { l.onNewUni = cb }
func (l *LoopbackSession) OnConnectionWriteReady(cb func(int))     { l.onWriteReady = cb }
func (l *LoopbackSession) OnConnectionWriteError(cb func(error))   { l.onWriteErr = cb }
func (l *LoopbackSession) OnConnectionEnd(cb func(error))          { l.onConnEnd = cb }
func (l *LoopbackSession) OnFlowControlUpdate(cb func(StreamID, uint64)) { l.onFlowUpdate = cb }

func (l *LoopbackSession) RegisterDeliveryCallback(id StreamID, offset uint64, cb DeliveryCallback) {
	s := l.streams[id]
	if s == nil {
		l.mu.Lock()
		s = l.streams[id]
		l.mu.Unlock()
	}
	if s == nil {
		cb(offset, false)
		return
	}
	s.mu.Lock()
	s.deliveries = append(s.deliveries, pendingDelivery{offset: offset, cb: cb})
	s.mu.Unlock()
}

// Ack simulates the peer having acknowledged all bytes up to and including
// offset on the given local stream, firing and removing due delivery
// callbacks (spec §9 byte-event tracker: "fire and remove all events with
// offset <= O").
func (l *LoopbackSession) Ack(id StreamID, offset uint64) {
	l.mu.Lock()
	s := l.streams[id]
	l.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	var fire []pendingDelivery
	var keep []pendingDelivery
	for _, d := range s.deliveries {
		if d.offset <= offset {
			fire = append(fire, d)
		} else {
			keep = append(keep, d)
		}
	}
	s.deliveries = keep
	s.mu.Unlock()
	for _, d := range fire {
		d.cb(d.offset, true)
	}
}

// StreamStopCode reports whether id has had StopSending called on it, and
// with what code — used by tests asserting the dispatcher's STOP_SENDING
// outcome (spec boundary scenario S2).
func (l *LoopbackSession) StreamStopCode(id StreamID) (uint64, bool) {
	l.mu.Lock()
	s, ok := l.streams[id]
	l.mu.Unlock()
	if !ok {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stoppedCode == nil {
		return 0, false
	}
	return *s.stoppedCode, true
}

// StreamResetCode reports whether ResetStream has been called on id, and
// with what code — used by tests asserting a profile-level bidi-stream
// rejection.
func (l *LoopbackSession) StreamResetCode(id StreamID) (uint64, bool) {
	l.mu.Lock()
	s, ok := l.streams[id]
	l.mu.Unlock()
	if !ok {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetCode == nil {
		return 0, false
	}
	return *s.resetCode, true
}

// SetStreamSendWindow configures the credit StreamSendWindow reports for
// id, and if it becomes nonzero fires OnFlowControlUpdate (spec boundary
// scenario S6). Unlike a raw MAX_STREAM_DATA value, this is modeled as
// currently-available credit: WriteChain on this stream decrements it, so
// tests can express "exactly N bytes may go out before the next window
// update" the way S6 requires.
func (l *LoopbackSession) SetStreamSendWindow(id StreamID, window uint64) {
	l.mu.Lock()
	l.streamWindows[id] = window
	cb := l.onFlowUpdate
	l.mu.Unlock()
	if window > 0 && cb != nil {
		cb(id, window)
	}
}

// consumeStreamWindow decrements a tracked window by n bytes written; a
// stream with no explicit window set (the common case in tests that don't
// care about flow control) stays untracked and always reports the default
// unbounded window.
func (l *LoopbackSession) consumeStreamWindow(id StreamID, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.streamWindows[id]; ok {
		if uint64(n) >= w {
			l.streamWindows[id] = 0
		} else {
			l.streamWindows[id] = w - uint64(n)
		}
	}
}

func (l *LoopbackSession) SetConnectionSendWindow(window uint64) {
	l.mu.Lock()
	l.connSendWindow = window
	l.mu.Unlock()
}

func (l *LoopbackSession) ConnectionSendWindow() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connSendWindow
}

func (l *LoopbackSession) StreamSendWindow(id StreamID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.streamWindows[id]; ok {
		return w
	}
	return 1 << 30
}

// DeliverWriteReady invokes the registered write-ready callback with the
// given budget, simulating the transport granting a write opportunity.
func (l *LoopbackSession) DeliverWriteReady(maxToSend int) {
	if l.onWriteReady != nil {
		l.onWriteReady(maxToSend)
	}
}

func (l *LoopbackSession) Close(code uint64, reason string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	streams := make([]*loopbackStream, 0, len(l.streams))
	for _, s := range l.streams {
		streams = append(streams, s)
	}
	l.mu.Unlock()

	for _, s := range streams {
		s.failDeliveries()
	}
	if l.peer != nil && l.peer.onConnEnd != nil {
		l.peer.onConnEnd(fmt.Errorf("h3mux/transport: peer closed connection: code=%d reason=%q", code, reason))
	}
	return nil
}
