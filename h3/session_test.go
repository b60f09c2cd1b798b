package h3

import (
	"context"
	"testing"

	"github.com/costinm/h3mux/transport"
)

// recordingHandler is a TransactionHandler test double that records every
// callback invocation in order, used across the boundary-scenario tests
// (spec §8) the way the teacher's h2_test.go used a fake Handler.
type recordingHandler struct {
	headers      []HeaderField
	body         []byte
	trailers     []HeaderField
	msgComplete  int
	errs         []error
	unacked      int
	lastByteAck  int
	canceled     int
	prAcks       []uint64
	pushPromises []uint64
}

func (h *recordingHandler) OnHeadersComplete(hdrs []HeaderField) { h.headers = hdrs }
func (h *recordingHandler) OnBody(data []byte)                   { h.body = append(h.body, data...) }
func (h *recordingHandler) OnTrailers(hdrs []HeaderField)        { h.trailers = hdrs }
func (h *recordingHandler) OnMessageComplete()                   { h.msgComplete++ }
func (h *recordingHandler) OnError(err error)                    { h.errs = append(h.errs, err) }
func (h *recordingHandler) OnUnacknowledged()                    { h.unacked++ }
func (h *recordingHandler) OnEgressLastByteAck()                 { h.lastByteAck++ }
func (h *recordingHandler) OnDeliveryCanceled()                  { h.canceled++ }
func (h *recordingHandler) OnPartialReliabilityAck(offset uint64) {
	h.prAcks = append(h.prAcks, offset)
}
func (h *recordingHandler) OnWriteReady(canSend int, ratio float64) {}
func (h *recordingHandler) OnPushPromiseHeadersComplete(id uint64, hdrs []HeaderField) {
	h.pushPromises = append(h.pushPromises, id)
}

func newTestSessionPair(t *testing.T) (clientSess, serverSess *Session, client, server *transport.LoopbackSession) {
	t.Helper()
	client, server = transport.NewLoopbackPair()

	var err error
	clientSess, err = NewClientSession(context.Background(), client, SessionConfig{ALPN: "h3-27"})
	if err != nil {
		t.Fatalf("client session: %v", err)
	}
	serverSess, err = NewServerSession(context.Background(), server, SessionConfig{ALPN: "h3-27"})
	if err != nil {
		t.Fatalf("server session: %v", err)
	}
	return clientSess, serverSess, client, server
}

// S1 Setup: ALPN h3-27, server role: 3 egress unidirectional streams created
// with type prefaces {0x00, 0x02, 0x03}.
func TestSetupCreatesRequiredControlStreams(t *testing.T) {
	_, serverSess, _, _ := newTestSessionPair(t)

	want := []ControlStreamType{StreamTypeControl, StreamTypeQPACKEncoder, StreamTypeQPACKDecoder}
	for _, typ := range want {
		if serverSess.registry.findByType(typ) == nil {
			t.Errorf("missing required control stream %s", typ)
		}
	}
}

// S2 Unknown preface: peer opens a unidirectional stream with an
// unrecognized type tag; expect STOP_SENDING with HTTP_UNKNOWN_STREAM_TYPE.
func TestUnknownPrefaceStopsSending(t *testing.T) {
	_, serverSess, client, server := newTestSessionPair(t)
	_ = serverSess

	us, err := client.CreateUniStream(context.Background())
	if err != nil {
		t.Fatalf("create uni stream: %v", err)
	}
	if _, err := us.WriteChain([]byte{0x21, 1, 2, 3, 4}, false); err != nil {
		t.Fatalf("write: %v", err)
	}

	code, stopped := server.StreamStopCode(transport.StreamID(us.ID()))
	if !stopped {
		t.Fatal("expected StopSending to have been called")
	}
	if code != uint64(ErrUnknownStreamType) {
		t.Errorf("expected HTTP_UNKNOWN_STREAM_TYPE, got 0x%x", code)
	}
}

// S3 First/second GOAWAY: server with two open peer streams (ids 0, 4)
// drains; the first GOAWAY's ack triggers the second — encoded with the
// highest observed peer stream id rather than the max-varint fallback —
// whose own ack moves to DONE.
func TestDrainDoubleGoAway(t *testing.T) {
	_, serverSess, client, server := newTestSessionPair(t)

	if _, err := client.CreateBidiStream(context.Background()); err != nil {
		t.Fatalf("create peer stream 0: %v", err)
	}
	if _, err := client.CreateBidiStream(context.Background()); err != nil {
		t.Fatalf("create peer stream 4: %v", err)
	}
	if serverSess.maxIncomingStreamID != 4 {
		t.Fatalf("expected maxIncomingStreamID 4, got %d", serverSess.maxIncomingStreamID)
	}

	ctrl := serverSess.primaryControlStream()
	if ctrl == nil {
		t.Fatal("no primary control stream")
	}
	sizeBeforeDrain := ctrl.writeBuf.Size()

	serverSess.drain()
	if serverSess.drainState != drainFirstGoAway {
		t.Fatalf("expected FIRST_GOAWAY, got %s", serverSess.drainState)
	}
	sizeAfterFirst := ctrl.writeBuf.Size()

	server.Ack(transport.StreamID(ctrl.egress.ID()), ctrl.pendingEndOffset())

	if serverSess.drainState != drainSecondGoAway {
		t.Fatalf("expected SECOND_GOAWAY after first ack, got %s", serverSess.drainState)
	}
	sizeAfterSecond := ctrl.writeBuf.Size()

	firstGoAway := ctrl.writeBuf.Bytes()[sizeBeforeDrain:sizeAfterFirst]
	firstID, _, err := decodeVarintPrefix(firstGoAway)
	if err != nil {
		t.Fatalf("decode first GOAWAY: %v", err)
	}
	if StreamID(firstID) != MaxStreamID {
		t.Errorf("expected first GOAWAY id %d (max varint), got %d", MaxStreamID, firstID)
	}

	secondGoAway := ctrl.writeBuf.Bytes()[sizeAfterFirst:sizeAfterSecond]
	secondID, _, err := decodeVarintPrefix(secondGoAway)
	if err != nil {
		t.Fatalf("decode second GOAWAY: %v", err)
	}
	if secondID != 4 {
		t.Errorf("expected second GOAWAY id 4 (highest observed peer stream), got %d", secondID)
	}

	server.Ack(transport.StreamID(ctrl.egress.ID()), ctrl.pendingEndOffset())
	if serverSess.drainState != drainDone {
		t.Fatalf("expected DONE after second ack, got %s", serverSess.drainState)
	}
}

// S5 Reset mapping (downstream, pre-ingress): peer resets before any bytes
// received; transaction errored with StreamAbort, session replies with
// REQUEST_REJECTED.
func TestResetMappingDownstreamPreIngress(t *testing.T) {
	clientSess, serverSess, client, _ := newTestSessionPair(t)
	_ = client

	h := &recordingHandler{}
	serverSess.config.OnNewPeerStream(func(s *Stream) { s.handler = h })

	st, err := clientSess.newTransaction(&recordingHandler{})
	if err != nil {
		t.Fatalf("newTransaction: %v", err)
	}
	st.SendHeaders(nil)

	srv := serverSess.registry.find(StreamID(st.ID()))
	if srv == nil {
		t.Fatal("server never observed the new stream")
	}
	srv.onPeerReset(uint64(ErrRequestCancelled))

	if len(h.errs) != 1 {
		t.Fatalf("expected exactly one OnError, got %d", len(h.errs))
	}
	se, ok := h.errs[0].(*StreamError)
	if !ok {
		t.Fatalf("expected *StreamError, got %T", h.errs[0])
	}
	if se.Proxygen != ErrStreamAbort {
		t.Errorf("expected StreamAbort, got %v", se.Proxygen)
	}
}

// S6 Flow-control backpressure: zero stream window defers writes; a later
// window update of 8192 flushes exactly that much and re-enqueues.
func TestFlowControlBackpressure(t *testing.T) {
	clientSess, _, client, _ := newTestSessionPair(t)

	h := &recordingHandler{}
	st, err := clientSess.newTransaction(h)
	if err != nil {
		t.Fatalf("newTransaction: %v", err)
	}

	body := make([]byte, 10*1024)
	client.SetStreamSendWindow(transport.StreamID(st.ID()), 0)
	st.SendBody(body)

	if _, blocked := clientSess.scheduler.blocked[st.id]; !blocked {
		t.Fatal("expected stream to be parked in blocked set")
	}

	clientSess.onConnectionWriteReady(1 << 20)
	if st.bytesWritten != 0 {
		t.Fatalf("expected 0 bytes written while blocked, got %d", st.bytesWritten)
	}

	client.SetStreamSendWindow(transport.StreamID(st.ID()), 8192)
	clientSess.onConnectionWriteReady(1 << 20)
	if st.bytesWritten != 8192 {
		t.Fatalf("expected 8192 bytes written after window update, got %d", st.bytesWritten)
	}
}
