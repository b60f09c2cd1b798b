package h3

import "testing"

// blockingCodec simulates a header codec stalled on a QPACK dynamic-table
// entry the decoder stream hasn't caught up to: Feed reports OnBlocked and
// consumes nothing until ready is flipped on, mirroring the real codec's
// contract (spec §4.5, boundary scenario S4).
type blockingCodec struct {
	ready bool
}

func (c *blockingCodec) Feed(data []byte, cb CodecCallbacks) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if !c.ready {
		cb.OnBlocked()
		return 0, nil
	}
	cb.OnHeadersComplete(nil)
	cb.OnBody(data)
	return len(data), nil
}

func (c *blockingCodec) EncodeHeaders(dst []byte, headers []HeaderField) []byte { return dst }
func (c *blockingCodec) EncodeBody(dst []byte, body []byte, last bool) []byte   { return append(dst, body...) }

// S4 Cross-stream unblock: a request stream's header decode stalls; a QPACK
// encoder-stream insert-count increment re-inserts it into the pending-read
// set, and the next drainIngress call (what the orchestrator tick performs)
// completes the decode.
func TestCrossStreamQPACKUnblock(t *testing.T) {
	clientSess, serverSess, _, _ := newTestSessionPair(t)

	h := &recordingHandler{}
	serverSess.config.OnNewPeerStream(func(s *Stream) { s.handler = h })

	st, err := clientSess.newTransaction(&recordingHandler{})
	if err != nil {
		t.Fatalf("newTransaction: %v", err)
	}

	srv := serverSess.registry.find(StreamID(st.ID()))
	if srv == nil {
		t.Fatal("server never observed the new stream")
	}
	codec := &blockingCodec{}
	srv.codec = codec

	srv.readBuf.Write([]byte("header-block-referencing-unseen-entry"))
	srv.drainIngress()

	if len(h.headers) != 0 {
		t.Fatalf("expected header decode to stay blocked, got headers %v", h.headers)
	}
	if srv.readBuf.IsEmpty() {
		t.Fatal("blocked codec must not consume the pending bytes")
	}

	// The QPACK encoder stream's insert lands on the control callback path.
	serverSess.OnQPACKInsertCountIncrement(1)
	if !srv.pendingRead {
		t.Fatal("expected stream to be re-inserted into the pending-read set")
	}
	if !serverSess.pendingReadSet[srv.id] {
		t.Fatal("expected session pendingReadSet to contain the stalled stream")
	}

	codec.ready = true
	srv.drainIngress()

	if len(h.body) == 0 {
		t.Fatal("expected OnBody to fire once the codec unblocked")
	}
	if !srv.readBuf.IsEmpty() {
		t.Fatal("expected the unblocked codec to consume the buffered bytes")
	}
}
