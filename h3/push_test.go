package h3

import (
	"context"
	"testing"

	"github.com/costinm/h3mux/transport"
)

// pushPromiseCodec simulates a real HTTP/3 codec decoding a response whose
// header block carries a push promise, then the response body.
type pushPromiseCodec struct {
	pushID uint64
}

func (c *pushPromiseCodec) Feed(data []byte, cb CodecCallbacks) (int, error) {
	cb.OnPushPromise(c.pushID, []HeaderField{{Name: ":path", Value: "/style.css"}})
	cb.OnHeadersComplete(nil)
	cb.OnBody(data)
	return len(data), nil
}

func (c *pushPromiseCodec) EncodeHeaders(dst []byte, headers []HeaderField) []byte { return dst }
func (c *pushPromiseCodec) EncodeBody(dst []byte, body []byte, last bool) []byte   { return append(dst, body...) }

// Push promise: the parent transaction's codec decodes a push promise,
// which registers the push id against the transaction's handler; the
// matching PUSH stream then arrives and its content routes to that same
// handler (spec §4.5 "Push promise").
func TestPushPromiseBindsContentToParentHandler(t *testing.T) {
	client, server := transport.NewLoopbackPair()

	clientSess, err := NewClientSession(context.Background(), client, SessionConfig{ALPN: "h3-27"})
	if err != nil {
		t.Fatalf("client session: %v", err)
	}
	_, err = NewServerSession(context.Background(), server, SessionConfig{ALPN: "h3-27"})
	if err != nil {
		t.Fatalf("server session: %v", err)
	}

	parentHandler := &recordingHandler{}
	st, err := clientSess.newTransaction(parentHandler)
	if err != nil {
		t.Fatalf("newTransaction: %v", err)
	}
	st.codec = &pushPromiseCodec{pushID: 7}
	st.readBuf.Write([]byte("response-headers-and-body"))
	st.drainIngress()

	if len(parentHandler.pushPromises) != 1 || parentHandler.pushPromises[0] != 7 {
		t.Fatalf("expected OnPushPromiseHeadersComplete(7), got %v", parentHandler.pushPromises)
	}
	if _, pending := clientSess.pendingPushes[7]; !pending {
		t.Fatal("expected push id 7 to be registered as pending")
	}

	pushUs, err := server.CreateUniStream(context.Background())
	if err != nil {
		t.Fatalf("create push uni stream: %v", err)
	}
	preface := appendVarint(nil, uint64(StreamTypePush))
	preface = appendVarint(preface, 7)
	preface = append(preface, []byte("pushed-content")...)
	if _, err := pushUs.WriteChain(preface, false); err != nil {
		t.Fatalf("write push preface: %v", err)
	}

	pushStream := clientSess.registry.find(StreamID(pushUs.ID()))
	if pushStream == nil {
		t.Fatal("expected the push stream to be registered in the request map")
	}
	if pushStream.pushID == nil || *pushStream.pushID != 7 {
		t.Fatalf("expected pushID 7 bound on the new stream, got %v", pushStream.pushID)
	}
	if pushStream.handler != parentHandler {
		t.Fatal("expected the push stream to share the parent transaction's handler")
	}

	pushStream.drainIngress()
	// The shared handler already holds the parent's own body from the
	// drainIngress above; the pushed content follows it exactly once.
	if string(parentHandler.body) != "response-headers-and-body"+"pushed-content" {
		t.Fatalf("expected pushed content delivered via parent handler after the parent body, got %q", parentHandler.body)
	}
	if _, stillPending := clientSess.pendingPushes[7]; stillPending {
		t.Fatal("expected pending push entry to be consumed once bound")
	}
}
