package h3

import (
	"context"
	"testing"

	"github.com/costinm/h3mux/transport"
)

// SelectProfile ALPN table (spec §6): the six recognized tokens must map to
// their exact profile, and anything else must fail session setup.
func TestSelectProfileALPNTable(t *testing.T) {
	cases := []struct {
		alpn string
		name string
	}{
		{"h1q-fb", "h1q-fb"},
		{"h1q", "h1q-fb"},
		{"hq-27", "h1q-fb"},
		{"h1q-fb-v2", "h1q-fb-v2"},
		{"h3-fb-05", "h3-27"},
		{"h3-27", "h3-27"},
	}
	for _, c := range cases {
		p, err := SelectProfile(c.alpn)
		if err != nil {
			t.Errorf("SelectProfile(%q): unexpected error: %v", c.alpn, err)
			continue
		}
		if p.Name() != c.name {
			t.Errorf("SelectProfile(%q): got profile %q, want %q", c.alpn, p.Name(), c.name)
		}
	}
}

func TestSelectProfileRejectsUnknownALPN(t *testing.T) {
	if _, err := SelectProfile("spdy/3.1"); err == nil {
		t.Fatal("expected an error for an unrecognized ALPN token")
	}
}

// Legacy-H1-Unframed permits only bidirectional client-initiated streams
// (spec §4.1): a server peer-opening a bidi stream toward the client must
// be rejected rather than registered.
func TestH1UnframedRejectsServerInitiatedBidiStream(t *testing.T) {
	client, server := transport.NewLoopbackPair()

	clientSess, err := NewClientSession(context.Background(), client, SessionConfig{ALPN: "h1q-fb"})
	if err != nil {
		t.Fatalf("client session: %v", err)
	}
	if _, err := NewServerSession(context.Background(), server, SessionConfig{ALPN: "h1q-fb"}); err != nil {
		t.Fatalf("server session: %v", err)
	}

	us, err := server.CreateBidiStream(context.Background())
	if err != nil {
		t.Fatalf("create bidi stream: %v", err)
	}

	code, reset := client.StreamResetCode(transport.StreamID(us.ID()))
	if !reset {
		t.Fatal("expected the server-initiated bidi stream to be reset")
	}
	if code != uint64(ErrWrongStream) {
		t.Errorf("expected HTTP_WRONG_STREAM, got 0x%x", code)
	}
	if clientSess.registry.find(StreamID(us.ID())) != nil {
		t.Fatal("rejected stream must not be registered as a request stream")
	}
}
