package h3

import (
	"context"

	"github.com/costinm/h3mux/transport"
)

// NewClientSession constructs a client-role Session (spec §3 "role
// (client/server)"). The caller drives newTransaction to issue requests.
// Peer-initiated bidirectional streams are rejected only under
// Legacy-H1-Unframed (ValidateNewPeerBidiStream); the other profiles
// register them like any peer stream.
func NewClientSession(ctx context.Context, t transport.Session, cfg SessionConfig) (*Session, error) {
	return NewSession(ctx, RoleClient, t, cfg)
}

// CloseWhenIdle starts a client-role drain; it is a no-op for servers. It
// runs the same drain() as NotifyPendingShutdown: in framed profiles the
// first GOAWAY is queued at once and the double-GOAWAY sequence follows. It
// does not wait for in-flight transactions, and it does not skip the
// GOAWAY exchange.
func (sess *Session) CloseWhenIdle() {
	if sess.role != RoleClient {
		return
	}
	sess.drain()
}
