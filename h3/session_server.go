package h3

import (
	"context"

	"github.com/costinm/h3mux/transport"
)

// NewServerSession constructs a server-role Session. Peer-initiated
// bidirectional streams arrive through cfg.OnNewPeerStream (spec §3
// "Lifecycle": "Request streams are created on bidirectional accept
// (server)...").
func NewServerSession(ctx context.Context, t transport.Session, cfg SessionConfig) (*Session, error) {
	return NewSession(ctx, RoleServer, t, cfg)
}

// NotifyPendingShutdown is the server-role drain trigger named in spec
// §4.7's state table ("notifyPendingShutdown / closeWhenIdle").
func (sess *Session) NotifyPendingShutdown() {
	sess.drain()
}
