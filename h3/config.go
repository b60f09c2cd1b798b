package h3

import (
	"github.com/rs/zerolog"

	"github.com/costinm/h3mux/transport"
)

// Role re-exports transport.Role: the session's role determines which
// parity of stream id it initiates (spec §6 GLOSSARY, §4.5 "Reset
// handling" role branches).
type Role = transport.Role

const (
	RoleClient = transport.RoleClient
	RoleServer = transport.RoleServer
)

// Settings are the connection-level HTTP settings exchanged on the control
// stream (framed profiles) — the subset the session core itself cares about.
// Most SETTINGS parameters (header table size, etc.) belong to the codec and
// are opaque to the session; these are the ones that change session
// behavior.
type Settings struct {
	MaxFieldSectionSize uint64
	QPACKMaxTableCap    uint64
	QPACKBlockedStreams uint64
	EnableConnectProto  bool
}

// SETTINGS identifiers, registered values from RFC 9114/9204; the session
// core only ever needs to write these four, so they live here rather than in
// a full settings-registry type.
const (
	settingsKeyMaxFieldSectionSize = 0x06
	settingsKeyQPACKMaxTableCap    = 0x01
	settingsKeyQPACKBlockedStreams = 0x07
	settingsKeyEnableConnectProto  = 0x08
)

// SessionConfig configures a Session at construction. It is a plain struct,
// not a viper/HCL-loaded config object: a Session is a library entry point
// embedded by a caller that already has its own config story, the way the
// teacher's H2Config is constructed directly by NewConnection's caller.
type SessionConfig struct {
	// ALPN is the negotiated application-protocol identifier; it selects the
	// Profile (spec §4.1, §6).
	ALPN string

	Ingress Settings
	Egress  Settings

	// PartialReliabilityEnabled turns on §4.8 for bidirectional streams
	// created on this session.
	PartialReliabilityEnabled bool

	// MaxReadsPerLoop bounds how many transport read events are serviced per
	// orchestrator tick (spec §5, default 16 if zero).
	MaxReadsPerLoop int

	Log *zerolog.Logger

	Metrics *Metrics

	// onNewPeerStream, if set, is invoked for every server-role accepted
	// peer bidirectional stream (the server-side equivalent of
	// newTransaction for client-initiated requests).
	onNewPeerStream func(*Stream)
}

// OnNewPeerStream registers the server-role accept hook (spec §6 Upper
// contract; the spec's per-transaction methods apply equally to streams
// the peer opens, so the caller needs a way to attach a TransactionHandler
// to them).
func (c *SessionConfig) OnNewPeerStream(fn func(*Stream)) { c.onNewPeerStream = fn }

func (c *SessionConfig) maxReadsPerLoop() int {
	if c.MaxReadsPerLoop > 0 {
		return c.MaxReadsPerLoop
	}
	return 16
}

func (c *SessionConfig) logger() zerolog.Logger {
	if c.Log != nil {
		return *c.Log
	}
	l := zerolog.Nop()
	return l
}
