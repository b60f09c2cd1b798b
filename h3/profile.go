package h3

import "fmt"

// Profile abstracts the wire-level differences between the ALPN variants a
// Session can speak (spec §4.1, §6: HTTP/3, Legacy-H1-Framed,
// Legacy-H1-Unframed). The session orchestrator, stream registry, dispatcher
// and drain state machine are all written once against this interface; only
// a Profile implementation knows what a preface byte means or how many
// control streams a role must open. This mirrors the way the teacher's h2
// package kept a single Framer and varied behavior through small
// role-specific branches — here the branch point is promoted to a type so
// each variant lives in its own file instead of switch statements scattered
// through session.go.
type Profile interface {
	Name() string

	// RequiredEgressControlStreams lists the unidirectional stream types this
	// profile must open immediately on session start, in order (spec §4.4:
	// HTTP/3 opens CONTROL then the two QPACK streams; Legacy-H1-Framed opens
	// a single H1Q_CONTROL stream; Legacy-H1-Unframed opens none).
	RequiredEgressControlStreams() []ControlStreamType

	// ValidateNewPeerStream is called by the dispatcher once a unidirectional
	// stream's preface has decoded to a ControlStreamType. It returns an error
	// if the profile forbids the type (e.g. PUSH streams when the peer is not
	// allowed to push) or if a second instance of a type limited to one
	// (CONTROL, the QPACK streams) arrives (spec §4.2, §6 "wrong stream
	// count").
	ValidateNewPeerStream(t ControlStreamType, alreadyOpen map[ControlStreamType]bool) error

	// ValidateNewPeerBidiStream is called whenever the peer opens a new
	// bidirectional request stream, before it is registered. Legacy-H1-
	// Unframed permits only bidirectional client-initiated streams (spec
	// §4.1): a client-role session seeing the peer (its server) open one is
	// a protocol violation. HTTP/3 and Legacy-H1-Framed place no such
	// restriction.
	ValidateNewPeerBidiStream(role Role) error

	// ParsePreface reads the unidirectional-stream type tag from the front of
	// buf. It returns errNeedMoreBytes if buf's prefix is incomplete.
	// Legacy-H1-Unframed never opens unidirectional streams and returns an
	// error if called at all.
	ParsePreface(buf []byte) (t ControlStreamType, n int, err error)

	// EncodeGoAway renders a GOAWAY announcement (the last stream id the
	// sender promises to process) into the profile's wire form. For
	// Legacy-H1-Unframed, which has no control stream, it returns ok=false
	// and drain() only moves the state to CLOSE_SENT without sending
	// anything (spec §4.7, Legacy-H1-Unframed branch).
	EncodeGoAway(lastStreamID StreamID) (frame []byte, ok bool)

	// AbortCode maps a local cause for aborting a request stream to the reset
	// code the profile puts on the wire (spec §4.5 reset table; delegated to
	// mapResetCode for the codes shared across profiles).
	AbortCode(role Role, haveIngress bool) (ProxygenError, ErrorCode)

	// PartialReliabilitySupported reports whether streams of this profile get
	// partial-reliability state (spec §4.8). Legacy-H1-Framed and
	// Legacy-H1-Unframed never advertise partial reliability.
	PartialReliabilitySupported() bool

	// EncodeSettings renders the local SETTINGS announcement for the primary
	// control stream. It must be the first thing queued on that stream (spec
	// §4.4 invariant: "No egress bytes for any stream precede the first
	// SETTINGS frame on the control stream"). Legacy-H1-Unframed has no
	// control stream and returns ok=false.
	EncodeSettings(s Settings) (frame []byte, ok bool)
}

// SelectProfile resolves the Profile for a negotiated ALPN token (spec §6
// GLOSSARY "ALPN"). An unrecognized token is a connection-level error: the
// session core cannot safely guess wire semantics.
func SelectProfile(alpn string) (Profile, error) {
	switch alpn {
	case "h3-fb-05", "h3-27":
		return h3Profile{}, nil
	case "h1q-fb-v2":
		return h1FramedProfile{}, nil
	case "h1q-fb", "h1q", "hq-27":
		return h1UnframedProfile{}, nil
	default:
		return nil, fmt.Errorf("h3mux: unrecognized ALPN %q", alpn)
	}
}
