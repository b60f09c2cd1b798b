package h3

// h1UnframedProfile is the Legacy-H1-Unframed variant: no control stream of
// any kind exists. Drain moves the state to CLOSE_SENT without sending a
// GOAWAY frame or any other signal (spec §4.7). The profile never opens
// unidirectional streams; if the peer opens one, ParsePreface returns an
// error and the dispatcher stops it with STOP_SENDING.
type h1UnframedProfile struct{}

func (h1UnframedProfile) Name() string { return "h1q-fb" }

func (h1UnframedProfile) RequiredEgressControlStreams() []ControlStreamType { return nil }

func (h1UnframedProfile) ValidateNewPeerStream(t ControlStreamType, _ map[ControlStreamType]bool) error {
	return &StreamRejectError{Code: ErrUnknownStreamType}
}

// ValidateNewPeerBidiStream rejects a peer-opened bidi stream seen by a
// client-role session: only the client may initiate request streams under
// this profile (spec §4.1).
func (h1UnframedProfile) ValidateNewPeerBidiStream(role Role) error {
	if role == RoleClient {
		return &StreamRejectError{Code: ErrWrongStream}
	}
	return nil
}

func (h1UnframedProfile) ParsePreface(buf []byte) (ControlStreamType, int, error) {
	return 0, 0, connectionErrorf(ErrUnknownStreamType, nil, "h1q-fb: unidirectional streams are not permitted")
}

// EncodeGoAway reports ok=false: this profile has no GOAWAY frame. The
// drain state machine then moves to CLOSE_SENT and writes nothing.
func (h1UnframedProfile) EncodeGoAway(lastStreamID StreamID) ([]byte, bool) {
	return nil, false
}

func (h1UnframedProfile) AbortCode(role Role, haveIngress bool) (ProxygenError, ErrorCode) {
	return mapResetCode(role, haveIngress)
}

func (h1UnframedProfile) PartialReliabilitySupported() bool { return false }

func (h1UnframedProfile) EncodeSettings(Settings) ([]byte, bool) { return nil, false }
