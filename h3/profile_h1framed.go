package h3

// h1FramedProfile is the Legacy-H1-Framed variant: a single H1Q_CONTROL
// unidirectional stream carries GOAWAY-equivalent signaling, there is no
// QPACK and no PUSH, and partial reliability is not advertised (spec §4.1).
type h1FramedProfile struct{}

func (h1FramedProfile) Name() string { return "h1q-fb-v2" }

func (h1FramedProfile) RequiredEgressControlStreams() []ControlStreamType {
	return []ControlStreamType{StreamTypeH1QControl}
}

func (h1FramedProfile) ValidateNewPeerStream(t ControlStreamType, alreadyOpen map[ControlStreamType]bool) error {
	if t != StreamTypeH1QControl {
		return &StreamRejectError{Code: ErrUnknownStreamType}
	}
	if alreadyOpen[t] {
		return connectionErrorf(ErrWrongStreamCount, nil, "duplicate %s stream", t)
	}
	return nil
}

func (h1FramedProfile) ParsePreface(buf []byte) (ControlStreamType, int, error) {
	v, n, err := decodeVarintPrefix(buf)
	if err != nil {
		return 0, 0, err
	}
	if ControlStreamType(v) != StreamTypeH1QControl {
		return 0, 0, connectionErrorf(ErrUnknownStreamType, nil, "h1q-fb-v2: unexpected preface 0x%x", v)
	}
	return StreamTypeH1QControl, n, nil
}

func (h1FramedProfile) ValidateNewPeerBidiStream(Role) error { return nil }

func (h1FramedProfile) EncodeGoAway(lastStreamID StreamID) ([]byte, bool) {
	return appendVarint(nil, uint64(lastStreamID)), true
}

func (h1FramedProfile) AbortCode(role Role, haveIngress bool) (ProxygenError, ErrorCode) {
	return mapResetCode(role, haveIngress)
}

func (h1FramedProfile) PartialReliabilitySupported() bool { return false }

// EncodeSettings: the legacy framed variant has no SETTINGS frame of its
// own; the H1Q_CONTROL stream carries only GOAWAY-equivalent signaling.
func (h1FramedProfile) EncodeSettings(Settings) ([]byte, bool) { return nil, false }
