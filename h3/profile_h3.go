package h3

// h3Profile is the HTTP/3 variant: a CONTROL stream plus the two QPACK
// streams are mandatory, PUSH streams are allowed, and GOAWAY and partial
// reliability both use their full HTTP/3 semantics (spec §4.1, §4.7, §4.8).
type h3Profile struct{}

func (h3Profile) Name() string { return "h3-27" }

func (h3Profile) RequiredEgressControlStreams() []ControlStreamType {
	return []ControlStreamType{StreamTypeControl, StreamTypeQPACKEncoder, StreamTypeQPACKDecoder}
}

func (h3Profile) ValidateNewPeerStream(t ControlStreamType, alreadyOpen map[ControlStreamType]bool) error {
	switch t {
	case StreamTypeControl, StreamTypeQPACKEncoder, StreamTypeQPACKDecoder:
		if alreadyOpen[t] {
			return connectionErrorf(ErrWrongStreamCount, nil, "duplicate %s stream", t)
		}
		return nil
	case StreamTypePush:
		// Push streams may recur; no single-instance constraint.
		return nil
	default:
		return &StreamRejectError{Code: ErrUnknownStreamType}
	}
}

func (h3Profile) ParsePreface(buf []byte) (ControlStreamType, int, error) {
	v, n, err := decodeVarintPrefix(buf)
	if err != nil {
		return 0, 0, err
	}
	return ControlStreamType(v), n, nil
}

func (h3Profile) ValidateNewPeerBidiStream(Role) error { return nil }

func (h3Profile) EncodeGoAway(lastStreamID StreamID) ([]byte, bool) {
	// A GOAWAY frame body is just the varint id. Nothing in this package
	// adds the HTTP/3 frame type/length prefix: drain() queues these bytes
	// on the control stream as they are.
	return appendVarint(nil, uint64(lastStreamID)), true
}

func (h3Profile) AbortCode(role Role, haveIngress bool) (ProxygenError, ErrorCode) {
	return mapResetCode(role, haveIngress)
}

func (h3Profile) PartialReliabilitySupported() bool { return true }

func (h3Profile) EncodeSettings(s Settings) ([]byte, bool) {
	var buf []byte
	buf = appendVarint(buf, settingsKeyMaxFieldSectionSize)
	buf = appendVarint(buf, s.MaxFieldSectionSize)
	buf = appendVarint(buf, settingsKeyQPACKMaxTableCap)
	buf = appendVarint(buf, s.QPACKMaxTableCap)
	buf = appendVarint(buf, settingsKeyQPACKBlockedStreams)
	buf = appendVarint(buf, s.QPACKBlockedStreams)
	if s.EnableConnectProto {
		buf = appendVarint(buf, settingsKeyEnableConnectProto)
		buf = appendVarint(buf, 1)
	}
	return buf, true
}
