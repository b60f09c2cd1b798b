package h3

import (
	"bytes"
	"errors"

	"github.com/quic-go/quic-go/quicvarint"
)

// StreamID is a QUIC stream id.
type StreamID = int64

// MaxStreamID is the largest representable QUIC stream id (2^62 - 1),
// the value the first GOAWAY of a framed profile advertises (spec §4.7,
// boundary scenario S3: "id = 2^62-1 (max varint)").
const MaxStreamID StreamID = (1 << 62) - 1

// ControlStreamType is the unidirectional stream preface tag (spec §6).
type ControlStreamType uint64

const (
	StreamTypeControl      ControlStreamType = 0x00
	StreamTypePush         ControlStreamType = 0x01
	StreamTypeQPACKEncoder ControlStreamType = 0x02
	StreamTypeQPACKDecoder ControlStreamType = 0x03
	// StreamTypeH1QControl is the Legacy-H1-Framed profile's single control
	// stream type; it is not part of the HTTP/3 stream-type space but reuses
	// the same varint preface mechanism (spec §4.1, §6).
	StreamTypeH1QControl ControlStreamType = 0x1F4170

	// streamTypeUnrecognized is a sentinel outside the preface space; it is
	// never produced by ParsePreface, and no code in this package compares
	// against it.
	streamTypeUnrecognized ControlStreamType = 1<<64 - 1
)

func (t ControlStreamType) String() string {
	switch t {
	case StreamTypeControl:
		return "CONTROL"
	case StreamTypePush:
		return "PUSH"
	case StreamTypeQPACKEncoder:
		return "QPACK_ENCODER"
	case StreamTypeQPACKDecoder:
		return "QPACK_DECODER"
	case StreamTypeH1QControl:
		return "H1Q_CONTROL"
	default:
		return "UNKNOWN"
	}
}

// errNeedMoreBytes is decodeVarintPrefix's signal that buf's contiguous
// prefix doesn't yet contain a complete integer — the dispatcher's cue to
// leave the stream pending (spec §4.2 "Integer not yet complete").
var errNeedMoreBytes = errors.New("h3mux: incomplete varint prefix")

// decodeVarintPrefix decodes a single QUIC variable-length integer from the
// front of buf, returning the value and the number of bytes it occupied.
func decodeVarintPrefix(buf []byte) (value uint64, n int, err error) {
	if len(buf) == 0 {
		return 0, 0, errNeedMoreBytes
	}
	// The top two bits of the first byte give the encoded length (RFC 9000
	// §16): 1, 2, 4, or 8 bytes.
	var need int
	switch buf[0] >> 6 {
	case 0:
		need = 1
	case 1:
		need = 2
	case 2:
		need = 4
	case 3:
		need = 8
	}
	if len(buf) < need {
		return 0, 0, errNeedMoreBytes
	}
	r := quicvarint.NewReader(bytes.NewReader(buf[:need]))
	value, err = quicvarint.Read(r)
	if err != nil {
		return 0, 0, err
	}
	return value, need, nil
}

// appendVarint appends v to buf using the QUIC variable-length integer
// encoding (used for GOAWAY stream ids and control-stream prefaces).
func appendVarint(buf []byte, v uint64) []byte {
	return quicvarint.Append(buf, v)
}
