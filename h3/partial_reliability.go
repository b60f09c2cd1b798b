package h3

import "github.com/pkg/errors"

// ErrPartialReliability is the single error enum surfaced to the caller for
// every partial-reliability mapping failure (spec §4.8 "All mapping errors
// surface as a single error enum to the caller").
type ErrPartialReliability int

const (
	PRErrNone ErrPartialReliability = iota
	PRErrNotSupported
	PRErrOffsetBeyondWritten
)

func (e ErrPartialReliability) Error() string {
	switch e {
	case PRErrNotSupported:
		return "h3mux: partial reliability not enabled for this stream"
	case PRErrOffsetBeyondWritten:
		return "h3mux: partial reliability offset beyond bytes written"
	default:
		return "h3mux: partial reliability: no error"
	}
}

// partialReliability maps stream byte offsets to body byte offsets for one
// request stream: headers consume stream bytes but not body bytes (spec
// §4.8). Only header spans are subtracted; skipped and rejected ranges are
// not taken out of the mapping.
type partialReliability struct {
	s *Stream

	// committedBody is the highest body offset passed to SkipBodyTo or
	// RejectBodyTo so far; skip/reject cannot rewind below it (Open Question
	// ii). Body bytes written by the scheduler do not move it.
	committedBody uint64

	// headerSpans records the stream-byte range of each header block written
	// and the body offset active at its start (headers advance the stream
	// offset without advancing the body offset).
	headerSpans []headerSpan
}

type headerSpan struct {
	streamStart, streamEnd uint64
	bodyOffsetAtStart      uint64
}

func newPartialReliability(s *Stream) *partialReliability {
	return &partialReliability{s: s}
}

// noteHeaderWritten records that a header block occupying
// [streamStart,streamEnd) was written, so later stream-offset to body-offset
// translation can skip over it.
func (p *partialReliability) noteHeaderWritten(streamStart, streamEnd uint64) {
	p.headerSpans = append(p.headerSpans, headerSpan{
		streamStart: streamStart, streamEnd: streamEnd, bodyOffsetAtStart: p.committedBody,
	})
}

// bodyOffset translates a stream byte offset to the corresponding body byte
// offset by subtracting the length of every header span at or before it.
func (p *partialReliability) bodyOffset(streamOffset uint64) uint64 {
	var headerBytes uint64
	for _, sp := range p.headerSpans {
		if sp.streamEnd <= streamOffset {
			headerBytes += sp.streamEnd - sp.streamStart
		}
	}
	if streamOffset < headerBytes {
		return 0
	}
	return streamOffset - headerBytes
}

// SkipBodyTo trims the local egress buffer up to bodyOffset and tells the
// transport the sender is declaring that range expired (spec §4.8, Upper
// contract "skipBodyTo"). A bodyOffset at or below the already-committed
// boundary is a silent no-op returning (0, nil) — Open Question (ii),
// intentional per source.
func (s *Stream) SkipBodyTo(bodyOffset uint64) (int, error) {
	if s.pr == nil {
		return 0, PRErrNotSupported
	}
	if bodyOffset <= s.pr.committedBody {
		return 0, nil
	}
	n := int(bodyOffset - s.pr.committedBody)
	s.pr.committedBody = bodyOffset
	s.writeBuf.Discard(n)
	if err := s.t.SendDataExpired(bodyOffset); err != nil {
		return 0, errors.Wrap(err, "h3mux: SendDataExpired")
	}
	return n, nil
}

// RejectBodyTo is the receiver-side counterpart: the caller declines to
// receive body bytes up to bodyOffset (spec §4.8 Upper contract
// "rejectBodyTo").
func (s *Stream) RejectBodyTo(bodyOffset uint64) (int, error) {
	if s.pr == nil {
		return 0, PRErrNotSupported
	}
	if bodyOffset <= s.pr.committedBody {
		return 0, nil
	}
	n := int(bodyOffset - s.pr.committedBody)
	s.pr.committedBody = bodyOffset
	if err := s.t.SendDataRejected(bodyOffset); err != nil {
		return 0, errors.Wrap(err, "h3mux: SendDataRejected")
	}
	return n, nil
}

// onDataExpired/onDataRejected are the transport callbacks a stream with
// partial reliability enabled registers at creation (spec §4.8 "the session
// registers data-expired and data-rejected callbacks").
func (s *Stream) onDataExpired(offset uint64) {
	if s.pr == nil || s.handler == nil {
		return
	}
	s.handler.OnPartialReliabilityAck(s.pr.bodyOffset(offset))
}

func (s *Stream) onDataRejected(offset uint64) {
	if s.pr == nil || s.handler == nil {
		return
	}
	s.handler.OnPartialReliabilityAck(s.pr.bodyOffset(offset))
}
