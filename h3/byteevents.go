package h3

import "sort"

// byteEventKind identifies what a pending byte event represents (spec §9
// "Byte-event tracker", §4.5 "Byte-event tracking").
type byteEventKind int

const (
	eventFirstHeaderByteSent byteEventKind = iota
	eventFirstBodyByteSent
	eventLastByteSent
	eventLastHeaderAcked
	eventBodyByteAcked
)

// byteEvent is one pending (offset, kind) pair awaiting delivery
// acknowledgement at or past offset (spec §9 "Byte-event tracker"). There
// is no target field: each tracker belongs to one Stream, which is the
// target of all its events.
type byteEvent struct {
	offset uint64
	kind   byteEventKind
}

// byteEventTracker is owned by one Stream. add re-sorts the events by
// offset, so firing on ack is a single scan from the front that stops at
// the first event past the acked offset.
type byteEventTracker struct {
	pending []byteEvent
	// outstanding counts callbacks armed with the transport that have not
	// yet fired; the stream is not eligible for destruction while this is
	// nonzero (spec Data Model "count of outstanding delivery callbacks").
	outstanding int
}

func (t *byteEventTracker) add(offset uint64, kind byteEventKind) {
	t.pending = append(t.pending, byteEvent{offset: offset, kind: kind})
	sort.Slice(t.pending, func(i, j int) bool { return t.pending[i].offset < t.pending[j].offset })
	t.outstanding++
}

// ack fires and removes every pending event at or below offset O, returning
// them in ascending offset order for the caller to dispatch to the
// transaction.
func (t *byteEventTracker) ack(o uint64) []byteEvent {
	i := 0
	for i < len(t.pending) && t.pending[i].offset <= o {
		i++
	}
	if i == 0 {
		return nil
	}
	fired := t.pending[:i]
	t.pending = t.pending[i:]
	t.outstanding -= len(fired)
	return fired
}

// cancel fires every remaining pending event as canceled (used on reset or
// connection drop, spec §8 testable property 9: "exactly one of
// onEgressLastByteAck or onDeliveryCanceled is eventually called").
func (t *byteEventTracker) cancel() []byteEvent {
	fired := t.pending
	t.pending = nil
	t.outstanding -= len(fired)
	return fired
}

func (t *byteEventTracker) empty() bool { return len(t.pending) == 0 }
