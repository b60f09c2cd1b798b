package h3

import (
	"container/heap"

	"github.com/costinm/h3mux/transport"
)

// schedulerEntry is one Stream's handle in the egress priority queue (spec
// Data Model "queue handle"). Lower priority value is serviced first;
// weight is the share ratio passed to OnWriteReady within a priority band.
type schedulerEntry struct {
	stream   *Stream
	priority int
	weight   float64
	index    int
}

type entryHeap []*schedulerEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].weight > h[j].weight
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*schedulerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// scheduler is the egress priority queue plus the set of streams parked for
// flow-control backpressure (spec §4.6).
type scheduler struct {
	sess    *Session
	ready   entryHeap
	entries map[StreamID]*schedulerEntry
	// blocked holds streams removed from the ready queue because their
	// per-stream send window was zero (spec §4.6 "removed from the ready
	// queue and re-added when a flow-control update arrives").
	blocked map[StreamID]*schedulerEntry
	paused  bool
}

func newScheduler(sess *Session) *scheduler {
	return &scheduler{
		sess:    sess,
		entries: map[StreamID]*schedulerEntry{},
		blocked: map[StreamID]*schedulerEntry{},
	}
}

func (sc *scheduler) enqueue(s *Stream) {
	if _, ok := sc.entries[s.id]; ok {
		return
	}
	if sc.sess.transport.StreamSendWindow(transport.StreamID(s.id)) == 0 {
		e := &schedulerEntry{stream: s, priority: s.priority, weight: s.weight}
		sc.blocked[s.id] = e
		return
	}
	e := &schedulerEntry{stream: s, priority: s.priority, weight: s.weight}
	sc.entries[s.id] = e
	heap.Push(&sc.ready, e)
}

func (sc *scheduler) remove(id StreamID) {
	if e, ok := sc.entries[id]; ok {
		heap.Remove(&sc.ready, e.index)
		delete(sc.entries, id)
	}
	delete(sc.blocked, id)
}

// onFlowControlUpdate re-admits a previously blocked stream once its window
// becomes nonzero (spec §4.6, boundary scenario S6).
func (sc *scheduler) onFlowControlUpdate(id StreamID, window uint64) {
	e, ok := sc.blocked[id]
	if !ok || window == 0 {
		return
	}
	delete(sc.blocked, id)
	sc.entries[id] = e
	heap.Push(&sc.ready, e)
}

// runControlStreams implements spec §4.6 step 1: control streams are
// written first, round-robin, each capped by its send window and the
// remaining connection budget.
func (sc *scheduler) runControlStreams(budget int) int {
	sc.sess.registry.forEachControl(func(c *controlStream) {
		if budget <= 0 || !c.hasPendingEgress() {
			return
		}
		n := c.writeBuf.Size()
		if n > budget {
			n = budget
		}
		if w := sc.sess.transport.StreamSendWindow(ctrlEgressID(c)); uint64(n) > w {
			n = int(w)
		}
		if n == 0 {
			return
		}
		p := append([]byte(nil), c.writeBuf.Bytes()[:n]...)
		written, err := c.egress.WriteChain(p, false)
		if err != nil {
			sc.sess.onConnectionError(connectionErrorf(ErrInternalError, err, "control stream write failed"))
			return
		}
		c.writeBuf.Skip(written)
		c.bytesWritten += written
		sc.sess.metrics().bytesScheduled(written)
		budget -= written
	})
	return budget
}

// runRequestStreams implements spec §4.6 steps 2-4.
func (sc *scheduler) runRequestStreams(budget int) {
	for budget > 0 && sc.ready.Len() > 0 {
		e := sc.ready[0]
		s := e.stream

		connWindow := sc.sess.transport.ConnectionSendWindow()
		streamWindow := sc.sess.transport.StreamSendWindow(transport.StreamID(s.id))
		if streamWindow == 0 {
			heap.Pop(&sc.ready)
			delete(sc.entries, s.id)
			sc.blocked[s.id] = e
			continue
		}

		canSend := budget
		if int(streamWindow) < canSend {
			canSend = int(streamWindow)
		}
		if int(connWindow) < canSend {
			canSend = int(connWindow)
		}

		if s.handler != nil {
			already := s.writeBuf.Size()
			if canSend > already {
				s.handler.OnWriteReady(canSend-already, e.weight)
			}
		}

		n := s.writeBuf.Size()
		if n > canSend {
			n = canSend
		}
		hasMoreBody := s.writeBuf.Size() > n
		fin := s.pendingEOM && !hasMoreBody

		if n > 0 || fin {
			p := append([]byte(nil), s.writeBuf.Bytes()[:n]...)
			written, err := s.t.WriteChain(p, fin)
			if err != nil {
				sc.sess.onStreamError(s, err)
				heap.Pop(&sc.ready)
				delete(sc.entries, s.id)
				continue
			}
			s.writeBuf.Skip(written)
			s.bytesWritten += written
			sc.sess.metrics().bytesScheduled(written)
			budget -= written

			if fin && !s.eomSent {
				s.eomSent = true
				offset := uint64(s.bytesWritten)
				s.events.add(offset, eventLastByteSent)
				sc.sess.transport.RegisterDeliveryCallback(transport.StreamID(s.id), offset, s.onDeliveryAck)
			}
		}

		if s.writeBuf.IsEmpty() && (!s.pendingEOM || s.eomSent) {
			heap.Pop(&sc.ready)
			delete(sc.entries, s.id)
			s.enqueued = false
			sc.sess.checkForDetach(s)
		} else if n == 0 {
			// Nothing could be written this round (budget exhausted); stop to
			// avoid spinning.
			break
		}
	}
}

func (sc *scheduler) hasPendingWork() bool {
	return sc.ready.Len() > 0
}
