package h3

// registry holds every stream a Session currently knows about: the request
// (bidirectional) map keyed by stream id, the control (unidirectional) map
// keyed by type tag, and the dispatcher's pending set of unidirectional ids
// whose preface has not yet resolved (spec §4.3). A stream id occupies at
// most one of the three at any instant (spec Data Model invariant iii);
// registry itself does not enforce that — callers move an id from pending
// to control as a single step in dispatcher.go.
type registry struct {
	requests map[StreamID]*Stream
	controls map[ControlStreamType]*controlStream
	pending  map[StreamID]*pendingStream
}

func newRegistry() *registry {
	return &registry{
		requests: map[StreamID]*Stream{},
		controls: map[ControlStreamType]*controlStream{},
		pending:  map[StreamID]*pendingStream{},
	}
}

// find resolves a stream id to its request-stream object, the way
// find(id) in spec §4.3 considers the request map (push streams reuse the
// same map: a push stream is simply a request stream with PushID set).
func (r *registry) find(id StreamID) *Stream {
	return r.requests[id]
}

func (r *registry) findByType(t ControlStreamType) *controlStream {
	return r.controls[t]
}

func (r *registry) addRequest(s *Stream) {
	r.requests[s.id] = s
}

func (r *registry) addControl(c *controlStream) {
	r.controls[c.streamType] = c
}

func (r *registry) addPending(p *pendingStream) {
	r.pending[p.id] = p
}

func (r *registry) removePending(id StreamID) {
	delete(r.pending, id)
}

func (r *registry) erase(id StreamID) {
	delete(r.requests, id)
	delete(r.pending, id)
	for t, c := range r.controls {
		if c.ingressID != nil && *c.ingressID == id {
			delete(r.controls, t)
		}
	}
}

// forEach snapshots stream ids before calling fn, so that fn may safely
// erase entries from the registry — the orchestrator relies on this when
// running a destroy pass over every stream during dropConnection (spec
// §4.3 "iteration during mutation must not invalidate").
func (r *registry) forEach(fn func(*Stream)) {
	ids := make([]StreamID, 0, len(r.requests))
	for id := range r.requests {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if s, ok := r.requests[id]; ok {
			fn(s)
		}
	}
}

func (r *registry) forEachControl(fn func(*controlStream)) {
	types := make([]ControlStreamType, 0, len(r.controls))
	for t := range r.controls {
		types = append(types, t)
	}
	for _, t := range types {
		if c, ok := r.controls[t]; ok {
			fn(c)
		}
	}
}

func (r *registry) streamCount() int {
	return len(r.requests)
}
