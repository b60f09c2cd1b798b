package h3

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the prometheus surface for one or more Sessions, adapted from
// the teacher's telemetry package (Active gauge, Requests counter) onto the
// session-core's own events: streams opened/closed, bytes scheduled, drain
// transitions. A caller registers one Metrics with its own
// prometheus.Registerer and shares it across every Session it constructs.
type Metrics struct {
	ActiveStreams   prometheus.Gauge
	StreamsOpened   prometheus.Counter
	StreamsClosed   *prometheus.CounterVec // label "reason"
	BytesScheduled  prometheus.Counter
	BytesDelivered  prometheus.Counter
	DrainTransition *prometheus.CounterVec // label "state"
	GoAwaySent      prometheus.Counter
	GoAwayReceived  prometheus.Counter
}

// NewMetrics builds a Metrics and registers it with reg. Passing a nil
// Registerer is valid; the collectors are simply never exposed. The demo
// command (cmd/h3mux-echo) does not call NewMetrics at all: it leaves
// SessionConfig.Metrics nil, which the nil-safe helpers accept.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "h3mux", Name: "active_streams", Help: "Request streams currently open.",
		}),
		StreamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "h3mux", Name: "streams_opened_total", Help: "Request streams opened.",
		}),
		StreamsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "h3mux", Name: "streams_closed_total", Help: "Request streams closed, by reason.",
		}, []string{"reason"}),
		BytesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "h3mux", Name: "bytes_scheduled_total", Help: "Bytes handed to the transport write path.",
		}),
		BytesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "h3mux", Name: "bytes_delivered_total", Help: "Bytes the peer has acknowledged.",
		}),
		DrainTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "h3mux", Name: "drain_transitions_total", Help: "Drain state machine transitions.",
		}, []string{"state"}),
		GoAwaySent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "h3mux", Name: "goaway_sent_total", Help: "GOAWAY announcements sent.",
		}),
		GoAwayReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "h3mux", Name: "goaway_received_total", Help: "GOAWAY announcements received.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ActiveStreams, m.StreamsOpened, m.StreamsClosed,
			m.BytesScheduled, m.BytesDelivered, m.DrainTransition, m.GoAwaySent, m.GoAwayReceived)
	}
	return m
}

func (m *Metrics) streamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
	m.StreamsOpened.Inc()
}

func (m *Metrics) streamClosed(reason string) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.StreamsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) bytesScheduled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesScheduled.Add(float64(n))
}

func (m *Metrics) bytesDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesDelivered.Add(float64(n))
}

func (m *Metrics) drainTransition(state string) {
	if m == nil {
		return
	}
	m.DrainTransition.WithLabelValues(state).Inc()
}

func (m *Metrics) goAwaySent() {
	if m == nil {
		return
	}
	m.GoAwaySent.Inc()
}

func (m *Metrics) goAwayReceived() {
	if m == nil {
		return
	}
	m.GoAwayReceived.Inc()
}
