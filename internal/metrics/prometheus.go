package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "viewerhost"

type Prom struct {
	reg *prometheus.Registry
	// Gauges/Counters
	Pending        prometheus.Gauge
	Requests       prometheus.Counter
	Responses      prometheus.Counter
	Events         prometheus.Counter
	Timeouts       prometheus.Counter
	Discarded      prometheus.Counter
	HandlerPanics  prometheus.Counter
	RequestLatency prometheus.Summary
}

func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		reg:            reg,
		Pending:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: PendingRequests, Help: "Commands awaiting a response"}),
		Requests:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: RequestsTotal, Help: "Commands sent to the embedded viewer"}),
		Responses:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: ResponsesTotal, Help: "Responses matched to a pending command"}),
		Events:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: EventsTotal, Help: "Unsolicited events dispatched to handlers"}),
		Timeouts:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: TimeoutsTotal, Help: "Commands that timed out"}),
		Discarded:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: DiscardedTotal, Help: "Malformed, stale or unhandled messages dropped"}),
		HandlerPanics:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: HandlerPanicTotal, Help: "Event handlers that panicked"}),
		RequestLatency: prometheus.NewSummary(prometheus.SummaryOpts{Namespace: namespace, Name: RequestLatencyMs, Help: "Round trip of commands in ms"}),
	}
	reg.MustRegister(p.Pending, p.Requests, p.Responses, p.Events, p.Timeouts, p.Discarded, p.HandlerPanics, p.RequestLatency)
	return p
}

func (p *Prom) Handler() http.Handler { return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}) }

// Registry exposes the underlying registry for extra collectors.
func (p *Prom) Registry() *prometheus.Registry { return p.reg }

// Implement Provider
func (p *Prom) SetGauge(name string, value float64) {
	switch name {
	case PendingRequests:
		p.Pending.Set(value)
	}
}

func (p *Prom) IncCounter(name string, delta float64) {
	switch name {
	case RequestsTotal:
		p.Requests.Add(delta)
	case ResponsesTotal:
		p.Responses.Add(delta)
	case EventsTotal:
		p.Events.Add(delta)
	case TimeoutsTotal:
		p.Timeouts.Add(delta)
	case DiscardedTotal:
		p.Discarded.Add(delta)
	case HandlerPanicTotal:
		p.HandlerPanics.Add(delta)
	}
}

// Observe supports selected summaries/histograms
func (p *Prom) Observe(name string, value float64) {
	switch name {
	case RequestLatencyMs:
		p.RequestLatency.Observe(value)
	default:
		// ignore unknown for now
	}
}
