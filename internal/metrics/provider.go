package metrics

// Provider is the metrics sink used by the messenger.
// Noop is the default when no exporter is configured.
type Provider interface {
	SetGauge(name string, value float64)
	IncCounter(name string, delta float64)
	Observe(name string, value float64)
}

// Metric names emitted by the messenger.
const (
	PendingRequests   = "pending_requests"
	RequestsTotal     = "requests_total"
	ResponsesTotal    = "responses_total"
	EventsTotal       = "events_total"
	TimeoutsTotal     = "request_timeouts_total"
	DiscardedTotal    = "messages_discarded_total"
	RequestLatencyMs  = "request_latency_ms"
	HandlerPanicTotal = "handler_panics_total"
)

type Noop struct{}

func (Noop) SetGauge(string, float64)   {}
func (Noop) IncCounter(string, float64) {}
func (Noop) Observe(string, float64)    {}
