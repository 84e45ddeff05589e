// Package channel turns a one-way bus into request/response calls and named
// event subscriptions with an embedded viewer.
//
// Every Do call gets a fresh correlation id; the returned Future resolves when
// a response carrying that id arrives. Unsolicited events are dispatched to
// the handlers registered with On, in registration order. Malformed, stale and
// unhandled messages are dropped without surfacing an error, since no caller
// can be attributed to them.
package channel

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"viewerhost/internal/logging"
	"viewerhost/internal/metrics"
)

const defaultStaleCacheSize = 256

// Handler receives the payload of an unsolicited event.
type Handler func(payload json.RawMessage)

// Recorder receives every wire message crossing the frame, for diagnostics.
type Recorder interface {
	Record(direction string, data []byte) error
}

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

type Option func(*Messenger)

func WithLogger(l logging.Logger) Option { return func(m *Messenger) { m.log = l } }

func WithMetrics(p metrics.Provider) Option { return func(m *Messenger) { m.metrics = p } }

func WithRecorder(r Recorder) Option { return func(m *Messenger) { m.rec = r } }

// WithTimeout fails commands that see no response within d. Zero keeps the
// default of waiting forever.
func WithTimeout(d time.Duration) Option { return func(m *Messenger) { m.timeout = d } }

func WithIDGenerator(fn func() string) Option { return func(m *Messenger) { m.newID = fn } }

// WithStaleCacheSize sets how many consumed ids are remembered so that late
// responses are reported as stale rather than unknown.
func WithStaleCacheSize(n int) Option { return func(m *Messenger) { m.staleSize = n } }

type pending struct {
	future *Future
	sent   time.Time
	timer  *time.Timer
}

// Messenger is the host side of a Frame.
type Messenger struct {
	frame     Frame
	log       logging.Logger
	metrics   metrics.Provider
	rec       Recorder
	newID     func() string
	timeout   time.Duration
	staleSize int

	mu       sync.Mutex
	pending  map[string]*pending
	handlers map[string][]*Subscription
	stale    *lru.Cache[string, struct{}]
	closed   bool
	sub      io.Closer
}

// New subscribes to the frame's outbound subject and returns a ready messenger.
func New(frame Frame, opts ...Option) (*Messenger, error) {
	if err := frame.validate(); err != nil {
		return nil, err
	}
	m := &Messenger{
		frame:     frame,
		log:       logging.NewNopLogger(),
		metrics:   metrics.Noop{},
		newID:     uuid.NewString,
		staleSize: defaultStaleCacheSize,
		pending:   make(map[string]*pending),
		handlers:  make(map[string][]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.staleSize <= 0 {
		m.staleSize = defaultStaleCacheSize
	}
	stale, err := lru.New[string, struct{}](m.staleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create stale id cache: %w", err)
	}
	m.stale = stale

	sub, err := frame.Bus.Subscribe(frame.Outbound, m.handle)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", frame.Outbound, err)
	}
	m.sub = sub

	m.log.Debugf("Messenger attached to frame %s (in=%s out=%s)", frame.ID, frame.Inbound, frame.Outbound)
	return m, nil
}

// Do sends command with payload and returns a future for its response.
// It never blocks on the peer. Without a timeout the future may stay pending
// forever.
func (m *Messenger) Do(command string, payload interface{}) *Future {
	return m.DoWithTimeout(command, payload, m.timeout)
}

// DoWithTimeout is Do with a per-call timeout; zero disables it.
func (m *Messenger) DoWithTimeout(command string, payload interface{}, timeout time.Duration) *Future {
	id := m.newID()
	f := newFuture(id, command)

	raw, err := EncodePayload(payload)
	if err != nil {
		f.fail(fmt.Errorf("failed to encode %s payload: %w", command, err))
		return f
	}
	data, err := Message{Type: TypeRequest, ID: id, Name: command, Payload: raw}.Encode()
	if err != nil {
		f.fail(fmt.Errorf("failed to encode %s: %w", command, err))
		return f
	}

	// Register before sending so a fast peer cannot answer an unknown id.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		f.fail(ErrClosed)
		return f
	}
	if _, dup := m.pending[id]; dup {
		m.mu.Unlock()
		f.fail(fmt.Errorf("%w: %s", ErrDuplicateID, id))
		return f
	}
	p := &pending{future: f, sent: time.Now()}
	m.pending[id] = p
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() { m.expire(id, timeout) })
	}
	// Set under the lock so concurrent updates land in order.
	m.metrics.SetGauge(metrics.PendingRequests, float64(len(m.pending)))
	m.mu.Unlock()

	m.metrics.IncCounter(metrics.RequestsTotal, 1)
	m.record(DirectionSent, data)

	if err := m.frame.Bus.Publish(m.frame.Inbound, data); err != nil {
		if m.take(id) != nil {
			f.fail(fmt.Errorf("failed to send %s: %w", command, err))
		}
		m.log.Warnf("Failed to send %s (id=%s): %v", command, id, err)
		return f
	}

	m.log.Debugf("Sent %s (id=%s, %d bytes)", command, id, len(data))
	return f
}

// On registers handler for event. Handlers run in registration order on
// every matching event until their subscription is cancelled.
func (m *Messenger) On(event string, handler Handler) *Subscription {
	s := &Subscription{event: event, handler: handler, m: m}
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], s)
	m.mu.Unlock()
	return s
}

// Pending returns the number of commands awaiting a response.
func (m *Messenger) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Frame returns the frame the messenger is attached to.
func (m *Messenger) Frame() Frame { return m.frame }

// Close detaches from the bus and fails every pending command with ErrClosed.
// Subscriptions are kept but receive nothing further.
func (m *Messenger) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	drained := make([]*pending, 0, len(m.pending))
	for id, p := range m.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		drained = append(drained, p)
		delete(m.pending, id)
	}
	sub := m.sub
	m.metrics.SetGauge(metrics.PendingRequests, 0)
	m.mu.Unlock()

	for _, p := range drained {
		p.future.fail(ErrClosed)
	}
	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (m *Messenger) handle(data []byte) {
	m.record(DirectionReceived, data)

	msg, err := DecodeMessage(data)
	if err != nil {
		m.discard("malformed", "", err)
		return
	}

	switch msg.Type {
	case TypeResponse:
		m.resolve(msg)
	case TypeEvent:
		m.dispatch(msg)
	default:
		m.discard("unexpected", msg.Name, fmt.Errorf("%s messages are not accepted by the host", msg.Type))
	}
}

func (m *Messenger) resolve(msg Message) {
	p := m.take(msg.ID)
	if p == nil {
		reason := "unknown"
		if m.stale.Contains(msg.ID) {
			reason = "stale"
		}
		m.discard(reason, msg.Name, fmt.Errorf("no pending command with id %s", msg.ID))
		return
	}

	m.metrics.IncCounter(metrics.ResponsesTotal, 1)
	m.metrics.Observe(metrics.RequestLatencyMs, float64(time.Since(p.sent).Milliseconds()))
	p.future.resolve(msg.Payload)
	m.log.Debugf("Resolved %s (id=%s)", p.future.Command(), msg.ID)
}

func (m *Messenger) dispatch(msg Message) {
	m.mu.Lock()
	subs := m.handlers[msg.Name]
	m.mu.Unlock()

	if len(subs) == 0 {
		m.discard("unhandled", msg.Name, nil)
		return
	}

	m.metrics.IncCounter(metrics.EventsTotal, 1)
	for _, s := range subs {
		if s.Cancelled() || s.handler == nil {
			continue
		}
		m.invoke(s, msg.Payload)
	}
}

func (m *Messenger) invoke(s *Subscription, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.IncCounter(metrics.HandlerPanicTotal, 1)
			m.log.Errorf("Handler for %s panicked: %v", s.event, r)
		}
	}()
	s.handler(payload)
}

func (m *Messenger) expire(id string, after time.Duration) {
	p := m.take(id)
	if p == nil {
		return
	}
	m.metrics.IncCounter(metrics.TimeoutsTotal, 1)
	p.future.fail(fmt.Errorf("%w: %s after %s", ErrTimeout, p.future.Command(), after))
	m.log.Warnf("Command %s (id=%s) timed out after %s", p.future.Command(), id, after)
}

// take removes and returns the pending entry for id, remembering id as
// consumed.
func (m *Messenger) take(id string) *pending {
	m.mu.Lock()
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
		m.metrics.SetGauge(metrics.PendingRequests, float64(len(m.pending)))
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	m.stale.Add(id, struct{}{})
	return p
}

func (m *Messenger) removeSubscription(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.handlers[s.event]
	// Copy on write: dispatch may be iterating over the old slice.
	next := make([]*Subscription, 0, len(current))
	for _, other := range current {
		if other != s {
			next = append(next, other)
		}
	}
	if len(next) == 0 {
		delete(m.handlers, s.event)
		return
	}
	m.handlers[s.event] = next
}

func (m *Messenger) discard(reason, name string, err error) {
	m.metrics.IncCounter(metrics.DiscardedTotal, 1)
	if err != nil {
		m.log.Debugf("Discarded %s message %q: %v", reason, name, err)
		return
	}
	m.log.Debugf("Discarded %s message %q", reason, name)
}

func (m *Messenger) record(direction string, data []byte) {
	if m.rec == nil {
		return
	}
	if err := m.rec.Record(direction, data); err != nil {
		m.log.Warnf("Failed to record %s message: %v", direction, err)
	}
}
