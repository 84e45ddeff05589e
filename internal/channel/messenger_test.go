package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"viewerhost/internal/messaging"
	"viewerhost/internal/metrics"
)

const waitFor = 2 * time.Second

type testPeer struct {
	bus   *messaging.MemoryBus
	frame Frame
	m     *Messenger
	reqs  chan Message
}

func newTestPeer(t *testing.T, opts ...Option) *testPeer {
	t.Helper()
	bus := messaging.NewMemoryBus()
	frame := NewFrame(bus, "test")
	reqs := make(chan Message, 64)
	_, err := bus.Subscribe(frame.Inbound, func(b []byte) {
		if msg, err := DecodeMessage(b); err == nil {
			reqs <- msg
		}
	})
	require.NoError(t, err)

	m, err := New(frame, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Close()
		_ = bus.Close()
	})
	return &testPeer{bus: bus, frame: frame, m: m, reqs: reqs}
}

func (p *testPeer) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-p.reqs:
		return msg
	case <-time.After(waitFor):
		t.Fatal("no request reached the peer")
		return Message{}
	}
}

func (p *testPeer) send(t *testing.T, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	p.sendRaw(t, data)
}

func (p *testPeer) sendRaw(t *testing.T, data []byte) {
	t.Helper()
	require.NoError(t, p.bus.Publish(p.frame.Outbound, data))
}

func (p *testPeer) reply(t *testing.T, req Message, payload string) {
	t.Helper()
	p.send(t, Message{Type: TypeResponse, ID: req.ID, Name: req.Name, Payload: json.RawMessage(payload)})
}

// sync returns once every message published before it has been handled.
func (p *testPeer) sync(t *testing.T) {
	t.Helper()
	reached := make(chan struct{})
	var once sync.Once
	sub := p.m.On("__sync", func(json.RawMessage) { once.Do(func() { close(reached) }) })
	defer sub.Cancel()
	p.send(t, Message{Type: TypeEvent, Name: "__sync"})
	select {
	case <-reached:
	case <-time.After(waitFor):
		t.Fatal("sync event not delivered")
	}
}

func waitResult(t *testing.T, f *Future) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return f.Wait(ctx)
}

type countingMetrics struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counters: map[string]float64{}, gauges: map[string]float64{}}
}

func (c *countingMetrics) SetGauge(name string, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = v
}

func (c *countingMetrics) IncCounter(name string, d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += d
}

func (c *countingMetrics) Observe(string, float64) {}

func (c *countingMetrics) counter(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

func (c *countingMetrics) gauge(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gauges[name]
}

func TestDoResolvesWithMatchingResponse(t *testing.T) {
	p := newTestPeer(t)

	f := p.m.Do("setRenderMode", map[string]string{"mode": "wireframe"})
	req := p.next(t)

	assert.Equal(t, TypeRequest, req.Type)
	assert.Equal(t, "setRenderMode", req.Name)
	assert.Equal(t, f.ID(), req.ID)
	assert.JSONEq(t, `{"mode":"wireframe"}`, string(req.Payload))

	p.reply(t, req, `{"ok":true}`)

	payload, err := waitResult(t, f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))
	assert.Equal(t, 0, p.m.Pending())
}

func TestDoWithoutPayloadOmitsField(t *testing.T) {
	p := newTestPeer(t)

	p.m.Do("getModelStructure", nil)
	req := p.next(t)

	assert.Empty(t, req.Payload)
}

func TestLoadCADFileEndToEnd(t *testing.T) {
	p := newTestPeer(t)

	f := p.m.Do("loadCADFile", map[string]string{"url": "x.zcad"})
	req := p.next(t)
	assert.JSONEq(t, `{"url":"x.zcad"}`, string(req.Payload))

	p.send(t, Message{
		ID:      req.ID,
		Type:    TypeResponse,
		Name:    "loadCADFile",
		Payload: json.RawMessage(`{"modelStructure":{"name":"x","children":[]}}`),
	})

	var got struct {
		ModelStructure map[string]interface{} `json:"modelStructure"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.Decode(ctx, &got))
	assert.Equal(t, "x", got.ModelStructure["name"])
}

func TestConcurrentCallsResolveIndependently(t *testing.T) {
	p := newTestPeer(t)

	first := p.m.Do("setBackgroundColor", map[string]string{"color": "#000"})
	second := p.m.Do("setHighlightColor", map[string]string{"color": "#fff"})
	r1, r2 := p.next(t), p.next(t)
	require.NotEqual(t, r1.ID, r2.ID)

	// Answer in reverse order.
	p.reply(t, r2, `"second"`)
	p.reply(t, r1, `"first"`)

	got1, err := waitResult(t, first)
	require.NoError(t, err)
	got2, err := waitResult(t, second)
	require.NoError(t, err)
	assert.Equal(t, `"first"`, string(got1))
	assert.Equal(t, `"second"`, string(got2))
}

func TestManyConcurrentCalls(t *testing.T) {
	p := newTestPeer(t)

	const n = 50
	futures := make([]*Future, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			futures[i] = p.m.Do("echo", map[string]int{"n": i})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		req := p.next(t)
		p.reply(t, req, string(req.Payload))
	}

	for i, f := range futures {
		var got map[string]int
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		require.NoError(t, f.Decode(ctx, &got))
		cancel()
		assert.Equal(t, i, got["n"])
	}
}

func TestUnknownAndConsumedResponsesAreIgnored(t *testing.T) {
	mc := newCountingMetrics()
	p := newTestPeer(t, WithMetrics(mc))

	done := p.m.Do("first", nil)
	req := p.next(t)
	p.reply(t, req, `1`)
	_, err := waitResult(t, done)
	require.NoError(t, err)

	open := p.m.Do("second", nil)
	p.next(t)

	assert.NotPanics(t, func() {
		p.reply(t, req, `2`)
		p.send(t, Message{Type: TypeResponse, ID: "no-such-id", Name: "first", Payload: json.RawMessage(`3`)})
		p.sync(t)
	})

	payload, err := waitResult(t, done)
	require.NoError(t, err)
	assert.Equal(t, "1", string(payload), "a resolved future never changes")
	assert.False(t, open.Settled())
	assert.Equal(t, 1, p.m.Pending())
	assert.Equal(t, 2.0, mc.counter("messages_discarded_total"))
}

func TestOnInvokesHandlersInRegistrationOrder(t *testing.T) {
	p := newTestPeer(t)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) Handler {
		return func(payload json.RawMessage) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name+":"+string(payload))
		}
	}
	p.m.On("selectionChanged", record("h1"))
	p.m.On("selectionChanged", record("h2"))
	p.m.On("selectionChanged", record("h3"))
	p.m.On("ready", record("other"))

	p.send(t, Message{Type: TypeEvent, Name: "selectionChanged", Payload: json.RawMessage(`{"n":1}`)})
	p.sync(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`h1:{"n":1}`, `h2:{"n":1}`, `h3:{"n":1}`}, order)
}

func TestEventWithoutHandlersHasNoEffect(t *testing.T) {
	mc := newCountingMetrics()
	p := newTestPeer(t, WithMetrics(mc))
	f := p.m.Do("pending", nil)
	p.next(t)

	assert.NotPanics(t, func() {
		p.send(t, Message{Type: TypeEvent, Name: "nobodyListens"})
		p.sync(t)
	})
	assert.False(t, f.Settled())
	assert.Equal(t, 1.0, mc.counter("messages_discarded_total"))
}

func TestSubscriptionCancel(t *testing.T) {
	p := newTestPeer(t)

	var calls []string
	var mu sync.Mutex
	keep := p.m.On("ready", func(json.RawMessage) { mu.Lock(); calls = append(calls, "keep"); mu.Unlock() })
	drop := p.m.On("ready", func(json.RawMessage) { mu.Lock(); calls = append(calls, "drop"); mu.Unlock() })

	drop.Cancel()
	drop.Cancel()
	assert.True(t, drop.Cancelled())
	assert.False(t, keep.Cancelled())
	assert.Equal(t, "ready", drop.Event())

	p.send(t, Message{Type: TypeEvent, Name: "ready"})
	p.sync(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"keep"}, calls)
}

func TestMalformedMessagesAreDiscarded(t *testing.T) {
	mc := newCountingMetrics()
	p := newTestPeer(t, WithMetrics(mc))

	f := p.m.Do("loadCADFile", map[string]string{"url": "a.zcad"})
	req := p.next(t)

	for _, raw := range []string{
		`not json`,
		`{"name":"ready"}`,
		`{"type":"bogus","name":"ready"}`,
		`{"type":"response","name":"loadCADFile"}`,
		`{"type":"event"}`,
		`{"type":"request","id":"1","name":"fromPeer"}`,
	} {
		p.sendRaw(t, []byte(raw))
	}
	p.sync(t)
	assert.False(t, f.Settled())
	assert.Equal(t, 6.0, mc.counter("messages_discarded_total"))

	p.reply(t, req, `{}`)
	_, err := waitResult(t, f)
	assert.NoError(t, err)
}

func TestTimeoutReclaimsPendingEntry(t *testing.T) {
	mc := newCountingMetrics()
	p := newTestPeer(t, WithTimeout(30*time.Millisecond), WithMetrics(mc))

	f := p.m.Do("getModelStructure", nil)
	req := p.next(t)

	_, err := waitResult(t, f)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, p.m.Pending())
	assert.Equal(t, 1.0, mc.counter("request_timeouts_total"))

	// A late answer is treated as stale and dropped.
	p.reply(t, req, `{}`)
	p.sync(t)
	_, err = waitResult(t, f)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1.0, mc.counter("messages_discarded_total"))
}

func TestPerCallTimeoutOverridesDefault(t *testing.T) {
	p := newTestPeer(t)

	unbounded := p.m.Do("slow", nil)
	bounded := p.m.DoWithTimeout("slow", nil, 20*time.Millisecond)

	_, err := waitResult(t, bounded)
	require.ErrorIs(t, err, ErrTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = unbounded.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.m.Pending(), "giving up on Wait does not withdraw the command")
}

func TestHandlerPanicDoesNotStopOtherHandlers(t *testing.T) {
	mc := newCountingMetrics()
	p := newTestPeer(t, WithMetrics(mc))

	called := make(chan struct{}, 1)
	p.m.On("selectionChanged", func(json.RawMessage) { panic("boom") })
	p.m.On("selectionChanged", func(json.RawMessage) { called <- struct{}{} })

	p.send(t, Message{Type: TypeEvent, Name: "selectionChanged"})
	select {
	case <-called:
	case <-time.After(waitFor):
		t.Fatal("second handler not invoked")
	}
	assert.Equal(t, 1.0, mc.counter("handler_panics_total"))
}

func TestCloseFailsPendingCommands(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := messaging.NewMemoryBus()
	m, err := New(NewFrame(bus, "v1"))
	require.NoError(t, err)

	f := m.Do("loadCADFile", map[string]string{"url": "a.zcad"})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = waitResult(t, f)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = waitResult(t, m.Do("setRenderMode", nil))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, m.Pending())

	require.NoError(t, bus.Close())
}

type failingBus struct{ messaging.Bus }

func (failingBus) Publish(string, []byte) error { return errors.New("link down") }

func (failingBus) Subscribe(string, func([]byte)) (io.Closer, error) { return io.NopCloser(nil), nil }

func TestSendFailureFailsFuture(t *testing.T) {
	m, err := New(Frame{ID: "x", Bus: failingBus{}, Inbound: "in", Outbound: "out"})
	require.NoError(t, err)
	defer m.Close()

	_, err = waitResult(t, m.Do("setRenderMode", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link down")
	assert.Equal(t, 0, m.Pending())
}

func TestEncodeFailureFailsFuture(t *testing.T) {
	p := newTestPeer(t)

	_, err := waitResult(t, p.m.Do("bad", map[string]interface{}{"ch": make(chan int)}))
	require.Error(t, err)
	assert.Equal(t, 0, p.m.Pending())
}

func TestDuplicateIDIsRejected(t *testing.T) {
	p := newTestPeer(t, WithIDGenerator(func() string { return "fixed" }))

	first := p.m.Do("a", nil)
	second := p.m.Do("b", nil)

	_, err := waitResult(t, second)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.False(t, first.Settled())
}

type memRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *memRecorder) Record(direction string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var msg Message
	_ = json.Unmarshal(data, &msg)
	r.entries = append(r.entries, fmt.Sprintf("%s %s %s", direction, msg.Type, msg.Name))
	return nil
}

func TestRecorderSeesBothDirections(t *testing.T) {
	rec := &memRecorder{}
	p := newTestPeer(t, WithRecorder(rec))

	f := p.m.Do("getModelStructure", nil)
	p.reply(t, p.next(t), `{}`)
	_, err := waitResult(t, f)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.entries, 2)
	assert.Equal(t, "sent request getModelStructure", rec.entries[0])
	assert.Equal(t, "received response getModelStructure", rec.entries[1])
}

func TestThenRunsOnSuccessOnly(t *testing.T) {
	p := newTestPeer(t)

	got := make(chan string, 1)
	f := p.m.Do("getModelStructure", nil)
	f.Then(func(payload json.RawMessage) { got <- string(payload) })
	p.reply(t, p.next(t), `{"a":1}`)

	select {
	case s := <-got:
		assert.Equal(t, `{"a":1}`, s)
	case <-time.After(waitFor):
		t.Fatal("Then callback not run")
	}

	failed := p.m.DoWithTimeout("never", nil, 10*time.Millisecond)
	ran := make(chan struct{}, 1)
	failed.Then(func(json.RawMessage) { ran <- struct{}{} })
	_, _ = waitResult(t, failed)
	select {
	case <-ran:
		t.Fatal("Then ran for a failed future")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestNewRejectsInvalidFrame(t *testing.T) {
	bus := messaging.NewMemoryBus()
	defer bus.Close()

	_, err := New(Frame{})
	assert.Error(t, err)
	_, err = New(Frame{Bus: bus, Inbound: "same", Outbound: "same"})
	assert.Error(t, err)
}

func TestPendingGaugeTracksConcurrentCalls(t *testing.T) {
	cm := newCountingMetrics()
	p := newTestPeer(t, WithMetrics(cm))

	const n = 100
	futures := make(chan *Future, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			futures <- p.m.Do("setRenderMode", nil)
		}()
	}

	// Reply while other calls are still being issued.
	var replies sync.WaitGroup
	replies.Add(1)
	go func() {
		defer replies.Done()
		for i := 0; i < n; i++ {
			select {
			case req := <-p.reqs:
				data, _ := Message{Type: TypeResponse, ID: req.ID, Name: req.Name}.Encode()
				_ = p.bus.Publish(p.frame.Outbound, data)
			case <-time.After(waitFor):
				return
			}
		}
	}()

	wg.Wait()
	close(futures)
	for f := range futures {
		_, err := waitResult(t, f)
		require.NoError(t, err)
	}
	replies.Wait()

	assert.Equal(t, 0, p.m.Pending())
	assert.Equal(t, 0.0, cm.gauge(metrics.PendingRequests))
	assert.Equal(t, float64(n), cm.counter(metrics.RequestsTotal))
}
