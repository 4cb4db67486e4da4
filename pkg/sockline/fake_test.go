package sockline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tsarna/sockline/pkg/sockline/o11y"
	"go.uber.org/zap"
)

var errTransportClosed = errors.New("transport closed")

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	inbound chan []byte
	failCh  chan error
	closed  chan struct{}

	closeOnce   sync.Once
	mu          sync.Mutex
	written     [][]byte
	closeReason string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		failCh:  make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case err := <-t.failCh:
		return nil, err
	case <-t.closed:
		return nil, errTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Write(ctx context.Context, data []byte) error {
	select {
	case <-t.closed:
		return errTransportClosed
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = append(t.written, data)
	return nil
}

func (t *fakeTransport) Close(reason string) error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closeReason = reason
		t.mu.Unlock()
		close(t.closed)
	})
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeReason
}

func (t *fakeTransport) frames() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	frames := make([]Frame, 0, len(t.written))
	for _, data := range t.written {
		var frame Frame
		if err := json.Unmarshal(data, &frame); err == nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

// deliver simulates the server sending an event.
func (t *fakeTransport) deliver(tb testing.TB, eventType string, payload any) {
	tb.Helper()
	data, err := json.Marshal(map[string]any{"type": eventType, "payload": payload})
	require.NoError(tb, err)
	t.inbound <- data
}

type dialResult struct {
	transport Transport
	err       error
}

// fakeDialer blocks every handshake until the test resolves it.
type fakeDialer struct {
	calls   atomic.Int32
	results chan dialResult
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult)}
}

func (d *fakeDialer) Dial(ctx context.Context, address string) (Transport, error) {
	d.calls.Add(1)
	select {
	case r := <-d.results:
		return r.transport, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// succeed completes the pending handshake and returns its transport.
func (d *fakeDialer) succeed(tb testing.TB) *fakeTransport {
	tb.Helper()
	transport := newFakeTransport()
	select {
	case d.results <- dialResult{transport: transport}:
	case <-time.After(time.Second):
		tb.Fatal("no handshake in progress")
	}
	return transport
}

func (d *fakeDialer) fail(tb testing.TB, err error) {
	tb.Helper()
	select {
	case d.results <- dialResult{err: err}:
	case <-time.After(time.Second):
		tb.Fatal("no handshake in progress")
	}
}

type recorded struct {
	name      string
	eventType string
	payload   any
}

// recorder collects dispatched events from any number of named handlers.
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) handler(name string) Handler {
	return HandlerFunc(func(ctx context.Context, eventType string, payload any) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, recorded{name: name, eventType: eventType, payload: payload})
		return nil
	})
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.events...)
}

func (r *recorder) of(eventType string) []recorded {
	var out []recorded
	for _, ev := range r.all() {
		if ev.eventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) names(eventType string) []string {
	var out []string
	for _, ev := range r.of(eventType) {
		out = append(out, ev.name)
	}
	return out
}

func (r *recorder) waitFor(tb testing.TB, eventType string, count int) []recorded {
	tb.Helper()
	require.Eventually(tb, func() bool {
		return len(r.of(eventType)) >= count
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %q events", count, eventType)
	return r.of(eventType)
}

// flush waits until everything queued before the call has been dispatched.
func flush(tb testing.TB, m *Manager) {
	tb.Helper()
	done := make(chan struct{})
	marker := "$flush"
	sub := m.Subscribe(marker, HandlerFunc(func(ctx context.Context, eventType string, payload any) error {
		close(done)
		return nil
	}))
	defer m.Unsubscribe(sub)

	require.True(tb, m.queue.push(queuedEvent{eventType: marker}, false))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		tb.Fatal("dispatcher did not drain")
	}
}

func newTestManager(tb testing.TB, dialer Dialer) *Manager {
	tb.Helper()
	m, err := NewManager().
		WithAddress("ws://localhost:3001").
		WithLogger(zap.NewNop()).
		WithDialer(dialer).
		Build()
	require.NoError(tb, err)
	tb.Cleanup(func() { m.Close() })
	return m
}

// connectManager drives a manager through a successful handshake.
func connectManager(tb testing.TB, m *Manager, dialer *fakeDialer) *fakeTransport {
	tb.Helper()
	connected := make(chan struct{}, 1)
	sub := m.Subscribe(EventConnect, HandlerFunc(func(ctx context.Context, eventType string, payload any) error {
		connected <- struct{}{}
		return nil
	}))
	defer m.Unsubscribe(sub)

	m.Connect()
	transport := dialer.succeed(tb)
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		tb.Fatal("connect event not delivered")
	}
	return transport
}

// mockMetrics records counter totals and the last gauge values by name.
type mockMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	samples  map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		samples:  make(map[string]int),
	}
}

func (p *mockMetrics) Counter(name string) o11y.Counter {
	return mockInstrument{p: p, name: name}
}

func (p *mockMetrics) Histogram(name string) o11y.Histogram {
	return mockInstrument{p: p, name: name}
}

func (p *mockMetrics) Gauge(name string) o11y.Gauge {
	return mockInstrument{p: p, name: name}
}

func (p *mockMetrics) counter(name string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[name]
}

func (p *mockMetrics) gauge(name string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gauges[name]
}

func (p *mockMetrics) sampleCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples[name]
}

type mockInstrument struct {
	p    *mockMetrics
	name string
}

func (i mockInstrument) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	i.p.mu.Lock()
	defer i.p.mu.Unlock()
	i.p.counters[i.name] += value
}

func (i mockInstrument) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	i.p.mu.Lock()
	defer i.p.mu.Unlock()
	i.p.samples[i.name]++
}

func (i mockInstrument) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	i.p.mu.Lock()
	defer i.p.mu.Unlock()
	i.p.gauges[i.name] = value
}
