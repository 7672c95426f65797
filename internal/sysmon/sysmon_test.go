package sysmon

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsgate/backend/internal/event"
	"github.com/obsgate/backend/internal/logging"
	"github.com/obsgate/backend/internal/observation"
	"github.com/obsgate/backend/internal/publish"
)

type fakeReader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeReader) Read(context.Context) (Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return Reading{}, r.err
	}
	return Reading{
		Host:       event.Host{Name: "gw-1", OS: "linux"},
		CPUPercent: 42.5,
		RSSBytes:   1 << 20,
		Goroutines: 12,
	}, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []publish.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, env publish.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envs)
}

func TestPublishReading(t *testing.T) {
	pub := &recordingPublisher{}
	m := New(&fakeReader{}, pub, time.Hour, func() Counts { return Counts{Connections: 3, Listeners: 7} }, logging.Discard())

	require.NoError(t, m.publishReading(context.Background()))
	require.Len(t, pub.envs, 1)

	env := pub.envs[0]
	assert.Equal(t, event.KindSystemStats, env.Type)
	assert.Equal(t, map[string]any{"host": "gw-1", "cpuPercent": 42.5}, env.Params)
	assert.JSONEq(t, `{"name":"gw-1","os":"linux"}`, string(env.Source))
	assert.JSONEq(t, `{"cpuPercent":42.5,"rssBytes":1048576,"goroutines":12,"connections":3,"listeners":7}`, string(env.Data))
}

func TestReadingReachesFilteredListeners(t *testing.T) {
	bus := observation.NewBus(logging.Discard())
	resolver := event.NewResolver(event.DefaultCatalog(), nil)

	busy, err := resolver.Resolve(event.KindSystemStats, map[string]any{"host": "gw-1", "minCpuPercent": 40})
	require.NoError(t, err)
	idle, err := resolver.Resolve(event.KindSystemStats, map[string]any{"host": "gw-1", "minCpuPercent": 90})
	require.NoError(t, err)

	var gotBusy, gotIdle int
	var source any
	require.NoError(t, bus.AddListener("busy", []event.Event{busy}, func(_ event.Event, s, _ any) { gotBusy++; source = s }))
	require.NoError(t, bus.AddListener("idle", []event.Event{idle}, func(event.Event, any, any) { gotIdle++ }))

	m := New(&fakeReader{}, publish.NewLocal(resolver, bus, logging.Discard(), nil), time.Hour, nil, logging.Discard())
	require.NoError(t, m.publishReading(context.Background()))

	assert.Equal(t, 1, gotBusy)
	assert.Equal(t, 0, gotIdle)
	assert.Equal(t, event.Host{Name: "gw-1", OS: "linux"}, source)
}

func TestStart_SkipsFailedReadsAndStops(t *testing.T) {
	reader := &fakeReader{err: errors.New("no /proc")}
	pub := &recordingPublisher{}
	m := New(reader, pub, 5*time.Millisecond, nil, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return reader.calls >= 3
	}, time.Second, time.Millisecond)
	assert.Zero(t, pub.count())

	reader.mu.Lock()
	reader.err = nil
	reader.mu.Unlock()
	require.Eventually(t, func() bool { return pub.count() > 0 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestProcessReader(t *testing.T) {
	r, err := NewProcessReader()
	require.NoError(t, err)

	reading, err := r.Read(context.Background())
	if err != nil {
		t.Skipf("process readings unavailable here: %v", err)
	}
	assert.NotEmpty(t, reading.Host.Name)
	assert.Positive(t, reading.RSSBytes)
	assert.Positive(t, reading.Goroutines)

	_, err = json.Marshal(reading.Host)
	assert.NoError(t, err)
}
