// Package sampler drives the collectors on a fixed tick, keeps their
// histories and fans finished snapshots out to subscribers.
package sampler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aiz-dev/hwtelemetry/internal/gputelemetry"
	"github.com/aiz-dev/hwtelemetry/internal/metrics"
	"github.com/aiz-dev/hwtelemetry/internal/procscan"
)

// GPUSource samples every GPU.
type GPUSource interface {
	SampleAll() []gputelemetry.Telemetry
}

// ProcessSource ranks processes by CPU usage.
type ProcessSource interface {
	SampleTop(n int) []procscan.ProcessInfo
}

// Options configures a Manager.
type Options struct {
	Interval         time.Duration
	TimelineCapacity int
	Collectors       []metrics.Collector
	// GPUs and Processes are optional.
	GPUs      GPUSource
	Processes ProcessSource
	TopN      int
	Now       func() time.Time
}

// Manager owns the collectors. All collector, GPU and process sampling
// happens on the goroutine running Run.
type Manager struct {
	interval   time.Duration
	collectors []metrics.Collector
	gpus       GPUSource
	processes  ProcessSource
	topN       int
	now        func() time.Time
	logger     *slog.Logger

	mu          sync.RWMutex
	seq         uint64
	latest      *Snapshot
	timelines   map[string]*metrics.Timeline
	units       map[string]string
	subscribers map[*subscriber]struct{}
	closed      bool
	closeOnce   sync.Once
}

// NewManager validates opts and builds a Manager. Collector names must be
// unique because timelines are keyed by them.
func NewManager(opts Options, logger *slog.Logger) (*Manager, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if opts.TimelineCapacity < 0 {
		return nil, errors.New("timeline capacity must be >= 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	timelines := make(map[string]*metrics.Timeline, len(opts.Collectors))
	for _, c := range opts.Collectors {
		if _, dup := timelines[c.Name()]; dup {
			return nil, errors.New("duplicate collector " + c.Name())
		}
		timelines[c.Name()] = metrics.NewTimeline(opts.TimelineCapacity)
	}

	return &Manager{
		interval:    opts.Interval,
		collectors:  opts.Collectors,
		gpus:        opts.GPUs,
		processes:   opts.Processes,
		topN:        opts.TopN,
		now:         now,
		logger:      logger.With("component", "sampler_manager"),
		timelines:   timelines,
		units:       make(map[string]string, len(opts.Collectors)),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// Run samples immediately and then on every interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("sampler started", "interval", m.interval, "collectors", len(m.collectors))

	m.tick()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sampler stopping", "reason", ctx.Err())
			m.Close()
			return nil
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	snap := Snapshot{
		Timestamp: m.now(),
		Metrics:   make([]Metric, 0, len(m.collectors)),
		GPUs:      []gputelemetry.Telemetry{},
		Processes: []procscan.ProcessInfo{},
	}

	type push struct {
		name  string
		unit  string
		value float64
	}
	pushes := make([]push, 0, len(m.collectors))

	for _, c := range m.collectors {
		sample, ok := c.Sample()
		metric := Metric{Name: c.Name()}
		if !ok {
			m.logger.Debug("collector read failed", "collector", c.Name())
			snap.Metrics = append(snap.Metrics, metric)
			continue
		}
		value := sample.Value
		metric.Value = &value
		metric.Unit = sample.Unit
		metric.Label = sample.Label
		metric.Warming = sample.Warming()
		snap.Metrics = append(snap.Metrics, metric)
		if !metric.Warming {
			pushes = append(pushes, push{name: c.Name(), unit: sample.Unit, value: value})
		}
	}

	if m.gpus != nil {
		snap.GPUs = m.gpus.SampleAll()
	}
	if m.processes != nil && m.topN > 0 {
		snap.Processes = m.processes.SampleTop(m.topN)
	}

	m.mu.Lock()
	for _, p := range pushes {
		m.timelines[p.name].Push(p.value)
		m.units[p.name] = p.unit
	}
	m.seq++
	snap.Sequence = m.seq
	m.latest = &snap

	targets := make([]*subscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		targets = append(targets, sub)
	}
	m.mu.Unlock()

	for _, sub := range targets {
		sub.send(snap)
	}
}

// Latest returns the most recent snapshot.
func (m *Manager) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Snapshot{}, false
	}
	return *m.latest, true
}

// Ready reports whether at least one snapshot has been published.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest != nil
}

// Timelines copies every collector history in collector order.
func (m *Manager) Timelines() []Series {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Series, 0, len(m.collectors))
	for _, c := range m.collectors {
		name := c.Name()
		tl := m.timelines[name]
		s := Series{
			Name:     name,
			Unit:     m.units[name],
			Capacity: tl.Capacity(),
			Values:   tl.Values(),
		}
		if tl.Size() > 0 {
			peak := tl.Max()
			s.Max = &peak
		}
		out = append(out, s)
	}
	return out
}

// Timeline returns one collector history.
func (m *Manager) Timeline(name string) (Series, bool) {
	for _, s := range m.Timelines() {
		if s.Name == name {
			return s, true
		}
	}
	return Series{}, false
}

// Subscribe registers a listener. The latest snapshot, if any, is delivered
// right away. Slow listeners only ever see the newest snapshot. After Close
// the returned channel is already closed.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	sub := newSubscriber()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sub.close()
		return sub.channel(), func() {}
	}
	m.subscribers[sub] = struct{}{}
	if m.latest != nil {
		sub.send(*m.latest)
	}
	m.mu.Unlock()

	return sub.channel(), func() { m.removeSubscriber(sub) }
}

// Subscribers reports the number of active listeners.
func (m *Manager) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

func (m *Manager) removeSubscriber(sub *subscriber) {
	m.mu.Lock()
	delete(m.subscribers, sub)
	m.mu.Unlock()
	sub.close()
}

// Close closes every subscription channel. Safe for repeated use.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		subs := m.subscribers
		m.subscribers = make(map[*subscriber]struct{})
		m.mu.Unlock()
		for sub := range subs {
			sub.close()
		}
	})
}

type subscriber struct {
	ch     chan Snapshot
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan Snapshot, 1),
	}
}

func (s *subscriber) channel() <-chan Snapshot {
	return s.ch
}

func (s *subscriber) send(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
		return
	default:
		// Drop oldest to make room.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- snap:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
