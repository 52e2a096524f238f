// Package connectivity turns a reachability probe into an online/offline
// event source the offline queue can subscribe to.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Probe reports reachability of the remote endpoint; a nil error means
// online.
type Probe func(ctx context.Context) error

type Monitor struct {
	mu     sync.Mutex
	online bool
	known  bool
	subs   []func(online bool)

	probe    Probe
	interval time.Duration
	log      *zap.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

type Options struct {
	Probe    Probe
	Interval time.Duration
	Logger   *zap.Logger
}

func New(opts Options) *Monitor {
	m := &Monitor{
		probe:    opts.Probe,
		interval: opts.Interval,
		log:      opts.Logger,
		stop:     make(chan struct{}),
	}
	if m.interval <= 0 {
		m.interval = 15 * time.Second
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	return m
}

// Subscribe registers a listener for connectivity transitions. If the state
// is already known the listener is invoked immediately with it.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	known, online := m.known, m.online
	m.mu.Unlock()
	if known {
		fn(online)
	}
}

// SetOnline records a state observation, notifying subscribers only on
// transitions.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.known && m.online == online {
		m.mu.Unlock()
		return
	}
	m.known = true
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if online {
		m.log.Info("connectivity restored")
	} else {
		m.log.Info("connectivity lost")
	}
	for _, fn := range subs {
		fn(online)
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Start probes on an interval until the context ends or Stop is called.
// With no probe configured the monitor is signal-driven only.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			m.check(ctx)
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	err := m.probe(probeCtx)
	if err != nil {
		m.log.Debug("probe failed", zap.Error(err))
	}
	m.SetOnline(err == nil)
}
