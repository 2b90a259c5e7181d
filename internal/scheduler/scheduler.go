// Package scheduler runs a poller for every data source that is both
// referenced by the active layout and watched by at least one subscriber.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/drewfead/deckhand/internal/logging"
	"github.com/drewfead/deckhand/internal/provider"
)

// MessageTypeLiveData is the push message type for polled values.
const MessageTypeLiveData = "live_data"

// LiveData is pushed to every subscriber on each successful tick.
type LiveData struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Data   any    `json:"data"`
}

// Subscribers reports how many remote sessions are connected.
type Subscribers interface {
	Count() int
}

// Broadcaster fans a message out to every connected session. It must not block.
type Broadcaster interface {
	Broadcast(msg any)
}

// SourcesFunc returns the source names the active layout references.
type SourcesFunc func() []string

// PollerStatus describes one running poller.
type PollerStatus struct {
	Source    string        `json:"source"`
	Interval  time.Duration `json:"interval"`
	Since     time.Time     `json:"since"`
	Ticks     int64         `json:"ticks"`
	Errors    int64         `json:"errors"`
	LastError string        `json:"last_error,omitempty"`
}

type poller struct {
	source   string
	interval time.Duration
	since    time.Time
	cancel   context.CancelFunc

	mu        sync.Mutex
	ticks     int64
	errors    int64
	lastError string
}

func (p *poller) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks++
	if err != nil {
		p.errors++
		p.lastError = err.Error()
	}
}

func (p *poller) status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PollerStatus{
		Source:    p.source,
		Interval:  p.interval,
		Since:     p.since,
		Ticks:     p.ticks,
		Errors:    p.errors,
		LastError: p.lastError,
	}
}

// Scheduler owns the poller table. Only Reconcile and Stop mutate it.
type Scheduler struct {
	registry *provider.Registry
	subs     Subscribers
	out      Broadcaster
	sources  SourcesFunc
	logger   *slog.Logger

	mu      sync.Mutex
	pollers map[string]*poller
	stopped bool
	wg      sync.WaitGroup
}

// New creates a scheduler. No pollers run until the first Refresh.
func New(registry *provider.Registry, subs Subscribers, out Broadcaster, sources SourcesFunc) *Scheduler {
	return &Scheduler{
		registry: registry,
		subs:     subs,
		out:      out,
		sources:  sources,
		logger:   logging.Component("scheduler"),
		pollers:  make(map[string]*poller),
	}
}

// RecomputeNeeded returns the sources that should be polled right now: the
// referenced sources when anyone is subscribed, otherwise none.
func (s *Scheduler) RecomputeNeeded() []string {
	if s.subs.Count() == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var needed []string
	for _, name := range s.sources() {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		needed = append(needed, name)
	}
	sort.Strings(needed)
	return needed
}

// Refresh recomputes the needed set and reconciles against it. Call it on
// subscriber connect and disconnect and after any layout change.
func (s *Scheduler) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcileLocked(s.RecomputeNeeded())
}

// Reconcile stops pollers not in needed and starts the missing ones.
func (s *Scheduler) Reconcile(needed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcileLocked(needed)
}

func (s *Scheduler) reconcileLocked(needed []string) {
	if s.stopped {
		return
	}

	want := make(map[string]bool, len(needed))
	for _, name := range needed {
		want[name] = true
	}

	for name, p := range s.pollers {
		if !want[name] {
			p.cancel()
			delete(s.pollers, name)
			s.logger.Debug("poller stopped", "source", name)
		}
	}

	for _, name := range needed {
		if _, running := s.pollers[name]; running {
			continue
		}
		s.startLocked(name)
	}
}

func (s *Scheduler) startLocked(name string) {
	prov, ok := s.registry.Provider(name)
	if !ok {
		s.logger.Debug("no provider for source", "source", name)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		source:   name,
		interval: prov.Interval(),
		since:    time.Now(),
		cancel:   cancel,
	}
	s.pollers[name] = p

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poll(ctx, p, prov)
	}()
	s.logger.Debug("poller started", "source", name, "interval", p.interval)
}

// poll fetches once immediately, then on every tick until ctx is done.
func (s *Scheduler) poll(ctx context.Context, p *poller, prov provider.Provider) {
	s.tick(ctx, p, prov)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, p, prov)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, p *poller, prov provider.Provider) {
	value, err := s.fetch(ctx, prov)
	p.record(err)
	if err != nil {
		s.logger.Debug("fetch failed", "source", p.source, "error", err)
		return
	}
	if value == nil || ctx.Err() != nil {
		return
	}
	s.out.Broadcast(LiveData{Type: MessageTypeLiveData, Source: p.source, Data: value})
}

func (s *Scheduler) fetch(ctx context.Context, prov provider.Provider) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "component", "scheduler", "source", prov.Name())
			value, err = nil, fmt.Errorf("panic in fetch: %v", r)
		}
	}()
	return prov.Fetch(ctx)
}

// Running returns the sources with a live poller, sorted.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.pollers))
	for name := range s.pollers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports every running poller, sorted by source.
func (s *Scheduler) Status() []PollerStatus {
	s.mu.Lock()
	pollers := make([]*poller, 0, len(s.pollers))
	for _, p := range s.pollers {
		pollers = append(pollers, p)
	}
	s.mu.Unlock()

	out := make([]PollerStatus, 0, len(pollers))
	for _, p := range pollers {
		out = append(out, p.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Stop cancels every poller and waits for them to exit. Later refreshes are
// ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for name, p := range s.pollers {
		p.cancel()
		delete(s.pollers, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
