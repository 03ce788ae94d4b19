package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/iter"

	"obs-showctl/internal/data"
	"obs-showctl/internal/model"
	"obs-showctl/pkg/obsws"
)

// SessionPool owns one obsws.Session per instance identifier. It is the only
// place sessions are created, replaced or closed.
//
// Replacement at a key is serialized by a per-key mutex: the new session is
// opened, swapped into the map under mu, and only then is the old one
// closed. Readers therefore see either the old live session or the new one.
type SessionPool struct {
	logger   log.Logger
	sessOpts []obsws.Option

	mu       sync.RWMutex
	sessions map[string]*obsws.Session

	keyMu sync.Mutex
	keys  map[string]*sync.Mutex
}

func NewSessionPool(logger log.Logger, opts ...obsws.Option) *SessionPool {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &SessionPool{
		logger:   log.With(logger, "component", "session_pool"),
		sessOpts: opts,
		sessions: make(map[string]*obsws.Session),
		keys:     make(map[string]*sync.Mutex),
	}
}

// OpenAll opens a session for every instance concurrently and returns one
// outcome per entry, in input order. A failed open never affects siblings.
func (p *SessionPool) OpenAll(ctx context.Context, instances []model.Instance) *model.OpenReport {
	outcomes := fanOut(instances, func(inst *model.Instance) model.OpenOutcome {
		return p.open(ctx, *inst)
	})
	if outcomes == nil {
		outcomes = []model.OpenOutcome{}
	}
	report := &model.OpenReport{Outcomes: outcomes}
	level.Info(p.logger).Log("msg", "open finished", "requested", len(instances), "failed", len(report.Failed()))
	return report
}

// Reconnect lists instances from src and reopens all of them. Sessions for
// instances no longer listed are closed and dropped. Only a failure to list
// is returned as an error; the pool is left untouched in that case.
func (p *SessionPool) Reconnect(ctx context.Context, src data.InstanceSource) (*model.OpenReport, error) {
	instances, err := src.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	keep := make(map[string]bool, len(instances))
	for _, inst := range instances {
		keep[inst.ID] = true
	}
	p.prune(keep)
	return p.OpenAll(ctx, instances), nil
}

// prune closes and removes every session whose id is not in keep.
func (p *SessionPool) prune(keep map[string]bool) {
	p.mu.RLock()
	var stale []string
	for id := range p.sessions {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	p.mu.RUnlock()

	for _, id := range stale {
		lock := p.keyLock(id)
		lock.Lock()
		p.mu.Lock()
		sess := p.sessions[id]
		delete(p.sessions, id)
		p.mu.Unlock()
		lock.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		level.Info(p.logger).Log("msg", "instance removed", "instance", id)
	}
}

func (p *SessionPool) open(ctx context.Context, inst model.Instance) model.OpenOutcome {
	out := model.OpenOutcome{InstanceID: inst.ID}
	if err := inst.Validate(); err != nil {
		return failed(out, err)
	}

	lock := p.keyLock(inst.ID)
	lock.Lock()
	defer lock.Unlock()

	opts := append(append([]obsws.Option(nil), p.sessOpts...),
		obsws.WithLogger(log.With(p.logger, "instance", inst.ID)))
	sess := obsws.NewSession(inst.URL, inst.Password, opts...)
	if err := sess.Open(ctx); err != nil {
		// Register the endpoint so Get reports NotConnected rather than
		// NotFound, but never displace an existing session.
		p.mu.Lock()
		if _, ok := p.sessions[inst.ID]; !ok {
			p.sessions[inst.ID] = sess
		}
		p.mu.Unlock()
		level.Warn(p.logger).Log("msg", "instance unreachable", "instance", inst.ID, "url", inst.URL, "err", err)
		return failed(out, err)
	}

	p.mu.Lock()
	old := p.sessions[inst.ID]
	p.sessions[inst.ID] = sess
	p.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	level.Info(p.logger).Log("msg", "instance connected", "instance", inst.ID, "url", inst.URL)
	out.Connected = true
	return out
}

// fanOut runs f on every element at once and returns results in input
// order. iter.Map alone caps workers at GOMAXPROCS.
func fanOut[T, R any](xs []T, f func(*T) R) []R {
	if len(xs) == 0 {
		return nil
	}
	return iter.Mapper[T, R]{MaxGoroutines: len(xs)}.Map(xs, f)
}

func failed(out model.OpenOutcome, err error) model.OpenOutcome {
	out.Err = err
	out.Reason = model.ErrorCode(err)
	out.Message = err.Error()
	return out
}

func (p *SessionPool) keyLock(id string) *sync.Mutex {
	p.keyMu.Lock()
	defer p.keyMu.Unlock()
	m, ok := p.keys[id]
	if !ok {
		m = &sync.Mutex{}
		p.keys[id] = m
	}
	return m
}

// Get returns the identified session for id. It fails with model.ErrNotFound
// when id was never registered and obsws.ErrNotConnected when the session is
// not currently identified.
func (p *SessionPool) Get(id string) (*obsws.Session, error) {
	p.mu.RLock()
	sess, ok := p.sessions[id]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", model.ErrNotFound, id)
	}
	if st := sess.State(); st != obsws.StateIdentified {
		return nil, fmt.Errorf("%w: instance %s is %s", obsws.ErrNotConnected, id, st)
	}
	return sess, nil
}

// CloseAll closes every session concurrently. Entries stay registered in the
// Closed state, so Get keeps reporting NotConnected for them.
func (p *SessionPool) CloseAll() {
	p.mu.RLock()
	sessions := make([]*obsws.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	var wg conc.WaitGroup
	for _, s := range sessions {
		s := s
		wg.Go(func() { _ = s.Close() })
	}
	wg.Wait()
	level.Debug(p.logger).Log("msg", "sessions closed", "count", len(sessions))
}

// Statuses returns a snapshot of every registered instance, sorted by id.
func (p *SessionPool) Statuses() []model.InstanceStatus {
	p.mu.RLock()
	out := make([]model.InstanceStatus, 0, len(p.sessions))
	for id, s := range p.sessions {
		st := s.State()
		out = append(out, model.InstanceStatus{
			ID:        id,
			URL:       s.URL(),
			State:     st.String(),
			Reachable: st == obsws.StateIdentified,
		})
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
