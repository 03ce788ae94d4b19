package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"obs-showctl/internal/data"
	"obs-showctl/internal/model"
	"obs-showctl/pkg/obsws"
)

// Options tune the core components.
type Options struct {
	StateCommand   StateCommand
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Service is the action surface the API layers call into.
type Service struct {
	Store        data.ConfigStore
	Source       data.InstanceSource
	Pool         *SessionPool
	Registry     *ShowRegistry
	Orchestrator *ShowOrchestrator

	logger log.Logger
}

// NewService wires the pool, registry and orchestrator. source decides which
// instances the pool connects to; pass store to use stored instances.
func NewService(opts Options, store data.ConfigStore, source data.InstanceSource, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if source == nil {
		source = store
	}
	pool := NewSessionPool(logger,
		obsws.WithConnectTimeout(opts.ConnectTimeout),
		obsws.WithCommandTimeout(opts.CommandTimeout),
	)
	registry := NewShowRegistry(store, logger)
	return &Service{
		Store:        store,
		Source:       source,
		Pool:         pool,
		Registry:     registry,
		Orchestrator: NewShowOrchestrator(registry, pool, opts.StateCommand, logger),
		logger:       log.With(logger, "component", "service"),
	}
}

// Start loads the show cache and connects every instance. Store failures
// are logged and the affected part starts empty.
func (s *Service) Start(ctx context.Context) {
	if err := s.Registry.LoadAll(ctx); err != nil {
		level.Error(s.logger).Log("msg", "show cache starts empty", "err", err)
	}
	report, err := s.Pool.Reconnect(ctx, s.Source)
	if err != nil {
		level.Error(s.logger).Log("msg", "session pool starts empty", "err", err)
		return
	}
	for _, o := range report.Failed() {
		level.Warn(s.logger).Log("msg", "instance not connected at startup", "instance", o.InstanceID, "reason", o.Reason)
	}
}

// Shutdown closes every session.
func (s *Service) Shutdown() {
	s.Pool.CloseAll()
}

func (s *Service) ExecuteShow(ctx context.Context, name string, n Notifier) (*model.ExecutionReport, error) {
	return s.Orchestrator.Execute(ctx, name, n)
}

func (s *Service) SetState(ctx context.Context, instanceID, state string, n Notifier) (*model.ExecutionReport, error) {
	if instanceID == "" || state == "" {
		return nil, fmt.Errorf("%w: instance and state are required", model.ErrInvalid)
	}
	return s.Orchestrator.SetSingle(ctx, instanceID, state, n), nil
}

func (s *Service) LoadShow(ctx context.Context, name string) error {
	return s.Registry.Load(ctx, name)
}

func (s *Service) UnloadShow(name string) error {
	return s.Registry.Unload(name)
}

func (s *Service) ShowNames() []string {
	return s.Registry.Names()
}

// CachedShow returns the loaded definition of a show.
func (s *Service) CachedShow(name string) (model.Show, error) {
	show, ok := s.Registry.Get(name)
	if !ok {
		return model.Show{}, fmt.Errorf("%w: %s", model.ErrShowNotFound, name)
	}
	return show, nil
}

func (s *Service) ReconnectAll(ctx context.Context) (*model.OpenReport, error) {
	return s.Pool.Reconnect(ctx, s.Source)
}

// ReconnectInstance reopens a single configured instance.
func (s *Service) ReconnectInstance(ctx context.Context, id string) (*model.OpenReport, error) {
	instances, err := s.Source.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	for _, inst := range instances {
		if inst.ID == id {
			return s.Pool.OpenAll(ctx, []model.Instance{inst}), nil
		}
	}
	return nil, fmt.Errorf("%w: instance %s is not configured", model.ErrNotFound, id)
}

func (s *Service) Instances() []model.InstanceStatus {
	return s.Pool.Statuses()
}

// SceneList asks one instance for its scenes.
func (s *Service) SceneList(ctx context.Context, id string) (*obsws.SceneList, error) {
	sess, err := s.Pool.Get(id)
	if err != nil {
		return nil, err
	}
	resp, err := sess.Command(ctx, "GetSceneList", nil)
	if err != nil {
		return nil, err
	}
	var list obsws.SceneList
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *Service) StoredShowNames(ctx context.Context) ([]string, error) {
	return s.Store.ListShowNames(ctx)
}

func (s *Service) StoredShow(ctx context.Context, name string) (*model.Show, error) {
	return s.Store.GetShow(ctx, name)
}

// SaveShow creates the show under name, or replaces it if it already exists.
// The cache is not touched; call LoadShow to pick up the change.
func (s *Service) SaveShow(ctx context.Context, name string, show *model.Show) error {
	if show.Name == "" {
		show.Name = name
	}
	if show.Targets == nil {
		show.Targets = []model.TargetState{}
	}
	err := s.Store.ReplaceShow(ctx, name, show)
	if errors.Is(err, model.ErrNotFound) {
		if show.Name != name {
			return err
		}
		return s.Store.CreateShow(ctx, show)
	}
	return err
}

func (s *Service) DeleteShow(ctx context.Context, name string) error {
	return s.Store.DeleteShow(ctx, name)
}
