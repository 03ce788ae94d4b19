package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"obs-showctl/internal/model"
)

// Event names pushed to a Notifier during a run.
const (
	EventRunState     = "run_state"
	EventTargetResult = "target_result"
)

// Notifier receives progress events. Implementations must be safe for
// concurrent use: target results arrive from parallel dispatches.
type Notifier interface {
	SendEvent(event string, data any) error
}

// StateCommand is the request sent to apply a target state.
type StateCommand struct {
	RequestType string
	Field       string
}

// DefaultStateCommand switches the program scene.
var DefaultStateCommand = StateCommand{RequestType: "SetCurrentProgramScene", Field: "sceneName"}

// RunStateEvent is the payload of a run_state event.
type RunStateEvent struct {
	Show  string         `json:"show,omitempty"`
	State model.RunState `json:"state"`
}

// ShowOrchestrator fans show targets out over the pool. It reads shows only
// from the registry and never retries.
type ShowOrchestrator struct {
	registry *ShowRegistry
	pool     *SessionPool
	command  StateCommand
	logger   log.Logger
}

func NewShowOrchestrator(registry *ShowRegistry, pool *SessionPool, cmd StateCommand, logger log.Logger) *ShowOrchestrator {
	if cmd.RequestType == "" {
		cmd.RequestType = DefaultStateCommand.RequestType
	}
	if cmd.Field == "" {
		cmd.Field = DefaultStateCommand.Field
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ShowOrchestrator{
		registry: registry,
		pool:     pool,
		command:  cmd,
		logger:   log.With(logger, "component", "orchestrator"),
	}
}

// Execute applies every target of a cached show concurrently. Per-target
// failures are recorded in the report; the only error is model.ErrShowNotFound.
func (o *ShowOrchestrator) Execute(ctx context.Context, name string, n Notifier) (*model.ExecutionReport, error) {
	r := o.newRun(name, n)
	r.advance(model.RunResolving)
	show, ok := o.registry.Get(name)
	if !ok {
		level.Warn(o.logger).Log("msg", "show not loaded", "show", name)
		return nil, fmt.Errorf("%w: %s", model.ErrShowNotFound, name)
	}
	return o.dispatch(ctx, r, show.Targets), nil
}

// SetSingle applies one state to one instance with the same result
// semantics as a one-target show.
func (o *ShowOrchestrator) SetSingle(ctx context.Context, instanceID, state string, n Notifier) *model.ExecutionReport {
	r := o.newRun("", n)
	r.advance(model.RunResolving)
	return o.dispatch(ctx, r, []model.TargetState{{Instance: instanceID, State: state}})
}

type run struct {
	report   *model.ExecutionReport
	notifier Notifier
	logger   log.Logger
}

func (o *ShowOrchestrator) newRun(show string, n Notifier) *run {
	r := &run{
		report:   &model.ExecutionReport{Show: show, StartedAt: time.Now()},
		notifier: n,
		logger:   o.logger,
	}
	r.notify(EventRunState, RunStateEvent{Show: show, State: model.RunPending})
	return r
}

func (r *run) advance(st model.RunState) {
	r.report.State = st
	r.notify(EventRunState, RunStateEvent{Show: r.report.Show, State: st})
}

func (r *run) notify(event string, data any) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.SendEvent(event, data); err != nil {
		level.Debug(r.logger).Log("msg", "event not delivered", "event", event, "err", err)
	}
}

func (o *ShowOrchestrator) dispatch(ctx context.Context, r *run, targets []model.TargetState) *model.ExecutionReport {
	r.advance(model.RunDispatching)
	results := fanOut(targets, func(t *model.TargetState) model.TargetResult {
		res := o.apply(ctx, *t)
		r.notify(EventTargetResult, res)
		return res
	})
	if results == nil {
		results = []model.TargetResult{}
	}

	rep := r.report
	rep.Results = results
	rep.Success = len(rep.Failed()) == 0
	rep.FinishedAt = time.Now()
	r.advance(model.RunCompleted)

	if rep.Success {
		level.Info(o.logger).Log("msg", "run completed", "show", rep.Show, "targets", len(results))
	} else {
		level.Warn(o.logger).Log("msg", "run completed with failures", "show", rep.Show,
			"targets", len(results), "failed", len(rep.Failed()))
	}
	return rep
}

func (o *ShowOrchestrator) apply(ctx context.Context, t model.TargetState) model.TargetResult {
	res := model.TargetResult{Target: t}
	sess, err := o.pool.Get(t.Instance)
	if err == nil {
		_, err = sess.Command(ctx, o.command.RequestType, map[string]any{o.command.Field: t.State})
	}
	if err != nil {
		res.Err = err
		res.Reason = model.ErrorCode(err)
		res.Message = err.Error()
		level.Warn(o.logger).Log("msg", "target failed", "instance", t.Instance, "state", t.State, "reason", res.Reason, "err", err)
		return res
	}
	res.OK = true
	return res
}
