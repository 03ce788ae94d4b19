package model

import (
	"fmt"
	"time"
)

// Instance is one remotely controlled OBS endpoint.
type Instance struct {
	ID       string `json:"identifier" mapstructure:"identifier" yaml:"identifier"`
	URL      string `json:"url" mapstructure:"url" yaml:"url"`
	Password string `json:"password,omitempty" mapstructure:"password" yaml:"password,omitempty"`
}

// TargetState pairs an instance with the scene it should switch to.
type TargetState struct {
	Instance string `json:"instance" yaml:"instance"`
	State    string `json:"state" yaml:"state"`
}

// Show is a named, ordered list of targets applied as one action.
type Show struct {
	Name    string        `json:"name" yaml:"name"`
	Targets []TargetState `json:"targets" yaml:"targets"`
}

// InstanceStatus is the pool's view of one registered instance.
type InstanceStatus struct {
	ID        string `json:"identifier"`
	URL       string `json:"url"`
	State     string `json:"state"`
	Reachable bool   `json:"reachable"`
}

// OpenOutcome is the result of opening one instance's session.
type OpenOutcome struct {
	InstanceID string `json:"identifier"`
	Connected  bool   `json:"connected"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
	Err        error  `json:"-"`
}

// OpenReport lists one outcome per requested instance, in request order.
type OpenReport struct {
	Outcomes []OpenOutcome `json:"outcomes"`
}

// Failed returns the outcomes that did not connect.
func (r *OpenReport) Failed() []OpenOutcome {
	var out []OpenOutcome
	for _, o := range r.Outcomes {
		if !o.Connected {
			out = append(out, o)
		}
	}
	return out
}

// RunState tracks an orchestration run.
type RunState int

const (
	RunPending RunState = iota
	RunResolving
	RunDispatching
	RunCompleted
)

func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunResolving:
		return "resolving"
	case RunDispatching:
		return "dispatching"
	case RunCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText lets RunState appear as its name in JSON.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RunState) UnmarshalText(b []byte) error {
	for st := RunPending; st <= RunCompleted; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", b)
}

// TargetResult is the outcome of one target within a run.
type TargetResult struct {
	Target  TargetState `json:"target"`
	OK      bool        `json:"ok"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message,omitempty"`
	Err     error       `json:"-"`
}

// ExecutionReport aggregates a show run. Results keep target order.
type ExecutionReport struct {
	Show       string         `json:"show,omitempty"`
	State      RunState       `json:"state"`
	Success    bool           `json:"success"`
	Results    []TargetResult `json:"results"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Failed returns the results that did not succeed.
func (r *ExecutionReport) Failed() []TargetResult {
	var out []TargetResult
	for _, res := range r.Results {
		if !res.OK {
			out = append(out, res)
		}
	}
	return out
}

// Request represents a WebSocket command from the client.
type Request struct {
	RequestID string            `json:"request_id"`
	Command   string            `json:"command"`
	Params    map[string]string `json:"params"`
}

// Response represents a WebSocket response to the client.
type Response struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Code      int    `json:"code"`              // 0 for success, non-zero for error
	Message   string `json:"message,omitempty"` // Error message or status
	Data      any    `json:"data,omitempty"`
}

// Event is pushed to a WebSocket client while a request is in flight.
type Event struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}
