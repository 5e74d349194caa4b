// Package task adapts the payment guard to task-based agent transports,
// where work is delegated as a long-running task and progress is streamed
// back as status events. Credits charged for the task are reported once, as
// metadata on the terminal event.
package task

import (
	"context"
	"time"

	"github.com/google/uuid"

	paygate "github.com/paygate-labs/paygate-go"
)

// State is the lifecycle state of a task.
type State string

const (
	StateSubmitted State = "submitted"
	StateWorking   State = "working"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Terminal reports whether the state ends the task.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// Metadata keys carried on status events.
const (
	// MetaCreditsUsed is set on the terminal event only. Zero on failure
	// and cancellation.
	MetaCreditsUsed = "creditsUsed"

	// MetaPaymentRequired carries a PaymentRequired payload when the task
	// was rejected before execution.
	MetaPaymentRequired = "paymentRequired"
)

// StatusEvent is one update in a task's event stream.
type StatusEvent struct {
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId,omitempty"`
	State     State          `json:"state"`
	Text      string         `json:"text,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Final     bool           `json:"final"`
	Timestamp time.Time      `json:"timestamp"`
}

// Request is one delegated task.
type Request struct {
	TaskID     string
	ContextID  string
	ResourceID string
	Credential *paygate.Credential
	Text       string
	Inputs     map[string]any
}

// Handler runs the task's actual work and returns the response text. The
// returned text feeds dynamic pricing.
type Handler func(ctx context.Context, req Request) (string, error)

// Sink receives status events in order. The executor calls it from the
// goroutine running the task; implementations that fan out to streams must
// do their own buffering.
type Sink func(StatusEvent)

// Executor runs delegated tasks through a payment guard and streams their
// lifecycle. Every task gets a submitted event, a working event, and
// exactly one terminal event carrying creditsUsed metadata.
type Executor struct {
	guard *paygate.Guard
	now   func() time.Time
}

// NewExecutor creates an executor over the given guard.
func NewExecutor(guard *paygate.Guard) *Executor {
	return &Executor{guard: guard, now: time.Now}
}

// Execute runs one task end to end, emitting events to the sink. It blocks
// until the terminal event has been emitted.
func (e *Executor) Execute(ctx context.Context, req Request, handler Handler, emit Sink) {
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	if req.ContextID == "" {
		req.ContextID = uuid.NewString()
	}

	emit(e.event(req, StateSubmitted, "", nil, false))
	emit(e.event(req, StateWorking, "Processing request...", nil, false))

	call := paygate.Call{
		ResourceID: req.ResourceID,
		Credential: req.Credential,
		Inputs:     req.Inputs,
	}
	outcome := e.guard.Do(ctx, call, func(ctx context.Context, _ map[string]any) (any, error) {
		return handler(ctx, req)
	})

	switch outcome.Kind {
	case paygate.OutcomeRejected:
		emit(e.event(req, StateFailed, "payment required: "+outcome.Required.Reason, map[string]any{
			MetaCreditsUsed:     int64(0),
			MetaPaymentRequired: outcome.Required,
		}, true))

	case paygate.OutcomeFailed:
		state := StateFailed
		if outcome.Failure == paygate.FailureCanceled {
			state = StateCanceled
		}
		emit(e.event(req, state, "Error: "+outcome.Err.Error(), map[string]any{
			MetaCreditsUsed: int64(0),
		}, true))

	default:
		text, _ := outcome.Output.(string)
		var credits int64
		if outcome.Receipt != nil && outcome.Receipt.Success {
			credits = outcome.Receipt.CreditsCharged
		}
		emit(e.event(req, StateCompleted, text, map[string]any{
			MetaCreditsUsed: credits,
		}, true))
	}
}

// Cancel emits the terminal event for a task canceled before or during
// execution. No credits are charged for canceled tasks.
func (e *Executor) Cancel(req Request, emit Sink) {
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	emit(e.event(req, StateCanceled, "Task canceled.", map[string]any{
		MetaCreditsUsed: int64(0),
	}, true))
}

func (e *Executor) event(req Request, state State, text string, md map[string]any, final bool) StatusEvent {
	return StatusEvent{
		TaskID:    req.TaskID,
		ContextID: req.ContextID,
		State:     state,
		Text:      text,
		Metadata:  md,
		Final:     final,
		Timestamp: e.now(),
	}
}
