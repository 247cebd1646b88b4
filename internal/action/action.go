// Package action defines the client side of an asynchronous goal protocol:
// a goal is dispatched, zero or more feedback snapshots arrive, and exactly
// one terminal result or dispatch error ends the exchange.
package action

import (
	"context"
	"errors"
	"fmt"
)

// ResultCode is the terminal status reported by the remote side.
type ResultCode int

const (
	ResultUnknown ResultCode = iota
	ResultSucceeded
	ResultAborted
	ResultCanceled
)

func (c ResultCode) String() string {
	switch c {
	case ResultSucceeded:
		return "SUCCEEDED"
	case ResultAborted:
		return "ABORTED"
	case ResultCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// ParseResultCode is the inverse of String. Unrecognized text maps to ResultUnknown.
func ParseResultCode(s string) ResultCode {
	switch s {
	case "SUCCEEDED":
		return ResultSucceeded
	case "ABORTED":
		return ResultAborted
	case "CANCELED":
		return ResultCanceled
	default:
		return ResultUnknown
	}
}

// ResultCodeFor maps the outcome of a goal handler: cancellation of the goal
// context wins, any other error aborts.
func ResultCodeFor(goalCtx context.Context, err error) ResultCode {
	switch {
	case goalCtx.Err() != nil:
		return ResultCanceled
	case err != nil:
		return ResultAborted
	default:
		return ResultSucceeded
	}
}

// ErrorCode enumerates the ways a dispatch can fail before a result exists.
type ErrorCode int

const (
	ErrServerUnreachable ErrorCode = iota
	ErrSendGoalTimeout
	ErrGoalRejectedByServer
	ErrActionAborted
	ErrActionCancelled
	ErrInvalidGoal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrServerUnreachable:
		return "SERVER_UNREACHABLE"
	case ErrSendGoalTimeout:
		return "SEND_GOAL_TIMEOUT"
	case ErrGoalRejectedByServer:
		return "GOAL_REJECTED_BY_SERVER"
	case ErrActionAborted:
		return "ACTION_ABORTED"
	case ErrActionCancelled:
		return "ACTION_CANCELLED"
	case ErrInvalidGoal:
		return "INVALID_GOAL"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// DispatchError carries the failure kind of a goal that never produced a result.
type DispatchError struct {
	Code ErrorCode
	Err  error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func NewDispatchError(code ErrorCode, err error) *DispatchError {
	return &DispatchError{Code: code, Err: err}
}

// CodeOf extracts the dispatch failure kind from err. Deadline errors map to
// ErrSendGoalTimeout, cancellation to ErrActionCancelled, anything else to
// ErrServerUnreachable.
func CodeOf(err error) ErrorCode {
	var de *DispatchError
	switch {
	case errors.As(err, &de):
		return de.Code
	case errors.Is(err, context.DeadlineExceeded):
		return ErrSendGoalTimeout
	case errors.Is(err, context.Canceled):
		return ErrActionCancelled
	default:
		return ErrServerUnreachable
	}
}

// WrappedResult is the terminal outcome of one goal.
type WrappedResult[R any] struct {
	GoalID string
	Code   ResultCode
	Result R
}

// Event is either a feedback snapshot or the terminal result of a goal.
type Event[F, R any] struct {
	Feedback *F
	Result   *WrappedResult[R]
}

func (e Event[F, R]) IsResult() bool { return e.Result != nil }

// Handle tracks one accepted goal. Events delivers feedback in order followed
// by exactly one result, then closes.
type Handle[F, R any] interface {
	GoalID() string
	Events() <-chan Event[F, R]
	Cancel(ctx context.Context) error
}

// Client dispatches goals of type G. SendGoal returns once the goal was
// accepted; a non-nil error means no events will ever be delivered.
type Client[G, F, R any] interface {
	SendGoal(ctx context.Context, goal G) (Handle[F, R], error)
}
