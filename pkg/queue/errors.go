package queue

import "errors"

var (
	ErrNoSuchPID     = errors.New("no such pid")
	ErrPermission    = errors.New("permission denied")
	ErrBadSignal     = errors.New("invalid signal")
	ErrNotTimed      = errors.New("entry is not waiting")
	ErrNegativeDelay = errors.New("negative delay")
	ErrNoFreePID     = errors.New("no free pid")
	ErrHalted        = errors.New("object is halted")
	ErrNoFunds       = errors.New("not enough money to queue command")
	ErrRunaway       = errors.New("too many commands queued")
	ErrInvalidActor  = errors.New("invalid actor")
)

// Codes returned to softcode for failed signal operations.
const (
	CodeNoSuchPID  = -1
	CodeBadSignal  = -2
	CodePermission = -3
)

// SignalCode maps a signal error to its negative code, or 0 for nil.
func SignalCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrPermission):
		return CodePermission
	case errors.Is(err, ErrBadSignal), errors.Is(err, ErrNotTimed), errors.Is(err, ErrNegativeDelay):
		return CodeBadSignal
	}
	return CodeNoSuchPID
}

// SignalString renders a signal code the way softcode sees it.
func SignalString(code int) string {
	switch code {
	case CodeNoSuchPID:
		return "#-1 NO SUCH PID"
	case CodeBadSignal:
		return "#-1 INVALID SIGNAL"
	case CodePermission:
		return "#-1 PERMISSION DENIED"
	}
	return ""
}
