package booking

import (
	"errors"
	"fmt"
)

// Business-rule violations are detected before any mutation is applied;
// handlers map them to stable HTTP codes. ErrAllocation is the only
// retryable kind: it signals storage trouble, never contention.
var (
	ErrNotFound          = errors.New("appointment not found")
	ErrInvalidTransition = errors.New("status transition not permitted")
	ErrInvalidTime       = errors.New("requested time is in the past")
	ErrNotReschedulable  = errors.New("appointment is no longer reschedulable")
	ErrAllocation        = errors.New("token allocation failed")
)

// ErrOutsideBookingDay wraps ErrInvalidTime so existing checks keep
// matching, while callers who care can tell a wrong-day reschedule apart
// from a time in the past.
var ErrOutsideBookingDay = fmt.Errorf("%w: requested start is outside the booking day", ErrInvalidTime)
