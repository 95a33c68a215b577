package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                 = errors.New("order not found")
	ErrInvalidOrder             = errors.New("invalid order")
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrInvalidPaymentTransition = errors.New("invalid payment transition")
)

type InvalidStatusTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidStatusTransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}

type InvalidPaymentTransitionError struct {
	From PaymentStatus
	To   PaymentStatus
}

func (e *InvalidPaymentTransitionError) Error() string {
	return fmt.Sprintf("invalid payment transition %s -> %s", e.From, e.To)
}

func (e *InvalidPaymentTransitionError) Is(target error) bool {
	return target == ErrInvalidPaymentTransition
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOrder, fmt.Sprintf(format, args...))
}
