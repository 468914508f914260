package growable

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on an array after Close.
	ErrClosed = errors.New("growable: array closed")

	// ErrExhausted is returned when a segment cannot be allocated. The
	// underlying cause (e.g. resource.ErrMemoryLimitExceeded) is wrapped.
	ErrExhausted = errors.New("growable: segment allocation exhausted")

	// ErrNilGuard is the panic value for GetOrCreate called without a guard.
	ErrNilGuard = errors.New("growable: nil guard")

	// ErrForeignGuard is the panic value for a guard pinned on another collector.
	ErrForeignGuard = errors.New("growable: guard from a different collector")
)

// ErrInvalidSegmentBits indicates a segment width outside the supported range.
type ErrInvalidSegmentBits struct {
	Bits  int
	cause error
}

func (e *ErrInvalidSegmentBits) Error() string {
	return fmt.Sprintf("growable: invalid segment bits: %d", e.Bits)
}

func (e *ErrInvalidSegmentBits) Unwrap() error { return e.cause }

// exhausted wraps an allocation failure so that both ErrExhausted and the
// original cause match errors.Is.
type exhausted struct {
	Index uint64
	Level int
	cause error
}

func (e *exhausted) Error() string {
	return fmt.Sprintf("growable: segment allocation exhausted at level %d for index %d: %v", e.Level, e.Index, e.cause)
}

func (e *exhausted) Is(target error) bool { return target == ErrExhausted }

func (e *exhausted) Unwrap() error { return e.cause }
