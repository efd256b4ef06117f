package advm

import (
	"errors"
	"fmt"
)

// Sentinel errors for the fault taxonomy. Wrapped with instruction
// position context via fmt.Errorf("...: %w", ...) so callers can still
// unwrap with errors.Is.
var (
	ErrParseError       = errors.New("parse error")
	ErrInvalidBytecode  = errors.New("invalid bytecode")
	ErrStackUnderflow   = errors.New("stack underflow")
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	ErrArithmetic       = errors.New("arithmetic fault")
)

// faultAt wraps a sentinel fault with the function/pc it occurred at.
func faultAt(err error, fn uint32, pc uint32) error {
	return fmt.Errorf("%w at function %d, pc %d", err, fn, pc)
}
