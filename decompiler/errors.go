package decompiler

import (
	"errors"
	"fmt"

	"github.com/chazu/sqdis/bytecode"
)

var (
	// ErrUnsupportedOpcode is returned for instructions the decompiler
	// does not translate.
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	// ErrNotImplemented is returned for recognized constructs that are not
	// reconstructed, such as class bodies.
	ErrNotImplemented = errors.New("not implemented")
	// ErrState is returned when the bytecode violates the slot discipline
	// the decompiler relies on.
	ErrState = errors.New("inconsistent decompiler state")
)

// Error locates a decompilation failure.
type Error struct {
	Function string
	Pos      int
	Op       bytecode.Opcode
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s at %d: %v", e.Function, e.Op, e.Pos, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
