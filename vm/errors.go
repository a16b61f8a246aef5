package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// DecodeError reports an invalid opcode number, an out-of-range operand
// (>=32776), or a store target that isn't a register (spec.md §7).
type DecodeError struct {
	Addr         uint16
	OperandIndex int
	cause        error
}

func (e *DecodeError) Error() string {
	if e.OperandIndex >= 0 {
		return fmt.Sprintf("decode error at %d, operand %d: %s", e.Addr, e.OperandIndex, e.cause)
	}
	return fmt.Sprintf("decode error at %d: %s", e.Addr, e.cause)
}

func (e *DecodeError) Unwrap() error { return e.cause }

func newDecodeError(addr uint16, operandIndex int, msg string) *DecodeError {
	return &DecodeError{
		Addr:         addr,
		OperandIndex: operandIndex,
		cause:        errors.WithStack(errors.New(msg)),
	}
}

// StackUnderflow reports a pop on an empty stack (ret on empty stack is not
// an error - Machine.Step halts instead).
type StackUnderflow struct {
	Addr  uint16
	cause error
}

func (e *StackUnderflow) Error() string {
	return fmt.Sprintf("stack underflow at %d: %s", e.Addr, e.cause)
}

func (e *StackUnderflow) Unwrap() error { return e.cause }

func newStackUnderflow(addr uint16) *StackUnderflow {
	return &StackUnderflow{
		Addr:  addr,
		cause: errors.WithStack(errPopEmptyStack),
	}
}

// IOError wraps a failure to load the binary, write/read a snapshot, or
// write a trace/stack/disassembly dump file. The VM is left intact.
type IOError struct {
	Op    string
	Path  string
	cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error during %s %q: %s", e.Op, e.Path, e.cause)
}

func (e *IOError) Unwrap() error { return e.cause }

func newIOError(op, path string, cause error) *IOError {
	return &IOError{Op: op, Path: path, cause: errors.WithMessage(cause, "io")}
}

// UserInputError reports a malformed debugger/meta command. It is routine,
// expected input and is never wrapped with a stack trace.
type UserInputError struct {
	Line string
	Msg  string
}

func (e *UserInputError) Error() string {
	return fmt.Sprintf("%s: %q", e.Msg, e.Line)
}

func newUserInputError(line, msg string) *UserInputError {
	return &UserInputError{Line: line, Msg: msg}
}

// SolverNotFound reports that the teleporter search exhausted its range
// without finding a k that reproduces the target value. This should never
// happen against the shipped binary and is treated as a programmer error.
type SolverNotFound struct {
	Target uint16
	cause  error
}

func (e *SolverNotFound) Error() string {
	return fmt.Sprintf("no register value reproduces target %d: %s", e.Target, e.cause)
}

func (e *SolverNotFound) Unwrap() error { return e.cause }

func newSolverNotFound(target uint16) *SolverNotFound {
	return &SolverNotFound{
		Target: target,
		cause:  errors.WithStack(errors.New("search space exhausted")),
	}
}

var (
	errPopEmptyStack   = errors.New("pop on empty stack")
	errZeroDivisor     = errors.New("division or modulo by zero")
	errBinaryTooLarge  = errors.New("binary exceeds 32768 words")
	errSnapshotInvalid = errors.New("snapshot data is not well-formed")
)
