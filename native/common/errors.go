package common

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the native engines.
var (
	// ErrInsufficientLiquidity is returned when no route or swap clears a
	// positive output.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInvalidPoolState is returned when pool reserves cannot support the
	// requested operation (for example a zero reserve).
	ErrInvalidPoolState = errors.New("invalid pool state")
)

// NotFoundError reports an unknown entity identifier.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NewNotFound constructs a NotFoundError.
func NewNotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// InvalidStateError reports an operation attempted outside the entity's
// allowed lifecycle states.
type InvalidStateError struct {
	Entity string
	State  string
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s in state %s cannot %s", e.Entity, e.State, e.Action)
}

// NewInvalidState constructs an InvalidStateError.
func NewInvalidState(entity, state, action string) error {
	return &InvalidStateError{Entity: entity, State: state, Action: action}
}

// IsInvalidState reports whether err is (or wraps) an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// InvalidParametersError reports malformed caller input: non-positive
// amounts, expired deadlines, mismatched assets.
type InvalidParametersError struct {
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return "invalid parameters: " + e.Reason
}

// NewInvalidParameters constructs an InvalidParametersError.
func NewInvalidParameters(format string, args ...interface{}) error {
	return &InvalidParametersError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidParameters reports whether err is (or wraps) an
// InvalidParametersError.
func IsInvalidParameters(err error) bool {
	var target *InvalidParametersError
	return errors.As(err, &target)
}

// ChainInteractionError wraps a failure from the transaction builder or the
// chain provider. The underlying cause is preserved for errors.Is/As.
type ChainInteractionError struct {
	Op  string
	Err error
}

func (e *ChainInteractionError) Error() string {
	return fmt.Sprintf("chain interaction %s: %v", e.Op, e.Err)
}

func (e *ChainInteractionError) Unwrap() error { return e.Err }

// WrapChain constructs a ChainInteractionError around err.
func WrapChain(op string, err error) error {
	return &ChainInteractionError{Op: op, Err: err}
}

// IsChainInteraction reports whether err is (or wraps) a
// ChainInteractionError.
func IsChainInteraction(err error) bool {
	var target *ChainInteractionError
	return errors.As(err, &target)
}
