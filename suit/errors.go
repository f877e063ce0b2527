package suit

import (
	"errors"
	"fmt"
)

// ErrRejected is the single failure sentinel produced by every operation
// in this package. There are no recoverable errors: a CBOR structural
// mismatch, an unknown required field, a version mismatch, a component
// count over MaxComponents, an unsupported directive/parameter, a
// signature or digest failure, an out-of-range set_component_index, or a
// try_each whose every candidate fails all collapse to this one outcome,
// per the "total rejection" contract.
//
// Callers should test with errors.Is(err, suit.ErrRejected); the wrapped
// message is diagnostic only and must not be parsed.
var ErrRejected = errors.New("suit: rejected")

func rejectf(format string, args ...any) error {
	return &rejectedError{msg: fmt.Sprintf(format, args...)}
}

type rejectedError struct {
	msg string
}

func (e *rejectedError) Error() string { return "suit: rejected: " + e.msg }

func (e *rejectedError) Is(target error) bool { return target == ErrRejected }

func (e *rejectedError) Unwrap() error { return ErrRejected }
