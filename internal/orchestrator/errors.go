package orchestrator

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindRepositoryNotFound      Kind = "RepositoryNotFound"
	KindDirtyTreeBlocksCheckout Kind = "DirtyTreeBlocksCheckout"
	KindCheckoutFailure         Kind = "CheckoutFailure"
	KindStashFailure            Kind = "StashFailure"
	KindStashRestoreConflict    Kind = "StashRestoreConflict"
	KindPullFailure             Kind = "PullFailure"
	KindSubmoduleFailure        Kind = "SubmoduleFailure"
	KindRelocationCopyFailure   Kind = "RelocationCopyFailure"
	KindRelocationExecFailure   Kind = "RelocationExecFailure"
	KindHandoffExecFailure      Kind = "HandoffExecFailure"
	KindStatusWriteFailure      Kind = "StatusWriteFailure"
)

// Error is a failure tagged with the stage that produced it.
type Error struct {
	Kind Kind
	Err  error
}

// NewError tags err with kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind, true
	}
	return "", false
}

func failf(kind Kind, format string, args ...any) error {
	return NewError(kind, fmt.Errorf(format, args...))
}
