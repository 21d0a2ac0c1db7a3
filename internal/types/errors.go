package types

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindFetch
	KindParse
	KindStore
	KindNotify
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindFetch:
		return "fetch"
	case KindParse:
		return "parse"
	case KindStore:
		return "store"
	case KindNotify:
		return "notify"
	}
	return "unknown"
}

// Error tags a failure with the kind that decides how callers react to it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func InputError(op string, format string, args ...interface{}) error {
	return &Error{Kind: KindInput, Op: op, Err: fmt.Errorf(format, args...)}
}

func FetchError(op string, err error) error { return NewError(KindFetch, op, err) }
func ParseError(op string, err error) error { return NewError(KindParse, op, err) }
func StoreError(op string, err error) error { return NewError(KindStore, op, err) }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether a job failing with err may be re-enqueued.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindFetch, KindParse, KindStore:
		return true
	}
	return false
}
