package evaluator

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed call to the evaluation service
type ErrorKind string

const (
	KindInvalid   ErrorKind = "invalid"   // rejected locally, nothing was sent
	KindTransport ErrorKind = "transport" // no HTTP response
	KindStatus    ErrorKind = "status"    // non-2xx response
	KindMalformed ErrorKind = "malformed" // 2xx with an unusable body
)

// Error is returned by every Client method
type Error struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Detail != "" {
			return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Detail)
		}
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
