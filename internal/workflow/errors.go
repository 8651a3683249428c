package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies a driver failure by its origin.
type Kind int

const (
	KindUnknown Kind = iota
	KindSchemaGeneration
	KindResponder
	KindClassification
	KindPersistence
	KindInvalidRequest
)

func (k Kind) String() string {
	switch k {
	case KindSchemaGeneration:
		return "schema_generation"
	case KindResponder:
		return "responder"
	case KindClassification:
		return "classification"
	case KindPersistence:
		return "persistence"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrSchemaGeneration = &Error{Kind: KindSchemaGeneration}
	ErrResponder        = &Error{Kind: KindResponder}
	ErrClassification   = &Error{Kind: KindClassification}
	ErrPersistence      = &Error{Kind: KindPersistence}
	ErrInvalidRequest   = &Error{Kind: KindInvalidRequest}
)

// ErrNoRun is wrapped by InvalidRequest errors raised because the user has
// no stored run.
var ErrNoRun = errors.New("no workflow started for user")

// ErrRunExists is returned by Store.CreateRun when the user already has a
// run, for example one created concurrently by another process.
var ErrRunExists = errors.New("run already exists for user")

// Error is a driver failure. Op names the operation (start, advance, reset),
// Err the collaborator failure underneath.
type Error struct {
	Kind   Kind
	Op     string
	UserID string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, op, userID, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, UserID: userID, Msg: msg, Err: err}
}

// KindOf returns the kind of a driver error, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
