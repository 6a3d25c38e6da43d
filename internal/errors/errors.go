// Package errors classifies worksheet failures so the reconciler and the
// command line can react by category rather than by message.
package errors

import "errors"

type Category string

const (
	CategorySpawnFailed       Category = "spawn_failed"
	CategoryProtocol          Category = "protocol_error"
	CategoryDuplicateIdentity Category = "duplicate_identity"
	CategorySessionLost       Category = "session_lost"
	CategoryInvalidInput      Category = "invalid_input"
	CategoryIOFailure         Category = "io_failure"
)

// Error carries a category, a stable machine code and an optional hint for
// the user. The cause stays reachable through Unwrap.
type Error struct {
	Category Category
	Code     string
	Hint     string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Category) + ": " + e.Code
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New classifies cause. A nil cause stays nil.
func New(category Category, code, hint string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Category: category, Code: code, Hint: hint, Err: cause}
}

// Spawn classifies a failure to start the evaluator or open its channel.
// Spawn failures are not retried automatically; the user re-triggers.
func Spawn(cause error, code string) error {
	return New(CategorySpawnFailed, code, "check the evaluator command, then save again", cause)
}

// Protocol classifies a malformed or out-of-contract frame.
func Protocol(cause error, code string) error {
	return New(CategoryProtocol, code, "the evaluator sent an invalid frame; save to restart it", cause)
}

// SessionLost classifies an unexpected evaluator exit or channel close.
func SessionLost(cause error, code string) error {
	return New(CategorySessionLost, code, "the evaluator exited; save to restart it", cause)
}

// DuplicateIdentity classifies an Added event for a cell that is already
// live. The event is dropped and processing continues.
func DuplicateIdentity(cause error) error {
	return New(CategoryDuplicateIdentity, "duplicate_identity", "", cause)
}

func InvalidInput(cause error, code, hint string) error {
	return New(CategoryInvalidInput, code, hint, cause)
}

func IOFailure(cause error, code string) error {
	return New(CategoryIOFailure, code, "", cause)
}

func as(err error) (*Error, bool) {
	var classified *Error
	ok := errors.As(err, &classified)
	return classified, ok
}

func CategoryOf(err error) Category {
	if classified, ok := as(err); ok {
		return classified.Category
	}
	return ""
}

func CodeOf(err error) string {
	if classified, ok := as(err); ok {
		return classified.Code
	}
	return ""
}

// HintOf returns the outermost hint, or "".
func HintOf(err error) string {
	if classified, ok := as(err); ok {
		return classified.Hint
	}
	return ""
}

func IsSpawn(err error) bool {
	return CategoryOf(err) == CategorySpawnFailed
}

func IsProtocol(err error) bool {
	return CategoryOf(err) == CategoryProtocol
}

func IsSessionLost(err error) bool {
	return CategoryOf(err) == CategorySessionLost
}

func IsDuplicateIdentity(err error) bool {
	return CategoryOf(err) == CategoryDuplicateIdentity
}
