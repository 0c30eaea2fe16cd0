package extract

import (
	"errors"
	"fmt"
)

// Kind classifies an extraction failure for retry policy and stats.
type Kind string

const (
	// KindTimeout covers navigation or render deadlines.
	KindTimeout Kind = "timeout"
	// KindElementNotFound covers pages that rendered without the
	// expected offer markup.
	KindElementNotFound Kind = "element_not_found"
	// KindBlocked covers captcha walls and access-denied interstitials.
	KindBlocked Kind = "blocked"
	// KindUnknown is everything else, including browser crashes.
	KindUnknown Kind = "unknown"
)

// Sentinels for errors.Is matching.
var (
	ErrTimeout         = errors.New("extraction timed out")
	ErrElementNotFound = errors.New("offer markup not found")
	ErrBlocked         = errors.New("access blocked by upstream")
)

// Error is a kinded extraction failure.
type Error struct {
	Kind       Kind
	TaskID     string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.TaskID, e.Kind, e.Underlying)
	}
	return fmt.Sprintf("extract %s: %s", e.TaskID, e.Kind)
}

func (e *Error) Unwrap() error { return e.Underlying }

// Is matches either another *Error of the same kind or the kind's
// sentinel.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrElementNotFound:
		return e.Kind == KindElementNotFound
	case ErrBlocked:
		return e.Kind == KindBlocked
	}
	return false
}

// NewError wraps err with a kind and the task it belongs to.
func NewError(kind Kind, taskID string, err error) *Error {
	return &Error{Kind: kind, TaskID: taskID, Underlying: err}
}

// KindOf returns the failure kind of err, or KindUnknown for errors
// raised outside the extraction path.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying on the same task.
// Timeouts, missing markup, and temporary blocks all clear up on their
// own; unknown failures usually mean a broken session.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindElementNotFound, KindBlocked:
		return true
	}
	return false
}

// IsFatalToSession reports whether the session that produced err must
// be discarded instead of returned to the pool.
func IsFatalToSession(err error) bool {
	return KindOf(err) == KindUnknown
}
