package review

import (
	"errors"
	"fmt"
)

// Kind classifies errors crossing component boundaries.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindValidation           Kind = "validation"
	KindGit                  Kind = "git"
	KindNotAGitRepo          Kind = "not_a_git_repo"
	KindDatabase             Kind = "database"
	KindWatcher              Kind = "watcher"
	KindTransport            Kind = "transport"
	KindTransportUnavailable Kind = "transport_unavailable"
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrValidation           = &Error{Kind: KindValidation}
	ErrGit                  = &Error{Kind: KindGit}
	ErrNotAGitRepo          = &Error{Kind: KindNotAGitRepo}
	ErrDatabase             = &Error{Kind: KindDatabase}
	ErrWatcher              = &Error{Kind: KindWatcher}
	ErrTransport            = &Error{Kind: KindTransport}
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
)

// Error is a typed failure. Op names the failing operation and Err is the
// underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so that errors.Is(err, ErrGit) works for any git
// failure. NotAGitRepo is a sub-kind of Git and also matches ErrGit.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	return e.Kind == KindNotAGitRepo && t.Kind == KindGit
}

// E constructs a typed error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFoundf returns a NotFound error with a formatted message.
func NotFoundf(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

// Validationf returns a Validation error with a formatted message.
func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost typed error in err's chain, or
// the empty string when err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Wrap attaches kind to err unless err already carries one, in which case
// it is returned unchanged so the original classification propagates.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
