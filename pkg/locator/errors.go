package locator

import "fmt"

// ErrorKind classifies locator failures.
type ErrorKind string

const (
	// ErrNotFound means the root does not exist.
	ErrNotFound ErrorKind = "not_found"
	// ErrNotADirectory means the root is not a directory.
	ErrNotADirectory ErrorKind = "not_a_directory"
	// ErrWalk means a directory inside the root could not be listed.
	ErrWalk ErrorKind = "walk_failure"
	// ErrUnreadable means a located file could not be read.
	ErrUnreadable ErrorKind = "unreadable"
)

// Error is returned by Locate and Read.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return fmt.Sprintf("config directory %s does not exist", e.Path)
	case ErrNotADirectory:
		return fmt.Sprintf("%s is not a directory", e.Path)
	case ErrUnreadable:
		return fmt.Sprintf("cannot read %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("cannot walk %s: %v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
