package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. Per-file errors wrap one of these and are recorded in
// build results; none of them abort a whole-project build.
var (
	ErrIO                  = errors.New("unreadable path")
	ErrParse               = errors.New("parse error")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrCacheCorruption     = errors.New("cache corruption")
	ErrBudgetTooSmall      = errors.New("token budget too small")
	ErrGraphEmpty          = errors.New("dependency graph is empty")
	ErrFileTooLarge        = errors.New("file exceeds size limit")
)

// FileError ties a per-file failure to its path.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// NewFileError wraps err with kind so errors.Is matches both.
func NewFileError(path string, kind, err error) FileError {
	if err == nil || errors.Is(err, kind) {
		if err == nil {
			err = kind
		}
		return FileError{Path: path, Err: err}
	}
	return FileError{Path: path, Err: fmt.Errorf("%w: %w", kind, err)}
}
