package v6fs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is the error type returned by every operation in this module.
// Errors derived from one of the Err* values below can be matched against it
// with [errors.Is], no matter how many times they've been annotated.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseError string

const rootError = baseError("")

// Parameter errors
var ErrArgumentOutOfRange = rootError.WithMessage("Numerical argument out of domain")
var ErrInvalidArgument = rootError.WithMessage("Invalid argument")
var ErrNameTooLong = rootError.WithMessage("File name too long")
var ErrOffsetOutOfRange = rootError.WithMessage("Offset out of range")

// Resource exhaustion
var ErrInodeOutOfRange = rootError.WithMessage("Inode number out of range")
var ErrNoSpaceOnDevice = rootError.WithMessage("No space left on device")

// Structural errors
var ErrExists = rootError.WithMessage("File exists")
var ErrFileSystemCorrupted = rootError.WithMessage("Structure needs cleaning")
var ErrFileTooLarge = rootError.WithMessage("File too large")
var ErrNotADirectory = rootError.WithMessage("Not a directory")
var ErrUnallocatedInode = rootError.WithMessage("Inode is not allocated")

// I/O errors
var ErrInvalidFileSystem = rootError.WithMessage("Wrong medium type")
var ErrIOFailed = rootError.WithMessage("Input/output error")
var ErrReadOnlyFileSystem = rootError.WithMessage("Read-only file system")

var ErrNotFound = rootError.WithMessage("No such file or directory")

func (e baseError) Error() string {
	return string(e)
}

func (e baseError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e baseError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}
