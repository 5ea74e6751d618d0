package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/iAmSomeone2/browser-storage/internal/archive"
	"github.com/iAmSomeone2/browser-storage/internal/config"
	"github.com/iAmSomeone2/browser-storage/objectdb"
	"github.com/iAmSomeone2/browser-storage/origin"
	"github.com/iAmSomeone2/browser-storage/sealed"
	"github.com/iAmSomeone2/browser-storage/webstorage"
)

const (
	ExitCodeSuccess    = 0
	ExitCodeGeneric    = 1
	ExitCodeUsage      = 2
	ExitCodeNotFound   = 3
	ExitCodeBlocked    = 4
	ExitCodeAuthFailed = 5
	ExitCodeQuota      = 6
	ExitCodeIO         = 7
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExitError) ExitCode() int {
	if e == nil {
		return ExitCodeGeneric
	}
	return e.Code
}

func asExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}
	return &ExitError{Code: code, Err: err}
}

// mapCommandError assigns an exit code by the innermost sentinel in the
// chain. Errors that already carry a code pass through untouched.
func mapCommandError(err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}

	switch {
	case errors.Is(err, webstorage.ErrNoKey),
		errors.Is(err, objectdb.ErrNoKey),
		errors.Is(err, objectdb.ErrNoStore):
		return asExitError(ExitCodeNotFound, err)
	case errors.Is(err, objectdb.ErrBlocked):
		return asExitError(ExitCodeBlocked, err)
	case errors.Is(err, sealed.ErrAuthFailed):
		return asExitError(ExitCodeAuthFailed, err)
	case errors.Is(err, webstorage.ErrQuotaExceeded):
		return asExitError(ExitCodeQuota, err)
	case errors.Is(err, origin.ErrInvalidOrigin),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, webstorage.ErrInvalidKey),
		errors.Is(err, webstorage.ErrInvalidTag),
		errors.Is(err, objectdb.ErrInvalidName),
		errors.Is(err, objectdb.ErrInvalidKey),
		errors.Is(err, objectdb.ErrInvalidVersion),
		errors.Is(err, sealed.ErrInvalidParams):
		return asExitError(ExitCodeUsage, err)
	case errors.Is(err, webstorage.ErrUnavailable),
		errors.Is(err, webstorage.ErrSchemaTooNew),
		errors.Is(err, objectdb.ErrUnavailable),
		errors.Is(err, archive.ErrBadSnapshot),
		errors.Is(err, sealed.ErrBadEnvelope),
		errors.Is(err, sealed.ErrUnsupported):
		return asExitError(ExitCodeIO, err)
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, os.ErrNotExist) {
		return asExitError(ExitCodeIO, err)
	}

	return asExitError(ExitCodeGeneric, err)
}

func usageErrorf(format string, args ...any) error {
	return &ExitError{
		Code: ExitCodeUsage,
		Err:  fmt.Errorf(format, args...),
	}
}
