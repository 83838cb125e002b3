package asyncache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNameRequired  = errors.New("name is required")
	ErrFetchRequired = errors.New("fetch function is required")

	// ErrProcessResultRequired is returned for collections whose raw result
	// type is not []T and that have no ProcessResult.
	ErrProcessResultRequired = errors.New("process result function is required unless the result is []T")
)

// ConfigError reports an invalid constructor option. It wraps one of the
// sentinel errors above so callers can use errors.Is.
type ConfigError struct {
	Shape string // "resource", "resources" or "collection"
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("asyncache: %s: %v", e.Shape, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// MissingKeysError is returned by a constructor when the composed features do
// not provide a view or action the shape reads.
type MissingKeysError struct {
	Resource string
	Missing  []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("asyncache: %q is missing %s", e.Resource, strings.Join(e.Missing, ", "))
}

// PermanentError marks a fetch failure as not eligible for automatic retry.
type PermanentError struct {
	Err error
}

// Permanent wraps err so that IsPermanent reports true. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Permanent() bool { return true }

// IsPermanent reports whether any error in err's chain has a Permanent method
// returning true. Errors are transient unless the caller marks them.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}
