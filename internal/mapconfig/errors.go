package mapconfig

import (
	"errors"
	"fmt"
)

// ErrLayerNotFound is returned by LayerByID for unknown layer ids.
var ErrLayerNotFound = errors.New("layer not found")

// ValidationError reports a map configuration that does not match the shape
// required by its version.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string     { return e.Msg }
func (e *ValidationError) ErrorCode() string { return "INVALID_MAPCONFIG" }

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
