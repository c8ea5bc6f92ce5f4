package renderer

import (
	"errors"
	"fmt"

	"tilecore/internal/mapconfig"
)

// RenderError is a request-scoped engine or imagery failure. Its message is
// the underlying error text, unchanged.
type RenderError struct {
	Kind mapconfig.Kind
	Err  error
}

func (e *RenderError) Error() string     { return e.Err.Error() }
func (e *RenderError) ErrorCode() string { return "RENDER_ERROR" }
func (e *RenderError) Unwrap() error     { return e.Err }

func renderErrorf(kind mapconfig.Kind, format string, args ...any) error {
	return &RenderError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func unsupportedFormat(kind mapconfig.Kind, f Format) error {
	return renderErrorf(kind, "Unsupported format %s for %s layers", f, kind)
}

// IsRenderError reports whether err is, or wraps, a RenderError.
func IsRenderError(err error) bool {
	var re *RenderError
	return errors.As(err, &re)
}

// imageryError reports whether err came from fetching external imagery.
func imageryError(err error) bool {
	var re *RenderError
	return errors.As(err, &re) && (re.Kind == mapconfig.KindHTTP || re.Kind == mapconfig.KindPlain)
}
