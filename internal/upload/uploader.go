// Package upload delivers finished payloads to their destination. Every
// implementation makes exactly one attempt per call: a failure is reported,
// never silently retried, so the user stays in control of resubmission.
package upload

import (
	"context"
	"fmt"

	"pixlift/internal/media"
)

// Uploader sends one payload and returns the stable URL the destination
// assigned to it. Scope namespaces the object on the receiving side (for
// example an account or album identifier) and may be empty.
type Uploader interface {
	Upload(ctx context.Context, f *media.File, scope string) (string, error)
}

// Error describes a failed upload attempt. StatusCode is zero when the
// failure happened before any HTTP response arrived.
type Error struct {
	File       string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.StatusCode > 0:
		return fmt.Sprintf("upload %s: %s (status %d)", e.File, e.Message, e.StatusCode)
	case e.Message != "":
		return fmt.Sprintf("upload %s: %s", e.File, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("upload %s: %v", e.File, e.Err)
	default:
		return fmt.Sprintf("upload %s failed", e.File)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus feeds the transient/permanent error classification.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}
