// Package session implements the run-token scheme that keeps overlapping
// pipeline runs from clobbering each other's results.
package session

import "sync/atomic"

// Token identifies one pipeline run. Tokens are strictly increasing, so
// comparing a token against the controller's current value is enough to tell
// whether the run that holds it has been superseded.
type Token uint64

// Controller hands out run tokens. Begin invalidates every earlier token
// immediately; it never aborts in-flight work, it only stops that work's
// results from being applied.
type Controller struct {
	current atomic.Uint64
}

// NewController returns a controller with no active run.
func NewController() *Controller {
	return &Controller{}
}

// Begin starts a new run and returns its token.
func (c *Controller) Begin() Token {
	return Token(c.current.Add(1))
}

// Current returns the active token, zero when no run has begun.
func (c *Controller) Current() Token {
	return Token(c.current.Load())
}

// IsCurrent reports whether token belongs to the active run. Every async
// stage must check this immediately before applying its result; a stale
// result is dropped, never queued.
func (c *Controller) IsCurrent(token Token) bool {
	return token != 0 && uint64(token) == c.current.Load()
}

// Invalidate retires the active token without starting a new run, so no
// outstanding completion can commit. Used on reset and teardown.
func (c *Controller) Invalidate() {
	c.current.Add(1)
}
