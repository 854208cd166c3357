// Package preview manages terminal preview handles for selected images. A
// controller holds at most one live handle; acquiring a new one releases the
// previous, and a released handle refuses further rendering. The allocation
// counters exist so tests can prove no handle leaks across a session.
package preview

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"pixlift/internal/logging"
	"pixlift/internal/media"
)

// ErrClosed is returned by Acquire after the manager shut down.
var ErrClosed = fmt.Errorf("preview manager closed")

// ErrReleased is returned when rendering through a handle that was already
// released.
var ErrReleased = fmt.Errorf("preview handle released")

// Handle is one live preview. It stays valid until released by its manager.
type Handle struct {
	id   string
	file *media.File

	mu       sync.Mutex
	released bool
	lastKey  [2]int
	last     string
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string {
	return h.id
}

// File returns the previewed payload.
func (h *Handle) File() *media.File {
	return h.file
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Render rasterizes the preview for a terminal of the given character cell
// size. The last rendition is cached per size so redraws are cheap.
func (h *Handle) Render(width, height int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return "", ErrReleased
	}
	key := [2]int{width, height}
	if h.last != "" && h.lastKey == key {
		return h.last, nil
	}
	s, err := RenderANSI(h.file, width, height)
	if err != nil {
		return "", err
	}
	h.lastKey = key
	h.last = s
	return s, nil
}

// release marks the handle dead and reports whether this call did it.
func (h *Handle) release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	h.released = true
	h.last = ""
	return true
}

// Manager owns preview handles for one ingestion controller.
type Manager struct {
	mu        sync.Mutex
	live      *Handle
	closed    bool
	allocated uint64
	released  uint64

	logger logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger attaches a logger for handle lifecycle events.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.OrNop(logger)
	}
}

// NewManager builds an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: logging.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire creates a live handle for f, releasing whatever handle was live
// before. The previous handle becomes unusable immediately.
func (m *Manager) Acquire(f *media.File) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	if m.live != nil && m.live.release() {
		m.released++
		m.logger.Debug("preview %s replaced", m.live.id)
	}

	h := &Handle{id: uuid.New().String(), file: f}
	m.live = h
	m.allocated++
	m.logger.Debug("preview %s acquired for %s", h.id, f.Name)
	return h, nil
}

// Release frees h. Releasing a stale or already-released handle is a no-op,
// so callers can release unconditionally on every path.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.release() {
		m.released++
		m.logger.Debug("preview %s released", h.id)
	}
	if m.live == h {
		m.live = nil
	}
}

// ReleaseLive frees the current handle, if any.
func (m *Manager) ReleaseLive() {
	m.mu.Lock()
	live := m.live
	m.mu.Unlock()
	m.Release(live)
}

// Live returns the current handle or nil.
func (m *Manager) Live() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Close releases the live handle and rejects further acquisitions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.live != nil && m.live.release() {
		m.released++
	}
	m.live = nil
}

// Stats returns lifetime allocation counters. A leak-free run always ends
// with both equal.
func (m *Manager) Stats() (allocated, released uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocated, m.released
}
