package upload

import (
	"context"
	"fmt"
	"sync"

	"pixlift/internal/media"
)

// MemoryStore is an in-process Uploader for tests and dry runs. Objects live
// in a map; FailOn lets a test fail chosen uploads deterministically.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]*media.File
	baseURL string
	seq     int

	// FailOn, when set, is consulted before storing. A non-nil return fails
	// the upload with that error.
	FailOn func(f *media.File) error
}

// NewMemoryStore builds an empty store. URLs are baseURL/<n>/<name>;
// an empty baseURL defaults to "memory://".
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory:/"
	}
	return &MemoryStore{
		objects: make(map[string]*media.File),
		baseURL: baseURL,
	}
}

// Upload stores f and returns its synthetic URL.
func (s *MemoryStore) Upload(ctx context.Context, f *media.File, scope string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{File: f.Name, Err: err}
	}

	s.mu.Lock()
	failOn := s.FailOn
	s.mu.Unlock()
	if failOn != nil {
		if err := failOn(f); err != nil {
			return "", &Error{File: f.Name, Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	key := fmt.Sprintf("%d/%s", s.seq, f.Name)
	if scope != "" {
		key = scope + "/" + key
	}
	s.objects[key] = f
	return s.baseURL + "/" + key, nil
}

// Count returns the number of stored objects.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Objects returns a snapshot of the stored payloads keyed by object key.
func (s *MemoryStore) Objects() map[string]*media.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*media.File, len(s.objects))
	for k, v := range s.objects {
		out[k] = v
	}
	return out
}
