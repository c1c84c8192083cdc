package blob

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryUploader keeps objects in process memory. Used when no bucket is
// configured (dev mode) and by tests.
type MemoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryUploader constructs an empty in-memory store.
func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{objects: make(map[string][]byte)}
}

// Put stores the object and returns a mem:// URL.
func (u *MemoryUploader) Put(ctx context.Context, in PutInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b, err := io.ReadAll(io.LimitReader(in.Body, in.Size))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	u.mu.Lock()
	u.objects[in.Key] = b
	u.mu.Unlock()

	return "mem://" + in.Key, nil
}

// Get returns a stored object. Test helper.
func (u *MemoryUploader) Get(key string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	b, ok := u.objects[key]
	return b, ok
}

// Len reports the number of stored objects.
func (u *MemoryUploader) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.objects)
}

var _ Uploader = (*MemoryUploader)(nil)
