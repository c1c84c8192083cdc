// Package blob stores profile pictures and returns durable public URLs.
// The production backend is S3; an in-memory backend exists for dev and tests.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Sentinel kinds for callers that branch on failure class.
var (
	ErrInvalidInput = errors.New("blob: invalid input")
	ErrUnavailable  = errors.New("blob: backend unavailable")
)

// Uploader stores an object and returns a URL that can be persisted on the
// user profile and served to clients.
type Uploader interface {
	Put(ctx context.Context, in PutInput) (string, error)
}

// PutInput describes one object upload.
type PutInput struct {
	// Key is the object key, usually from ObjectKey.
	Key string

	// ContentType is the MIME type stored with the object.
	ContentType string

	// Body is the object content. Size must be known up front so backends
	// can refuse oversized objects before streaming.
	Body io.Reader
	Size int64
}

func (in PutInput) validate() error {
	if strings.TrimSpace(in.Key) == "" {
		return fmt.Errorf("%w: missing key", ErrInvalidInput)
	}
	if in.Body == nil {
		return fmt.Errorf("%w: missing body", ErrInvalidInput)
	}
	if in.Size <= 0 {
		return fmt.Errorf("%w: missing size", ErrInvalidInput)
	}
	return nil
}

// ObjectKey builds a collision-free object key under a folder, keeping the
// original file extension (lowercased) so content negotiation stays sane.
func ObjectKey(folder, filename string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = "uploads"
	}

	ext := strings.ToLower(path.Ext(filename))
	return folder + "/" + uuid.NewString() + ext
}
