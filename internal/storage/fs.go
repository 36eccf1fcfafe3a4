// Package storage keeps answer images on the local filesystem.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidRef is returned for image references that are malformed or point
// outside the store.
var ErrInvalidRef = errors.New("invalid image reference")

// FSStore stores blobs below a base directory.
type FSStore struct{ base string }

// NewFSStore creates the base directory if needed.
func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./data"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base}, nil
}

// Put writes r under key and returns the reference to store with the answer.
func (s *FSStore) Put(key string, r io.Reader) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}

// Load returns the bytes and MIME type behind an image reference. A reference
// is either a data: URL or a key previously returned by Put.
func (s *FSStore) Load(ctx context.Context, ref string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if strings.HasPrefix(ref, "data:") {
		return DecodeDataURL(ref)
	}
	p, err := s.path(ref)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, "", fmt.Errorf("read image %s: %w", ref, err)
	}
	return data, MIMEType(ref), nil
}

func (s *FSStore) path(key string) (string, error) {
	key = strings.TrimPrefix(filepath.FromSlash(key), string(filepath.Separator))
	if key == "" || !filepath.IsLocal(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, key)
	}
	return filepath.Join(s.base, key), nil
}

// DecodeDataURL decodes a base64 data: URL into its payload and MIME type.
func DecodeDataURL(ref string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: data URL has no payload", ErrInvalidRef)
	}
	mime, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return nil, "", fmt.Errorf("%w: data URL is not base64", ErrInvalidRef)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	return data, mime, nil
}

// EncodeDataURL renders data as a base64 data: URL.
func EncodeDataURL(data []byte, mime string) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// MIMEType guesses an image MIME type from a file name's extension.
func MIMEType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "", "jpg":
		return "image/jpeg"
	}
	return "image/" + ext
}
