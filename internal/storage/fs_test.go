package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return s
}

func TestPutLoad(t *testing.T) {
	s := newStore(t)
	ref, err := s.Put("uploads/s1/q1.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref != "uploads/s1/q1.png" {
		t.Errorf("ref = %q", ref)
	}

	data, mime, err := s.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("data = %q", data)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q", mime)
	}

	if _, _, err := s.Load(context.Background(), "/"+ref); err != nil {
		t.Errorf("leading slash should resolve inside the store: %v", err)
	}
}

func TestLoadDataURL(t *testing.T) {
	s := newStore(t)
	ref := EncodeDataURL([]byte{1, 2, 3}, "image/webp")

	data, mime, err := s.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3}) || mime != "image/webp" {
		t.Errorf("got %v %q", data, mime)
	}
}

func TestLoadInvalidRefs(t *testing.T) {
	s := newStore(t)
	tests := []string{
		"../secret.jpg",
		"uploads/../../etc/passwd",
		"",
		"data:image/png,notbase64",
		"data:image/png;base64",
		"data:image/png;base64,!!!",
	}
	for _, ref := range tests {
		t.Run(ref, func(t *testing.T) {
			_, _, err := s.Load(context.Background(), ref)
			if !errors.Is(err, ErrInvalidRef) {
				t.Errorf("Load(%q) error = %v, want ErrInvalidRef", ref, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := newStore(t)
	_, _, err := s.Load(context.Background(), "uploads/none.jpg")
	if err == nil || errors.Is(err, ErrInvalidRef) {
		t.Errorf("expected read error, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist in chain, got %v", err)
	}
}

func TestLoadCancelled(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Load(ctx, "uploads/x.jpg"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	s := newStore(t)
	if _, err := s.Put("../escape.jpg", strings.NewReader("x")); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("expected ErrInvalidRef, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.base, "..", "escape.jpg")); err == nil {
		t.Error("file escaped the store")
	}
}

func TestMIMEType(t *testing.T) {
	tests := map[string]string{
		"a.jpg":  "image/jpeg",
		"a.JPG":  "image/jpeg",
		"a.jpeg": "image/jpeg",
		"a.png":  "image/png",
		"a.webp": "image/webp",
		"noext":  "image/jpeg",
	}
	for in, want := range tests {
		if got := MIMEType(in); got != want {
			t.Errorf("MIMEType(%q) = %q, want %q", in, got, want)
		}
	}
}
