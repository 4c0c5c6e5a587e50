package objectstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalPutAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir, "http://localhost:8080/files/")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	obj, err := store.Put(ctx, "users/u1/files/20240101_120000_notes.txt", "text/plain", []byte("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Key != "users/u1/files/20240101_120000_notes.txt" || obj.Size != 5 {
		t.Fatalf("unexpected object: %+v", obj)
	}
	if obj.URL != "http://localhost:8080/files/users/u1/files/20240101_120000_notes.txt" {
		t.Fatalf("unexpected url %q", obj.URL)
	}

	path := filepath.Join(dir, "users", "u1", "files", "20240101_120000_notes.txt")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored object: %v", err)
	}
	if string(raw) != "hello" {
		t.Fatalf("unexpected content %q", raw)
	}

	if err := store.Delete(ctx, obj.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected object removed, stat err = %v", err)
	}

	// deleting twice is fine
	if err := store.Delete(ctx, obj.Key); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "/files")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	for _, key := range []string{"", "../secret", "users/../../etc/passwd", "a//b"} {
		if _, err := store.Put(context.Background(), key, "text/plain", []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}
