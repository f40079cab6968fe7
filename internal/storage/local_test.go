package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalBackendWriteReadDelete(t *testing.T) {
	root := t.TempDir()
	b, err := NewLocalBackend(root)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	ctx := context.Background()

	if err := b.WriteAtomic(ctx, "dists/bookworm/Release", []byte("release-bytes"), ""); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	data, err := b.Read(ctx, "dists/bookworm/Release")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "release-bytes" {
		t.Errorf("Read = %q, want %q", data, "release-bytes")
	}

	if err := b.Delete(ctx, "dists/bookworm/Release"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Read(ctx, "dists/bookworm/Release"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after delete = %v, want ErrNotFound", err)
	}
}

func TestLocalBackendWriteAtomicLeavesNoTempFileBehind(t *testing.T) {
	root := t.TempDir()
	b, err := NewLocalBackend(root)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}

	if err := b.WriteAtomic(context.Background(), "pool/p.deb", []byte("data"), ""); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "pool"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "p.deb" {
		t.Errorf("expected only the final file, got %v", entries)
	}
}

func TestLocalBackendDeleteNonexistentIsNotAnError(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	if err := b.Delete(context.Background(), "never/written"); err != nil {
		t.Errorf("Delete of a nonexistent path should be a no-op, got %v", err)
	}
}

func TestLocalBackendRejectsPathEscape(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	if _, err := b.Read(context.Background(), "../../etc/passwd"); err == nil {
		t.Error("expected a path-traversal attempt to be rejected")
	}
}

func TestLocalBackendListReturnsSlashPathsUnderPrefix(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	ctx := context.Background()
	for _, p := range []string{"pool/a.deb", "pool/b.deb", "dists/Release"} {
		if err := b.WriteAtomic(ctx, p, []byte("x"), ""); err != nil {
			t.Fatalf("WriteAtomic(%s): %v", p, err)
		}
	}

	got, err := b.List(ctx, "pool/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("List(pool/) = %v, want 2 entries", got)
	}
}
