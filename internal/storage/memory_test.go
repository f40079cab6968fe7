package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryBackendWriteReadDelete(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	if _, err := b.Read(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read of an unwritten path = %v, want ErrNotFound", err)
	}

	if err := b.WriteAtomic(ctx, "pool/p.deb", []byte("hello"), ""); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	data, err := b.Read(ctx, "pool/p.deb")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Read = %q, want %q", data, "hello")
	}

	if err := b.Delete(ctx, "pool/p.deb"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !b.Deleted["pool/p.deb"] {
		t.Error("expected Deleted to record the delete")
	}
	if _, err := b.Read(ctx, "pool/p.deb"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryBackendWriteClearsPriorDeleteMark(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	_ = b.WriteAtomic(ctx, "p", []byte("a"), "")
	_ = b.Delete(ctx, "p")
	_ = b.WriteAtomic(ctx, "p", []byte("b"), "")

	if b.Deleted["p"] {
		t.Error("re-writing a path should clear its delete mark")
	}
}

func TestMemoryBackendReadReturnsACopy(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	original := []byte("immutable")
	if err := b.WriteAtomic(ctx, "p", original, ""); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	data, err := b.Read(ctx, "p")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	data[0] = 'X'

	again, err := b.Read(ctx, "p")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(again) != "immutable" {
		t.Errorf("mutating a Read result mutated internal state: %q", again)
	}
}

func TestMemoryInvalidatorRecordsPaths(t *testing.T) {
	inv := &MemoryInvalidator{}
	if err := inv.Invalidate(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if len(inv.Paths) != 2 {
		t.Errorf("Paths = %v, want 2 entries", inv.Paths)
	}
}
