package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zextras/reposync/internal/safety"
)

// LocalBackend is a Backend rooted at a directory on the local filesystem.
// WriteAtomic is satisfied by writing to a temp file in the same directory
// as the destination, then renaming over it — rename is atomic within one
// filesystem.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a LocalBackend rooted at root. root is created
// if it does not already exist.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %q: %w", root, err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) Name() string { return "local:" + b.root }

func (b *LocalBackend) resolve(path string) (string, error) {
	return safety.SafeJoinUnder(b.root, path)
}

func (b *LocalBackend) Read(_ context.Context, path string) ([]byte, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *LocalBackend) WriteAtomic(_ context.Context, path string, data []byte, _ string) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dir %q: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(full)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (b *LocalBackend) Delete(_ context.Context, path string) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *LocalBackend) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	root := b.root
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
