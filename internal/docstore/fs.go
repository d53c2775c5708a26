package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FS keeps each document as a file in one directory.
type FS struct {
	dir string
}

// NewFS creates dir if needed. An empty dir selects "documents" under the
// working directory.
func NewFS(dir string) (*FS, error) {
	if dir == "" {
		dir = "documents"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("docstore: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: create %s: %w", abs, err)
	}
	return &FS{dir: abs}, nil
}

func (s *FS) Mode() string { return ModeFS }

// Dir returns the absolute storage directory.
func (s *FS) Dir() string { return s.dir }

func (s *FS) path(name string) (string, error) {
	clean := CleanName(name)
	if clean == "" {
		return "", fmt.Errorf("docstore: invalid document name %q", name)
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *FS) Load(_ context.Context, name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Save writes through a temporary file so readers never observe a partial
// document.
func (s *FS) Save(_ context.Context, name string, data []byte) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, ".save-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", err
	}
	return p, nil
}

func (s *FS) Stat(_ context.Context, name string) (Info, error) {
	p, err := s.path(name)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, err
	}
	sum, err := HashFile(p, "sha256")
	if err != nil {
		return Info{}, err
	}
	return Info{Name: filepath.Base(p), Size: fi.Size(), Digest: sum, Location: p}, nil
}

var _ Store = (*FS)(nil)
