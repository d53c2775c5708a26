// Package docstore persists the diagrams a host serves to its editor.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	ModeFS    = "fs"
	ModeRedis = "redis"
)

// ErrNotFound is returned by Load and Stat for unknown documents.
var ErrNotFound = errors.New("document not found")

// Info describes a stored document.
type Info struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Digest   string `json:"sha256"`
	Location string `json:"location"`
}

// Store is a flat namespace of named documents.
type Store interface {
	Mode() string
	Load(ctx context.Context, name string) ([]byte, error)
	// Save writes data under name and returns where it landed.
	Save(ctx context.Context, name string, data []byte) (string, error)
	Stat(ctx context.Context, name string) (Info, error)
}

// Options selects and configures a backend.
type Options struct {
	Mode  string
	Dir   string
	Redis redis.UniversalClient
	// Prefix namespaces redis keys; defaults to "sidecar:doc:".
	Prefix string
}

// Open returns the store selected by opts.Mode.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(opts.Mode) {
	case "", ModeFS:
		return NewFS(opts.Dir)
	case ModeRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("docstore: redis mode requires a client")
		}
		return NewRedis(opts.Redis, opts.Prefix), nil
	default:
		return nil, fmt.Errorf("docstore: unknown storage mode %q", opts.Mode)
	}
}

// CleanName reduces name to a safe base file name. It returns "" when
// nothing usable is left.
func CleanName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	if name == "" || name == "_" {
		return ""
	}
	return name
}
