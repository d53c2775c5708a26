package docstore

import (
	"os"
	"path/filepath"
	"testing"
)

const helloSHA256 = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHashFileSHA256(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(p, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum, err := HashFile(p, "sha256")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if sum != helloSHA256 {
		t.Fatalf("unexpected hash: got %s want %s", sum, helloSHA256)
	}
}

func TestHashBytesMatchesFile(t *testing.T) {
	sum, err := HashBytes([]byte("hello world"), "SHA-256")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if sum != helloSHA256 {
		t.Fatalf("unexpected hash: got %s want %s", sum, helloSHA256)
	}
}

func TestHashUnsupported(t *testing.T) {
	if _, err := HashBytes([]byte("hi"), "bad"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := HashFile(filepath.Join(t.TempDir(), "missing"), "sha256"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
