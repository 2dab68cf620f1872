// Package storage keeps uploaded documents on local disk and, optionally,
// archives a copy to a MinIO/S3 bucket.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore saves uploads under a base directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if missing.
func NewLocalStore(dir string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Dir returns the base directory.
func (s *LocalStore) Dir() string { return s.dir }

// Save writes r to a new file named after name and returns its path.
// Each upload gets a unique prefix so equal names never collide.
func (s *LocalStore) Save(name string, r io.Reader) (string, error) {
	target := filepath.Join(s.dir, uuid.NewString()+"-"+safeFilename(name))
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("close file: %w", err)
	}
	return target, nil
}

// Remove deletes a file previously returned by Save. Missing files are ignored.
func (s *LocalStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func safeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return "upload.pdf"
	}
	return name
}
