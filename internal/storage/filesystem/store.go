// Package filesystem stores artifacts as files under a root directory.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/interfaces"
)

// Store maps artifact keys to relative paths below root
type Store struct {
	root   string
	logger arbor.ILogger
}

// NewStore creates root if needed
func NewStore(root string, logger arbor.ILogger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact directory %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	logger.Debug().Str("dir", abs).Msg("Filesystem artifact store ready")
	return &Store{root: abs, logger: logger}, nil
}

// Root returns the absolute root directory
func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes data atomically and returns the absolute file path
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	target, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	return target, nil
}

// Get reads the file stored for key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrArtifactNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// List walks root and returns files whose slash-separated key has prefix
func (s *Store) List(ctx context.Context, prefix string) ([]interfaces.ArtifactInfo, error) {
	var infos []interfaces.ArtifactInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".artifact-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, interfaces.ArtifactInfo{Key: key, Size: info.Size(), UpdatedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}
