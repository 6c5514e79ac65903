// Package fsstore provides a filesystem-backed media sink.
package fsstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/duetapp/duet/internal/errors"
	"github.com/duetapp/duet/internal/media"
)

// Store writes blobs under a root directory and serves URLs under a base.
type Store struct {
	root    string
	baseURL string
}

var _ media.Sink = (*Store)(nil)

// Open prepares a filesystem sink rooted at the provided directory.
func Open(root, baseURL string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("media root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Store{
		root:    filepath.Clean(root),
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}, nil
}

// Put durably stores a blob under the key, overwriting any prior content.
func (s *Store) Put(ctx context.Context, blob []byte, key, mimeType string) (media.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return media.PutResult{}, err
	}
	path, err := s.pathFor(key)
	if err != nil {
		return media.PutResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return media.PutResult{}, apperrors.Wrap(apperrors.CodeMediaUnavailable, "create media dir", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return media.PutResult{}, apperrors.Wrap(apperrors.CodeMediaUnavailable, "write media blob", err)
	}
	return media.PutResult{
		URL:  s.baseURL + "/" + key,
		Key:  key,
		Size: int64(len(blob)),
	}, nil
}

// Get reads a stored blob back, e.g. for re-transcription.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMediaUnavailable, "read media blob", err)
	}
	return blob, nil
}

// Delete removes a stored blob. Absent keys succeed.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrap(apperrors.CodeMediaUnavailable, "delete media blob", err)
	}
	return nil
}

// pathFor resolves a key inside the root, rejecting traversal.
func (s *Store) pathFor(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("media key is required")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("media key %q escapes the root", key)
	}
	return filepath.Join(s.root, cleaned), nil
}

// walkKeys is used by tests to assert what remains on disk.
func (s *Store) walkKeys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	return keys, err
}
