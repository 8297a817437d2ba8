package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const metaDir = ".meta"

// FSStore writes objects below a base directory, mirroring their keys:
//
//	dist/
//	  prod/web/42/js/top.js
//	  prod/web/42/js/top.js.br
//	  .meta/
//	    prod/web/42/js/top.js.json (headers and write time)
type FSStore struct {
	basePath string
	mu       sync.RWMutex
}

// Metadata is stored next to each object.
type Metadata struct {
	WrittenAt time.Time   `json:"written_at"`
	Size      int         `json:"size"`
	Headers   http.Header `json:"headers,omitempty"`
}

// NewFSStore creates the base directory and returns a store rooted there.
func NewFSStore(basePath string) (*FSStore, error) {
	if basePath == "" {
		return nil, errors.New("filesystem store needs a directory")
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", basePath, err)
	}
	return &FSStore{basePath: basePath}, nil
}

// Root returns the base directory.
func (s *FSStore) Root() string { return s.basePath }

// Put implements ContentStore. Keys escaping the base directory are
// rejected with 400.
func (s *FSStore) Put(ctx context.Context, key string, data []byte, headers http.Header) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	objectPath, ok := s.objectPath(key)
	if !ok {
		return http.StatusBadRequest, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
		return 0, fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(objectPath, data, 0o600); err != nil {
		return 0, fmt.Errorf("write object: %w", err)
	}
	meta := Metadata{WrittenAt: time.Now(), Size: len(data), Headers: headers.Clone()}
	if err := s.writeMetadata(key, meta); err != nil {
		return 0, fmt.Errorf("write metadata: %w", err)
	}
	return http.StatusCreated, nil
}

// Get returns the object stored under key with its metadata.
func (s *FSStore) Get(key string) ([]byte, Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objectPath, ok := s.objectPath(key)
	if !ok {
		return nil, Metadata{}, fmt.Errorf("invalid key %q", key)
	}
	data, err := os.ReadFile(objectPath) //nolint:gosec // path is confined to the base directory
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("read object: %w", err)
	}
	meta, err := s.readMetadata(key)
	if err != nil {
		meta = Metadata{Size: len(data)}
	}
	return data, meta, nil
}

// List returns every stored key in lexical order.
func (s *FSStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != s.basePath && d.Name() == metaDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return nil
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk objects: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FSStore) objectPath(key string) (string, bool) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}
	if first := strings.SplitN(filepath.ToSlash(clean), "/", 2)[0]; first == metaDir {
		return "", false
	}
	return filepath.Join(s.basePath, clean), true
}

func (s *FSStore) metadataPath(key string) string {
	return filepath.Join(s.basePath, metaDir, filepath.Clean(filepath.FromSlash(key))+".json")
}

func (s *FSStore) writeMetadata(key string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	p := s.metadataPath(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o600)
}

func (s *FSStore) readMetadata(key string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(s.metadataPath(key))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}
