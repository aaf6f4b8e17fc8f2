package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileRegistry stores each cache store as a directory under dir and each
// entry as one JSON file inside it
type FileRegistry struct {
	dir string
}

// NewFileRegistry creates a file-backed registry rooted at dir.
// If dir is empty, uses ~/.streamsync_cache
func NewFileRegistry(dir string) (*FileRegistry, error) {
	if strings.TrimSpace(dir) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".streamsync_cache")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	return &FileRegistry{dir: dir}, nil
}

// Open implements Registry
func (r *FileRegistry) Open(_ context.Context, name string) (Store, error) {
	dir, err := r.storeDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store %s: %w", name, err)
	}
	return &fileStore{name: strings.TrimSpace(name), dir: dir}, nil
}

// ListStores implements Registry
func (r *FileRegistry) ListStores(context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteStore implements Registry
func (r *FileRegistry) DeleteStore(_ context.Context, name string) (bool, error) {
	dir, err := r.storeDir(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

// storeDir maps a store name to its directory; names are used verbatim so
// they cannot contain path separators
func (r *FileRegistry) storeDir(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrStoreNameRequired
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid store name %q", name)
	}
	return filepath.Join(r.dir, name), nil
}

type fileStore struct {
	name string
	dir  string
}

func (fs *fileStore) Name() string { return fs.name }

// Match implements Matcher
func (fs *fileStore) Match(_ context.Context, key string) (*Entry, bool, error) {
	if key == "" {
		return nil, false, ErrKeyRequired
	}
	data, err := os.ReadFile(fs.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return &entry, true, nil
}

// Put implements Putter
func (fs *fileStore) Put(_ context.Context, key string, entry *Entry) error {
	if key == "" {
		return ErrKeyRequired
	}
	cp := *entry
	cp.Key = key
	if cp.SizeBytes == 0 {
		cp.SizeBytes = int64(len(cp.Body))
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return err
	}

	// The store may have been deleted since Open
	if err := os.MkdirAll(fs.dir, 0o700); err != nil {
		return err
	}

	// Write to temporary file first, then rename (atomic operation)
	path := fs.path(key)
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (fs *fileStore) Delete(_ context.Context, key string) (bool, error) {
	err := os.Remove(fs.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Keys reads every entry file to recover its original key
func (fs *fileStore) Keys(ctx context.Context) ([]string, error) {
	files, err := os.ReadDir(fs.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.dir, f.Name()))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		var head struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(data, &head); err != nil || head.Key == "" {
			continue
		}
		keys = append(keys, head.Key)
	}
	return keys, nil
}

func (fs *fileStore) path(key string) string {
	return filepath.Join(fs.dir, fileNameFor(key))
}
