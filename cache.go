package bikeserial

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// Cache is the persistent key-value store holding the last working DeviceConfig.
type Cache interface {
	// Load decodes the record stored under key into v. It reports false,
	// with a nil error, when no record exists.
	Load(key string, v any) (bool, error)
	// Store replaces the record under key.
	Store(key string, v any) error
}

// FileCache keeps one JSON document per key inside Dir.
type FileCache struct {
	Dir string

	mu sync.Mutex
}

func (f *FileCache) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(f.Dir, key), nil
}

func (f *FileCache) Load(key string, v any) (bool, error) {
	p, err := f.path(key)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}
	if err = json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding cache entry %s: %w", key, err)
	}
	return true, nil
}

// Store writes the record to a temporary file and renames it into place so a
// crash never leaves a truncated entry behind.
func (f *FileCache) Store(key string, v any) (err error) {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache entry %s: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err = os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(f.Dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating cache entry %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return errors.Join(fmt.Errorf("writing cache entry %s: %w", key, err), tmp.Close())
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("replacing cache entry %s: %w", key, err)
	}
	return nil
}
