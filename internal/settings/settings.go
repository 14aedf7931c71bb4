package settings

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Keys used by the monitor.
const (
	KeyNetatmoConfig  = "config.netatmo"
	KeyNetatmoPersist = "persist.netatmo"
)

// ViperStore is a JSON file backed settings store. Keys are dotted paths and
// case-insensitive. Every Set rewrites the file.
type ViperStore struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// NewViperStore loads the settings file at path. A missing file is treated
// as empty settings.
func NewViperStore(path string) (*ViperStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, pkgerrors.Wrap(err, "failed to read settings file")
		}
	}

	return &ViperStore{v: v, path: path}, nil
}

// Get returns the value stored under key, or def when unset.
func (s *ViperStore) Get(key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.v.IsSet(key) {
		return def
	}
	return s.v.Get(key)
}

// GetBool returns the boolean stored under key, or def when unset.
func (s *ViperStore) GetBool(key string, def bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.v.IsSet(key) {
		return def
	}
	return s.v.GetBool(key)
}

// GetString returns the string stored under key, or def when unset.
func (s *ViperStore) GetString(key string, def string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.v.IsSet(key) {
		return def
	}
	return s.v.GetString(key)
}

// Set stores value under key and writes the settings file.
func (s *ViperStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(key, value)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return pkgerrors.Wrap(err, "failed to create settings directory")
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return pkgerrors.Wrap(err, "failed to write settings file")
	}
	return nil
}

// Path returns the backing file path.
func (s *ViperStore) Path() string {
	return s.path
}
