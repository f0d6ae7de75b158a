// Package settings implements the small durable key-value store the cache
// engine uses across restarts: the time of the last successful catalog
// refresh and whether the user has accepted the terms of use. The store is a
// YAML file that is rewritten atomically on every change.
package settings

import (
	"os"
	"sync"
	"time"

	"github.com/skyroute/mapcache/pkg/errors"
	"github.com/skyroute/mapcache/pkg/fsutil"
	"gopkg.in/yaml.v3"
)

type persisted struct {
	LastCatalogRefresh time.Time `yaml:"last_catalog_refresh,omitempty"`
	TermsAccepted      bool      `yaml:"terms_accepted"`
}

// Store is a persisted settings handle. The zero value is not usable; use
// Open. A Store is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	data persisted
}

// Open loads the store at path, creating an empty one if the file does not
// exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(errors.ErrSettingsLoad, err.Error())
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, errors.Wrap(errors.ErrSettingsLoad, err.Error())
	}
	return s, nil
}

// LastCatalogRefresh returns the time of the last successful catalog refresh.
// The zero time means no refresh has ever succeeded.
func (s *Store) LastCatalogRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.LastCatalogRefresh
}

// SetLastCatalogRefresh records t as the last successful catalog refresh.
func (s *Store) SetLastCatalogRefresh(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.LastCatalogRefresh = t.UTC()
	return s.flushLocked()
}

// TermsAccepted reports whether the surrounding application has granted
// consent for network access.
func (s *Store) TermsAccepted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.TermsAccepted
}

// SetTermsAccepted records the consent flag.
func (s *Store) SetTermsAccepted(accepted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.TermsAccepted = accepted
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	out, err := yaml.Marshal(&s.data)
	if err != nil {
		return errors.Wrap(errors.ErrSettingsSave, err.Error())
	}
	if err := fsutil.EnsureFileDir(s.path); err != nil {
		return errors.Wrap(errors.ErrSettingsSave, err.Error())
	}
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, out, fsutil.FileModeDefault); err != nil {
		return errors.Wrap(errors.ErrSettingsSave, err.Error())
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(errors.ErrSettingsSave, err.Error())
	}
	return nil
}
