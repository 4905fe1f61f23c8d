package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/eventloop"
	"github.com/markus-lassfolk/locationd/pkg/logx"
)

const settingsBucket = "settings"

// BoltStore persists settings in a bbolt database so toggles survive restarts
type BoltStore struct {
	*notifier
	db     *bolt.DB
	path   string
	logger *logx.Logger
}

// OpenBoltStore opens (or creates) the settings database at path and seeds
// missing keys with their defaults.
func OpenBoltStore(path string, d eventloop.Dispatcher, logger *logx.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = logx.Discard()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(settingsBucket))
		if err != nil {
			return err
		}
		for k, v := range defaults {
			if b.Get([]byte(k)) == nil {
				if err := b.Put([]byte(k), encodeBool(v)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize settings database: %w", err)
	}

	logger.Info("settings_store_opened", "path", path)

	return &BoltStore{
		notifier: newNotifier(d),
		db:       db,
		path:     path,
		logger:   logger,
	}, nil
}

func encodeBool(v bool) []byte {
	if v {
		return []byte("1")
	}
	return []byte("0")
}

// Bool implements Store
func (s *BoltStore) Bool(key Key) (bool, error) {
	var value bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(settingsBucket))
		if b == nil {
			return fmt.Errorf("settings bucket missing: %w", pkg.ErrConfiguration)
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return fmt.Errorf("setting %q: %w", key, pkg.ErrNotFound)
		}
		value = string(raw) == "1"
		return nil
	})
	return value, err
}

// SetBool implements Store; subscribers hear only actual changes
func (s *BoltStore) SetBool(key Key, value bool) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("setting %q: %w", key, pkg.ErrParameter)
	}

	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(settingsBucket))
		if err != nil {
			return err
		}
		old := b.Get([]byte(key))
		changed = old == nil || (string(old) == "1") != value
		return b.Put([]byte(key), encodeBool(value))
	})
	if err != nil {
		return fmt.Errorf("failed to store setting %q: %w", key, err)
	}

	if changed {
		s.logger.Info("setting_changed", "key", string(key), "value", value)
		s.notify(key, value)
	}
	return nil
}

// Subscribe implements Store
func (s *BoltStore) Subscribe(key Key, owner string, cb Callback) error {
	return s.subscribe(key, owner, cb)
}

// Unsubscribe implements Store
func (s *BoltStore) Unsubscribe(key Key, owner string) {
	s.unsubscribe(key, owner)
}

// Close implements Store
func (s *BoltStore) Close() error {
	return s.db.Close()
}
