package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tnunamak/clawtray/internal/api"
)

const DefaultTTL = 60 * time.Second

var ErrMiss = errors.New("cache miss")

// Cache keeps the last snapshot on disk so repeated status calls and the
// tray share one fetch.
type Cache struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "clawtray", "usage.json"), nil
}

// New returns a cache at path, or at DefaultPath when path is empty.
func New(path string, ttl time.Duration) (*Cache, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{path: path, ttl: ttl, now: time.Now}, nil
}

// Get returns the stored snapshot if it is younger than the TTL.
func (c *Cache) Get() (api.Snapshot, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return api.Snapshot{}, ErrMiss
		}
		return api.Snapshot{}, err
	}
	var snap api.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return api.Snapshot{}, ErrMiss
	}
	if age := c.now().Sub(snap.FetchedAt); age < 0 || age >= c.ttl {
		return api.Snapshot{}, ErrMiss
	}
	return snap, nil
}

func (c *Cache) Put(snap api.Snapshot) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".usage-*.tmp")
	if err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	return os.Rename(tmp.Name(), c.path)
}

// Clear removes the stored snapshot. Used on logout so a stale reading is
// not shown for another account.
func (c *Cache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
