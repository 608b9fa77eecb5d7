// Package tokencache provides a small embedded-KV-backed cache used by two
// front-end concerns that need to survive a single Session's lifetime, and
// optionally a server restart: bookkeeping of issued path-token tags (so a
// tag can be recognized as already-issued within its replay window) and a
// cache of recently-seen device fingerprint -> descriptor mappings, so
// list_devices can answer instantly for devices the server has already
// fingerprinted even across a usbsas-server restart.
package tokencache

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/usbsas/pkg/device"
)

// tokenKeyPrefix and fingerprintKeyPrefix namespace the two concerns this
// cache serves inside one badger.DB.
const (
	tokenKeyPrefix       = "token:"
	fingerprintKeyPrefix = "fp:"
)

// Cache wraps a badger.DB on disk at the configured directory.
type Cache struct {
	db *badger.DB
}

// Open opens (creating if absent) the badger database at dir. Badger's own
// logger is silenced; this package logs through internal/logger at call
// sites instead.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("tokencache: open %s: %w", dir, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying badger.DB.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RecordToken records that tag has been issued, with a TTL matching the
// replay window a client is allowed to keep reusing it for. A tag that
// outlives its TTL is no longer considered "seen" and badger reclaims the
// entry on its next GC pass.
func (c *Cache) RecordToken(tag string, ttl time.Duration) error {
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(tokenKeyPrefix+tag), []byte{1})
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// SeenToken reports whether tag was previously recorded and has not yet
// expired out of its replay window.
func (c *Cache) SeenToken(tag string) (bool, error) {
	seen := false
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(tokenKeyPrefix + tag))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		seen = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("tokencache: lookup token: %w", err)
	}
	return seen, nil
}

// CacheFingerprint stores desc under its own fingerprint, so it survives a
// server restart and can answer list_devices without re-enumerating before
// usbdev has had a chance to respond.
func (c *Cache) CacheFingerprint(desc device.Descriptor) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("tokencache: marshal descriptor: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fingerprintKeyPrefix+string(desc.ID)), data)
	})
}

// LookupFingerprint returns the cached descriptor for fp, if any.
func (c *Cache) LookupFingerprint(fp device.Fingerprint) (device.Descriptor, bool, error) {
	var desc device.Descriptor
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fingerprintKeyPrefix + string(fp)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &desc); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return device.Descriptor{}, false, fmt.Errorf("tokencache: lookup fingerprint: %w", err)
	}
	return desc, found, nil
}
