// Package boltstore persists the world to a bbolt file. The in-memory
// gamedb.Database stays authoritative; the store is written through on
// demand and checkpointed periodically.
package boltstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Store wraps a bbolt database and the in-memory world it backs.
type Store struct {
	bolt  *bbolt.DB
	cache *gamedb.Database
	log   *zap.Logger
	now   func() time.Time
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketObjects, bucketPlayers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keyVersion); v != nil && keyToInt(v) != formatVersion {
			return fmt.Errorf("format version %d, want %d", keyToInt(v), formatVersion)
		}
		return meta.Put(keyVersion, intToKey(formatVersion))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init %s: %w", path, err)
	}

	return &Store{
		bolt:  db,
		cache: gamedb.NewDatabase(),
		log:   log,
		now:   time.Now,
	}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// DB returns the in-memory database cache.
func (s *Store) DB() *gamedb.Database {
	return s.cache
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// Empty reports whether no objects have been stored yet.
func (s *Store) Empty() bool {
	empty := true
	_ = s.bolt.View(func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket(bucketObjects).Cursor().First()
		empty = k == nil
		return nil
	})
	return empty
}

// PutObject persists a single object (write-through).
func (s *Store) PutObject(obj *gamedb.Object) error {
	data, err := encodeObject(obj)
	if err != nil {
		return fmt.Errorf("boltstore: encode object #%d: %w", obj.DBRef, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketObjects).Put(refToKey(obj.DBRef), data); err != nil {
			return err
		}
		return putPlayer(tx, obj)
	})
}

// PutObjects persists several objects in one transaction. Nil entries
// are skipped.
func (s *Store) PutObjects(objs ...*gamedb.Object) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		for _, obj := range objs {
			if obj == nil {
				continue
			}
			data, err := encodeObject(obj)
			if err != nil {
				return fmt.Errorf("boltstore: encode object #%d: %w", obj.DBRef, err)
			}
			if err := b.Put(refToKey(obj.DBRef), data); err != nil {
				return err
			}
			if err := putPlayer(tx, obj); err != nil {
				return err
			}
		}
		return nil
	})
}

func putPlayer(tx *bbolt.Tx, obj *gamedb.Object) error {
	if obj.Type != gamedb.TypePlayer || obj.IsGoing() {
		return nil
	}
	return tx.Bucket(bucketPlayers).Put([]byte(strings.ToLower(obj.Name)), refToKey(obj.DBRef))
}

// DeleteObject removes an object and its player index entry.
func (s *Store) DeleteObject(ref gamedb.DBRef) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if data := b.Get(refToKey(ref)); data != nil {
			if obj, err := decodeObject(data); err == nil && obj.Type == gamedb.TypePlayer {
				if err := tx.Bucket(bucketPlayers).Delete([]byte(strings.ToLower(obj.Name))); err != nil {
					return err
				}
			}
		}
		return b.Delete(refToKey(ref))
	})
}

// LookupPlayer finds a player by name in the stored index.
func (s *Store) LookupPlayer(name string) gamedb.DBRef {
	ref := gamedb.Nothing
	_ = s.bolt.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketPlayers).Get([]byte(strings.ToLower(name))); v != nil {
			ref = keyToRef(v)
		}
		return nil
	})
	return ref
}

// ImportFromDatabase makes db the cache and writes all of it, 1000
// objects per transaction.
func (s *Store) ImportFromDatabase(db *gamedb.Database) error {
	s.cache = db
	n, err := s.Checkpoint()
	if err != nil {
		return fmt.Errorf("boltstore: import: %w", err)
	}
	s.log.Info("boltstore: imported", zap.Int("objects", n))
	return nil
}

// Checkpoint writes every cached object and the save time. It returns the
// number of objects written.
func (s *Store) Checkpoint() (int, error) {
	refs := make([]gamedb.DBRef, 0, len(s.cache.Objects))
	for ref := range s.cache.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	batch := make([]*gamedb.Object, 0, 1000)
	for _, ref := range refs {
		batch = append(batch, s.cache.Objects[ref])
		if len(batch) == cap(batch) {
			if err := s.PutObjects(batch...); err != nil {
				return 0, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.PutObjects(batch...); err != nil {
			return 0, err
		}
	}

	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyGod, refToKey(s.cache.God)); err != nil {
			return err
		}
		return meta.Put(keySaved, intToKey(s.now().Unix()))
	})
	if err != nil {
		return 0, fmt.Errorf("boltstore: meta: %w", err)
	}
	return len(refs), nil
}

// LastSaved returns when Checkpoint last completed, or the zero time.
func (s *Store) LastSaved() time.Time {
	var t time.Time
	_ = s.bolt.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keySaved); v != nil {
			t = time.Unix(keyToInt(v), 0)
		}
		return nil
	})
	return t
}

// LoadAll reads the entire bbolt database into the in-memory cache.
func (s *Store) LoadAll() error {
	db := gamedb.NewDatabase()
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyGod); v != nil {
			db.God = keyToRef(v)
		}
		return tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			obj, err := decodeObject(v)
			if err != nil {
				return fmt.Errorf("decode #%d: %w", keyToRef(k), err)
			}
			db.Add(obj)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("boltstore: load: %w", err)
	}
	s.cache = db
	s.log.Info("boltstore: loaded", zap.Int("objects", len(db.Objects)), zap.String("path", s.Path()))
	return nil
}
