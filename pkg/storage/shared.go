package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

var (
	visitsBucket    = []byte("visits")
	protocolsBucket = []byte("protocols")
	allBuckets      = [][]byte{visitsBucket, protocolsBucket}
)

var (
	ErrStoreInUse    = eris.New("the store is locked by another process, stop glass first")
	ErrMissingBucket = eris.New("not a visit store")
)

// Store is the visit log backed by a bbolt database
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and makes sure all buckets exist
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to create buckets")
	}

	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing visit store without write access. bbolt locks the file for writers, so this fails
// with ErrStoreInUse while glass has the store open.
func OpenReadOnly(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:  1 * time.Second,
		ReadOnly: true,
	})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, eris.Wrapf(ErrStoreInUse, "failed to open %s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", path)
	}

	err = db.View(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := bucket(tx, name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrapf(err, "failed to open %s", path)
	}

	return &Store{db: db}, nil
}

func bucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, eris.Wrapf(ErrMissingBucket, "bucket %s is missing", name)
	}
	return b, nil
}

// Close releases the database file
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) view(ctx context.Context, callback func(*bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(callback)
}

func (s *Store) batch(ctx context.Context, callback func(*bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Batch(callback)
}
