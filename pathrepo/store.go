package pathrepo

import (
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/jgehring/svndumpgen/dumperr"
)

var bucketName = []byte("paths")

// Store is the keyed blob store behind paths.db: one bbolt bucket keyed
// by decimal revision number, Go analogue of original_source/src/mukv.c's
// mukv_open/store/fetch/delete/exists contract.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if needed) the bbolt database at path and
// ensures the paths bucket exists.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, dumperr.Wrapf(dumperr.Storage, err, "opening path-repo store %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, dumperr.Wrap(dumperr.Storage, err, "creating paths bucket")
	}
	return &Store{db: db}, nil
}

func revKey(rev int64) []byte {
	return []byte(strconv.FormatInt(rev, 10))
}

func (s *Store) put(rev int64, blob []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(revKey(rev), blob)
	})
	if err != nil {
		return dumperr.Wrapf(dumperr.Storage, err, "storing path-repo blob for revision %d", rev)
	}
	return nil
}

func (s *Store) get(rev int64) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(revKey(rev))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, dumperr.Wrapf(dumperr.Storage, err, "fetching path-repo blob for revision %d", rev)
	}
	return out, out != nil, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
