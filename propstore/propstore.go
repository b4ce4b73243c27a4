// Package propstore implements the content-addressed, reference-counted
// property store (spec component C2), grounded on
// original_source/src/property.c.
package propstore

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/jgehring/svndumpgen/dumperr"
	"github.com/jgehring/svndumpgen/dumptypes"
)

var (
	bucketBlobs    = []byte("propblobs")
	bucketRefs     = []byte("propids")
	bucketPathProp = []byte("pathprops")
)

// Store is the property store: two maps (property-id -> refcount,
// path -> property-id) plus a keyed blob store (property-id -> serialised
// property set), all three backed by buckets in one bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the bbolt database at path and ensures
// its three buckets exist. dbPath must be a different file from the one
// pathrepo.Open uses: bbolt locks a database file for its one open
// handle, so a second Open of the same file blocks.
func Open(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, 0o644, nil)
	if err != nil {
		return nil, dumperr.Wrapf(dumperr.Storage, err, "opening property store %s", dbPath)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlobs, bucketRefs, bucketPathProp} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, dumperr.Wrap(dumperr.Storage, err, "creating property store buckets")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Serialize encodes a property set as the concatenation of
// { u32 key_len; key_bytes; u32 value_len; value_bytes } records
// terminated by a u32 zero, little-endian (spec §4.2 / design notes'
// explicit byte-order recommendation).
func Serialize(props dumptypes.PropertySet) []byte {
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, name := range names {
		val := props[name]
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(name)))
		buf.Write(lenBuf[:])
		buf.WriteString(name)
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(val)))
		buf.Write(lenBuf[:])
		buf.Write(val)
	}
	binary.LittleEndian.PutUint32(lenBuf[:], 0)
	buf.Write(lenBuf[:])
	return buf.Bytes()
}

// Deserialize decodes bytes produced by Serialize.
func Deserialize(data []byte) (dumptypes.PropertySet, error) {
	props := dumptypes.PropertySet{}
	off := 0
	for {
		if off+4 > len(data) {
			return nil, dumperr.New(dumperr.Storage, "truncated property blob")
		}
		klen := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		if klen == 0 {
			break
		}
		if off+int(klen) > len(data) {
			return nil, dumperr.New(dumperr.Storage, "truncated property key")
		}
		name := string(data[off : off+int(klen)])
		off += int(klen)
		if off+4 > len(data) {
			return nil, dumperr.New(dumperr.Storage, "truncated property value length")
		}
		vlen := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		if off+int(vlen) > len(data) {
			return nil, dumperr.New(dumperr.Storage, "truncated property value")
		}
		val := make([]byte, vlen)
		copy(val, data[off:off+int(vlen)])
		off += int(vlen)
		props[name] = val
	}
	return props, nil
}

func propID(serialized []byte) [16]byte {
	return md5.Sum(serialized)
}

// Store writes props under path. If props is empty, any previous
// association for path is dropped. Otherwise the bytes are serialised and
// hashed to an id; if the id is new its blob is inserted with refcount 1,
// otherwise the refcount is incremented. Any previous association for
// path is first dropped, with a matching refcount decrement and blob
// removal if that drops the refcount to zero — this is stricter than
// original_source/src/property.c's property_store, which does not appear
// to perform that decrement on overwrite; the spec's explicit invariant
// (refcount equals the number of paths currently bound) is authoritative.
func (s *Store) Store(path string, props dumptypes.PropertySet) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := dropAssociation(tx, path); err != nil {
			return err
		}
		if len(props) == 0 {
			return nil
		}
		serialized := Serialize(props)
		id := propID(serialized)
		refs := tx.Bucket(bucketRefs)
		count := getRefCount(refs, id)
		if count == 0 {
			if err := tx.Bucket(bucketBlobs).Put(id[:], serialized); err != nil {
				return err
			}
		}
		if err := putRefCount(refs, id, count+1); err != nil {
			return err
		}
		return tx.Bucket(bucketPathProp).Put([]byte(path), id[:])
	})
}

// Load retrieves the property set bound to path, drops the association,
// decrements the refcount, and deletes the blob if the refcount reaches
// zero. Returns (nil, false, nil) if path has no association.
func (s *Store) Load(path string) (dumptypes.PropertySet, bool, error) {
	var props dumptypes.PropertySet
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		pathProp := tx.Bucket(bucketPathProp)
		id := pathProp.Get([]byte(path))
		if id == nil {
			return nil
		}
		blob := tx.Bucket(bucketBlobs).Get(id)
		if blob != nil {
			p, err := Deserialize(blob)
			if err != nil {
				return err
			}
			props, found = p, true
		}
		return dropAssociation(tx, path)
	})
	if err != nil {
		return nil, false, dumperr.Wrapf(dumperr.Storage, err, "loading properties for %s", path)
	}
	return props, found, nil
}

// Peek returns the property set bound to path without disturbing the
// association or any refcount, used when a copy inherits a source path's
// properties unchanged and the driver must register the same blob under
// the new path.
func (s *Store) Peek(path string) (dumptypes.PropertySet, bool, error) {
	var props dumptypes.PropertySet
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketPathProp).Get([]byte(path))
		if id == nil {
			return nil
		}
		blob := tx.Bucket(bucketBlobs).Get(id)
		if blob == nil {
			return nil
		}
		p, err := Deserialize(blob)
		if err != nil {
			return err
		}
		props, found = p, true
		return nil
	})
	if err != nil {
		return nil, false, dumperr.Wrapf(dumperr.Storage, err, "peeking properties for %s", path)
	}
	return props, found, nil
}

// Delete drops path's association (if any), decrementing the refcount and
// removing the blob if it reaches zero, without returning the decoded
// properties.
func (s *Store) Delete(path string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return dropAssociation(tx, path)
	})
	if err != nil {
		return dumperr.Wrapf(dumperr.Storage, err, "deleting properties for %s", path)
	}
	return nil
}

func dropAssociation(tx *bolt.Tx, path string) error {
	pathProp := tx.Bucket(bucketPathProp)
	id := pathProp.Get([]byte(path))
	if id == nil {
		return nil
	}
	id = append([]byte(nil), id...)
	if err := pathProp.Delete([]byte(path)); err != nil {
		return err
	}
	refs := tx.Bucket(bucketRefs)
	var arr [16]byte
	copy(arr[:], id)
	count := getRefCount(refs, arr)
	if count <= 1 {
		if err := refs.Delete(id); err != nil {
			return err
		}
		return tx.Bucket(bucketBlobs).Delete(id)
	}
	return putRefCount(refs, arr, count-1)
}

func getRefCount(refs *bolt.Bucket, id [16]byte) uint64 {
	v := refs.Get(id[:])
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func putRefCount(refs *bolt.Bucket, id [16]byte, count uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], count)
	return refs.Put(id[:], buf[:])
}

// RefCount returns the current refcount for the property-id bound to
// path, or 0 if path has no association. Exposed for tests verifying the
// refcount invariant (spec §8 invariant 6).
func (s *Store) RefCount(path string) (uint64, error) {
	var count uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketPathProp).Get([]byte(path))
		if id == nil {
			return nil
		}
		var arr [16]byte
		copy(arr[:], id)
		count = getRefCount(tx.Bucket(bucketRefs), arr)
		return nil
	})
	return count, err
}
