package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-lookup/internal/lookup/domain"
	"github.com/haukened/rr-lookup/internal/lookup/repos/blacklist"
)

var (
	bucketExact  = []byte("exact")
	bucketPrefix = []byte("prefix")
	bucketMeta   = []byte("meta")

	metaVersion = []byte("version")
	metaUpdated = []byte("updated")

	errMissingBucket = errors.New("blacklist bucket missing")
)

// boltStore implements blacklist.Store using bbolt. Each bucket maps a
// normalized number to a single flag byte.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (blacklist.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error { return ensureBucketsFn(tx) }); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

// bucketCreator is the subset of *bbolt.Tx used to create buckets.
type bucketCreator interface {
	CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error)
}

// ensureBucketsFn is a seam for tests.
var ensureBucketsFn = ensureBuckets

func ensureBuckets(tx bucketCreator) error {
	for _, name := range [][]byte{bucketExact, bucketPrefix, bucketMeta} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func bucketFor(kind domain.EntryKind) ([]byte, error) {
	switch kind {
	case domain.EntryExact:
		return bucketExact, nil
	case domain.EntryPrefix:
		return bucketPrefix, nil
	default:
		return nil, fmt.Errorf("unknown entry kind %v", kind)
	}
}

// GetFirstMatch returns the exact entry for number if its flags intersect
// mask, otherwise the longest prefix entry of number that does. Entries
// blocking nothing in mask are skipped so they never hide a covering prefix.
func (s *boltStore) GetFirstMatch(number string, mask domain.BlockMask) (domain.BlacklistEntry, bool, error) {
	var (
		out   domain.BlacklistEntry
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketExact); b != nil {
			if v := b.Get([]byte(number)); len(v) == 1 && domain.BlockMask(v[0]).Intersects(mask) {
				out = domain.BlacklistEntry{Number: number, Flags: domain.BlockMask(v[0]), Kind: domain.EntryExact}
				found = true
				return nil
			}
		}
		b := tx.Bucket(bucketPrefix)
		if b == nil {
			return nil
		}
		for i := len(number); i > 0; i-- {
			p := number[:i]
			if v := b.Get([]byte(p)); len(v) == 1 && domain.BlockMask(v[0]).Intersects(mask) {
				out = domain.BlacklistEntry{Number: p, Flags: domain.BlockMask(v[0]), Kind: domain.EntryPrefix}
				found = true
				return nil
			}
		}
		return nil
	})
	return out, found, err
}

// Get returns the entry stored under number in the bucket for kind.
func (s *boltStore) Get(number string, kind domain.EntryKind) (domain.BlacklistEntry, bool, error) {
	bucket, err := bucketFor(kind)
	if err != nil {
		return domain.BlacklistEntry{}, false, err
	}
	var (
		out   domain.BlacklistEntry
		found bool
	)
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(number)); len(v) == 1 {
			out = domain.BlacklistEntry{Number: number, Flags: domain.BlockMask(v[0]), Kind: kind}
			found = true
		}
		return nil
	})
	return out, found, err
}

// Apply sets then clears flags on one entry inside a single transaction and
// bumps the store version. An entry left with no flags is deleted.
func (s *boltStore) Apply(number string, kind domain.EntryKind, set, clear domain.BlockMask, updatedUnix int64) (domain.BlacklistEntry, error) {
	bucket, err := bucketFor(kind)
	if err != nil {
		return domain.BlacklistEntry{}, err
	}
	out := domain.BlacklistEntry{Number: number, Kind: kind}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		meta := tx.Bucket(bucketMeta)
		if b == nil || meta == nil {
			return errMissingBucket
		}
		key := []byte(number)
		var cur domain.BlockMask
		if v := b.Get(key); len(v) == 1 {
			cur = domain.BlockMask(v[0])
		}
		out.Flags = cur.Apply(set, clear)
		if out.Flags == domain.BlockNone {
			if err := b.Delete(key); err != nil {
				return err
			}
		} else if err := b.Put(key, []byte{byte(out.Flags)}); err != nil {
			return err
		}
		return bumpMeta(meta, updatedUnix)
	})
	if err != nil {
		return domain.BlacklistEntry{}, err
	}
	return out, nil
}

func bumpMeta(meta *bbolt.Bucket, updatedUnix int64) error {
	var version uint64
	if v := meta.Get(metaVersion); len(v) == 8 {
		version = binary.BigEndian.Uint64(v)
	}
	vbuf := make([]byte, 8)
	ubuf := make([]byte, 8)
	binary.BigEndian.PutUint64(vbuf, version+1)
	binary.BigEndian.PutUint64(ubuf, uint64(updatedUnix))
	if err := meta.Put(metaVersion, vbuf); err != nil {
		return err
	}
	return meta.Put(metaUpdated, ubuf)
}

// Entries returns every stored entry, exact entries first.
func (s *boltStore) Entries() ([]domain.BlacklistEntry, error) {
	var out []domain.BlacklistEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, kb := range []struct {
			name []byte
			kind domain.EntryKind
		}{{bucketExact, domain.EntryExact}, {bucketPrefix, domain.EntryPrefix}} {
			b := tx.Bucket(kb.name)
			if b == nil {
				continue
			}
			if err := b.ForEach(func(k, v []byte) error {
				if len(v) != 1 {
					return nil
				}
				out = append(out, domain.BlacklistEntry{Number: string(k), Flags: domain.BlockMask(v[0]), Kind: kb.kind})
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *boltStore) Stats() blacklist.StoreStats {
	st := blacklist.StoreStats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketExact); b != nil {
			st.ExactCount = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketPrefix); b != nil {
			st.PrefixCount = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(metaVersion); len(v) == 8 {
				st.Version = binary.BigEndian.Uint64(v)
			}
			if v := b.Get(metaUpdated); len(v) == 8 {
				st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return st
}
