package mapping

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	blockBucket = []byte("mapping_blocks")
	batchBucket = []byte("mapping_batches")
	epochBucket = []byte("mapping_epochs")
)

// BoltStorage is the production Storage backend: an embedded key-value
// store with three sorted buckets, giving the ordered range scans the
// spec calls for without a separate database process.
type BoltStorage struct {
	db *bolt.DB
}

// OpenBoltStorage opens (creating if absent) a bbolt-backed mapping store
// at path, with the three keyed buckets pre-created.
func OpenBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("mapping: open bbolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{blockBucket, batchBucket, epochBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mapping: create buckets: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}

func u64Key(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func (s *BoltStorage) SaveBlockMapping(_ context.Context, m BlockMapping) error {
	return s.save(blockBucket, m.BlockNumber, m)
}

func (s *BoltStorage) LoadBlockMapping(_ context.Context, blockNumber uint64) (*BlockMapping, bool, error) {
	var m BlockMapping
	found, err := s.load(blockBucket, blockNumber, &m)
	if !found || err != nil {
		return nil, found, err
	}
	return &m, true, nil
}

func (s *BoltStorage) RangeBlockMappings(_ context.Context, start, end uint64) ([]BlockMapping, error) {
	var out []BlockMapping
	err := s.rangeScan(blockBucket, start, end, func(raw []byte) error {
		var m BlockMapping
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *BoltStorage) DeleteBlockMapping(_ context.Context, blockNumber uint64) error {
	return s.delete(blockBucket, blockNumber)
}

func (s *BoltStorage) SaveBatchMapping(_ context.Context, m BatchMapping) error {
	return s.save(batchBucket, m.BatchId, m)
}

func (s *BoltStorage) LoadBatchMapping(_ context.Context, batchId uint64) (*BatchMapping, bool, error) {
	var m BatchMapping
	found, err := s.load(batchBucket, batchId, &m)
	if !found || err != nil {
		return nil, found, err
	}
	return &m, true, nil
}

func (s *BoltStorage) RangeBatchMappings(_ context.Context, start, end uint64) ([]BatchMapping, error) {
	var out []BatchMapping
	err := s.rangeScan(batchBucket, start, end, func(raw []byte) error {
		var m BatchMapping
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *BoltStorage) DeleteBatchMapping(_ context.Context, batchId uint64) error {
	return s.delete(batchBucket, batchId)
}

func (s *BoltStorage) SaveEpochMapping(_ context.Context, m EpochMapping) error {
	return s.save(epochBucket, m.EpochId, m)
}

func (s *BoltStorage) LoadEpochMapping(_ context.Context, epochId uint64) (*EpochMapping, bool, error) {
	var m EpochMapping
	found, err := s.load(epochBucket, epochId, &m)
	if !found || err != nil {
		return nil, found, err
	}
	return &m, true, nil
}

func (s *BoltStorage) RangeEpochMappings(_ context.Context, start, end uint64) ([]EpochMapping, error) {
	var out []EpochMapping
	err := s.rangeScan(epochBucket, start, end, func(raw []byte) error {
		var m EpochMapping
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *BoltStorage) DeleteEpochMapping(_ context.Context, epochId uint64) error {
	return s.delete(epochBucket, epochId)
}

func (s *BoltStorage) save(bucket []byte, key uint64, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(u64Key(key), raw)
	})
}

func (s *BoltStorage) load(bucket []byte, key uint64, out interface{}) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get(u64Key(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, out)
	})
	return found, err
}

func (s *BoltStorage) delete(bucket []byte, key uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(u64Key(key))
	})
}

func (s *BoltStorage) rangeScan(bucket []byte, start, end uint64, fn func(raw []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		min := u64Key(start)
		max := u64Key(end)
		for k, v := c.Seek(min); k != nil && string(k) <= string(max); k, v = c.Next() {
			if err := fn(v); err != nil {
				return err
			}
		}
		return nil
	})
}
