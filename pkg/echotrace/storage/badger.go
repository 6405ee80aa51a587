package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"github.com/echotrace/echotrace/pkg/models"
)

// DigestIndex is a secondary exact-match index from fingerprint digest to
// (source, segment). It is a best-effort accelerator for the digest
// fast path: a miss just means the search falls back to the vector scan, so
// index writes never fail an indexing job.
type DigestIndex struct {
	db *badger.DB
}

const digestIndexBatchSize = 1000

func OpenDigestIndex(dir string) (*DigestIndex, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening digest index: %w", err)
	}
	return &DigestIndex{db: db}, nil
}

func (x *DigestIndex) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

func digestKey(digest uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, digest)
	return key
}

// Put records one digest -> (source, segment) entry. Later entries with the
// same digest overwrite earlier ones; digest collisions between distinct
// audio are rare enough that last-writer-wins is acceptable for an
// accelerator.
func (x *DigestIndex) Put(digest uint64, sourceID string, segmentIndex int) error {
	if x == nil || x.db == nil {
		return errors.New("digest index is nil")
	}
	val := fmt.Sprintf("%s|%d", sourceID, segmentIndex)
	return x.db.Update(func(txn *badger.Txn) error {
		return txn.Set(digestKey(digest), []byte(val))
	})
}

// PutBatch writes many entries through a write batch, flushing in chunks.
func (x *DigestIndex) PutBatch(items []models.StoredFingerprint) error {
	if x == nil || x.db == nil {
		return errors.New("digest index is nil")
	}
	wb := x.db.NewWriteBatch()
	defer wb.Cancel()
	count := 0
	for i := range items {
		val := fmt.Sprintf("%s|%d", items[i].SourceID, items[i].SegmentIndex)
		if err := wb.Set(digestKey(items[i].Digest), []byte(val)); err != nil {
			return err
		}
		count++
		if count%digestIndexBatchSize == 0 {
			if err := wb.Flush(); err != nil {
				return err
			}
		}
	}
	return wb.Flush()
}

// Lookup resolves a digest to its (source, segment). ok is false on a miss.
func (x *DigestIndex) Lookup(digest uint64) (sourceID string, segmentIndex int, ok bool, err error) {
	if x == nil || x.db == nil {
		return "", 0, false, errors.New("digest index is nil")
	}
	err = x.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(digestKey(digest))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(v []byte) error {
			src, idx, perr := parseDigestValue(string(v))
			if perr != nil {
				return perr
			}
			sourceID = src
			segmentIndex = idx
			ok = true
			return nil
		})
	})
	if err != nil {
		return "", 0, false, fmt.Errorf("digest lookup: %w", err)
	}
	return sourceID, segmentIndex, ok, nil
}

func parseDigestValue(v string) (string, int, error) {
	sep := strings.LastIndexByte(v, '|')
	if sep < 0 {
		return "", 0, fmt.Errorf("malformed digest index value %q", v)
	}
	idx, err := strconv.Atoi(v[sep+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed digest index value %q", v)
	}
	return v[:sep], idx, nil
}
