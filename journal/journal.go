// Package journal persists authority output in a pebble store so a
// restarted authority can pick up from its last snapshot. Keys are a type
// letter followed by big-endian integers, so iteration order is tick order:
//
//	'S' + tick            → full snapshot envelope at that tick
//	'I' + tick + index    → raw intent blob applied at that tick
//
// Attaching a journal is the caller's choice; the replay core never
// requires one.
package journal

import (
	"encoding/binary"
	"errors"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/drpcorg/replay/utils"
)

var (
	ErrNoSnapshot = errors.New("journal holds no snapshot")
	ErrClosed     = errors.New("journal is closed")
)

var writeOptions = pebble.WriteOptions{Sync: false}

const snapshotCacheSize = 32

type Journal struct {
	db    *pebble.DB
	cache *lru.Cache[int64, []byte]
	log   utils.Logger

	// index disambiguates intents journaled within the same tick
	index atomic.Int64
}

func Open(dir string, log utils.Logger) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[int64, []byte](snapshotCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db, cache: cache, log: log}, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return ErrClosed
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func sKey(tick int64) []byte {
	key := [9]byte{'S'}
	binary.BigEndian.PutUint64(key[1:], uint64(tick))
	return key[:]
}

func iKey(tick, index int64) []byte {
	key := [17]byte{'I'}
	binary.BigEndian.PutUint64(key[1:9], uint64(tick))
	binary.BigEndian.PutUint64(key[9:], uint64(index))
	return key[:]
}

// SaveSnapshot stores a complete snapshot envelope under its tick.
func (j *Journal) SaveSnapshot(tick int64, snapshot []byte) error {
	if j.db == nil {
		return ErrClosed
	}
	if err := j.db.Set(sKey(tick), snapshot, &writeOptions); err != nil {
		return err
	}
	j.cache.Add(tick, snapshot)
	return nil
}

// LoadSnapshot returns the snapshot envelope stored at the given tick.
func (j *Journal) LoadSnapshot(tick int64) ([]byte, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	if data, ok := j.cache.Get(tick); ok {
		return data, nil
	}
	val, closer, err := j.db.Get(sKey(tick))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	data := append([]byte(nil), val...)
	_ = closer.Close()
	j.cache.Add(tick, data)
	return data, nil
}

// LoadLatest returns the newest stored snapshot and its tick.
func (j *Journal) LoadLatest() (tick int64, snapshot []byte, err error) {
	if j.db == nil {
		return 0, nil, ErrClosed
	}
	it, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'S'},
		UpperBound: []byte{'T'},
	})
	if err != nil {
		return 0, nil, err
	}
	defer it.Close()

	if !it.Last() {
		return 0, nil, ErrNoSnapshot
	}
	tick = int64(binary.BigEndian.Uint64(it.Key()[1:]))
	snapshot = append([]byte(nil), it.Value()...)
	return tick, snapshot, nil
}

// AppendIntent stores a raw intent blob under the tick it arrived at.
func (j *Journal) AppendIntent(tick int64, blob []byte) error {
	if j.db == nil {
		return ErrClosed
	}
	return j.db.Set(iKey(tick, j.index.Add(1)), blob, &writeOptions)
}

// IntentsSince returns the raw intent blobs journaled at ticks greater than
// the given one, in journal order. Replaying them over the snapshot at that
// tick reconstructs the authority state at shutdown.
func (j *Journal) IntentsSince(tick int64) ([][]byte, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	it, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: iKey(tick+1, 0),
		UpperBound: []byte{'J'},
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var blobs [][]byte
	for it.First(); it.Valid(); it.Next() {
		blobs = append(blobs, append([]byte(nil), it.Value()...))
	}
	return blobs, nil
}

// DropBefore deletes snapshots and intents older than the given tick.
func (j *Journal) DropBefore(tick int64) error {
	if j.db == nil {
		return ErrClosed
	}
	if err := j.db.DeleteRange(sKey(0), sKey(tick), &writeOptions); err != nil {
		return err
	}
	if err := j.db.DeleteRange(iKey(0, 0), iKey(tick, 0), &writeOptions); err != nil {
		return err
	}
	for _, cached := range j.cache.Keys() {
		if cached < tick {
			j.cache.Remove(cached)
		}
	}
	return nil
}
