package store

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/beenest/arbiterd/internal/arbitration"
	"github.com/beenest/arbiterd/internal/types"
)

var (
	bucketArbiters = []byte("arbiters")
	bucketJobs     = []byte("jobs")
	bucketVotes    = []byte("votes")
	bucketMeta     = []byte("meta")

	keyMeta = []byte("state")
)

// BoltStore persists engine snapshots in a bbolt database, one bucket per
// arena. Records are CBOR with integer keys to keep them compact and
// renameable.
type BoltStore struct {
	db  *bolt.DB
	log *zap.Logger
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, log *zap.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketArbiters, bucketJobs, bucketVotes, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save writes a full snapshot in one transaction, replacing the previous
// one. The engine snapshots after every mutating call, so a crash loses at
// most the in-flight call.
func (s *BoltStore) Save(snap *arbitration.Snapshot) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := rewriteBucket(tx, bucketArbiters); err != nil {
			return err
		}
		ab := tx.Bucket(bucketArbiters)
		for _, a := range snap.Arbiters {
			data, err := cbor.Marshal(arbiterToRec(a))
			if err != nil {
				return fmt.Errorf("marshal arbiter %d: %w", a.ID, err)
			}
			if err := ab.Put(u64Key(a.ID), data); err != nil {
				return err
			}
		}

		if err := rewriteBucket(tx, bucketJobs); err != nil {
			return err
		}
		jb := tx.Bucket(bucketJobs)
		for _, j := range snap.Jobs {
			data, err := cbor.Marshal(jobToRec(j))
			if err != nil {
				return fmt.Errorf("marshal job %d: %w", j.ID, err)
			}
			if err := jb.Put(u64Key(j.ID), data); err != nil {
				return err
			}
		}

		if err := rewriteBucket(tx, bucketVotes); err != nil {
			return err
		}
		vb := tx.Bucket(bucketVotes)
		for _, v := range snap.Votes {
			data, err := cbor.Marshal(voteToRec(v))
			if err != nil {
				return fmt.Errorf("marshal vote %d: %w", v.ID, err)
			}
			if err := vb.Put(u64Key(v.ID), data); err != nil {
				return err
			}
		}

		meta := metaRec{
			Active:     snap.Active,
			Operator:   string(snap.Operator),
			InProgress: snap.InProgress,
		}
		for _, addr := range snap.Whitelist {
			meta.Whitelist = append(meta.Whitelist, string(addr))
		}
		data, err := cbor.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		return tx.Bucket(bucketMeta).Put(keyMeta, data)
	})
	if err == nil {
		s.log.Debug("snapshot saved",
			zap.Int("arbiters", len(snap.Arbiters)),
			zap.Int("jobs", len(snap.Jobs)),
			zap.Int("votes", len(snap.Votes)))
	}
	return err
}

// Load reads the last saved snapshot. Returns (nil, nil) when the store has
// never been written, so a fresh daemon starts empty.
func (s *BoltStore) Load() (*arbitration.Snapshot, error) {
	var snap *arbitration.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyMeta)
		if data == nil {
			return nil
		}
		var meta metaRec
		if err := cbor.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("unmarshal meta: %w", err)
		}
		snap = &arbitration.Snapshot{
			Active:     meta.Active,
			Operator:   types.Address(meta.Operator),
			InProgress: meta.InProgress,
		}
		for _, addr := range meta.Whitelist {
			snap.Whitelist = append(snap.Whitelist, types.Address(addr))
		}

		err := tx.Bucket(bucketArbiters).ForEach(func(_, v []byte) error {
			var rec arbiterRec
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal arbiter: %w", err)
			}
			snap.Arbiters = append(snap.Arbiters, recToArbiter(&rec))
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(bucketJobs).ForEach(func(_, v []byte) error {
			var rec jobRec
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal job: %w", err)
			}
			snap.Jobs = append(snap.Jobs, recToJob(&rec))
			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket(bucketVotes).ForEach(func(_, v []byte) error {
			var rec voteRec
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal vote: %w", err)
			}
			snap.Votes = append(snap.Votes, recToVote(&rec))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func rewriteBucket(tx *bolt.Tx, name []byte) error {
	if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
		return err
	}
	_, err := tx.CreateBucket(name)
	return err
}

// u64Key returns the big-endian key for an id, so bucket iteration is in id
// order.
func u64Key(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func bigBytes(x *big.Int) []byte {
	if x == nil {
		return nil
	}
	return x.Bytes()
}

func bytesBig(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}
