package checkpointer

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	ts "github.com/samuelfneumann/goarcade/timestep"
)

const checkpointBucket = "checkpoints"

// latestKey indexes the most recent snapshot so a restore does not
// have to scan the bucket
var latestKey = []byte("latest")

// Bolt checkpoints a Serializable to a bbolt database every interval
// timesteps. Each snapshot is stored under the cumulative timestep
// count, and the newest snapshot is additionally stored under a fixed
// key so that LoadLatest can find it without scanning.
type Bolt struct {
	db       *bolt.DB
	target   Serializable
	interval int

	// Cumulative count of timesteps shown to Checkpoint. Episodic
	// step numbers restart at every environment reset, so they can
	// drive neither the interval nor the snapshot keys.
	steps     int
	lastSaved int
}

// NewBolt opens (or creates) the database at dbPath and returns a
// Checkpointer that snapshots target every interval timesteps
func NewBolt(dbPath string, target Serializable, interval int) (*Bolt, error) {
	if interval < 1 {
		return nil, errors.Errorf("newbolt: interval must be positive \n\t"+
			"have(%v)", interval)
	}
	if target == nil {
		return nil, errors.New("newbolt: no target to checkpoint")
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "newbolt: could not open database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(checkpointBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "newbolt: could not create bucket")
	}

	return &Bolt{
		db:        db,
		target:    target,
		interval:  interval,
		lastSaved: -1,
	}, nil
}

// Checkpoint snapshots the target if at least interval timesteps have
// passed since the last snapshot, counting across episode boundaries
func (b *Bolt) Checkpoint(t ts.TimeStep) error {
	b.steps++
	if b.lastSaved >= 0 && b.steps-b.lastSaved < b.interval {
		return nil
	}

	data, err := b.target.GobEncode()
	if err != nil {
		return errors.Wrap(err, "checkpoint: could not encode target")
	}

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(b.steps))

	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(checkpointBucket))
		if err := bucket.Put(key, data); err != nil {
			return err
		}
		return bucket.Put(latestKey, data)
	})
	if err != nil {
		return errors.Wrap(err, "checkpoint: could not store snapshot")
	}

	b.lastSaved = b.steps
	return nil
}

// LoadLatest restores the most recent snapshot into target. It returns
// an error if no snapshot has been stored yet.
func (b *Bolt) LoadLatest(target Serializable) error {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(checkpointBucket))
		stored := bucket.Get(latestKey)
		if stored == nil {
			return errors.New("no snapshot stored")
		}
		data = make([]byte, len(stored))
		copy(data, stored)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "loadlatest: could not read snapshot")
	}

	if err := target.GobDecode(data); err != nil {
		return errors.Wrap(err, "loadlatest: could not decode snapshot")
	}
	return nil
}

// Close closes the underlying database
func (b *Bolt) Close() error {
	return b.db.Close()
}
