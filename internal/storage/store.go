// Package storage persists the cluster state the FSM owns and the
// per-shard data directories the core's placement decisions point
// into (§6 "persisted layout"). The cluster state is stored over bbolt
// as one JSON value under a single key of a single bucket.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/warrensql/internal/cluster"
	bolt "go.etcd.io/bbolt"
)

var bucketClusterState = []byte("cluster_state")

const clusterStateKey = "current"

// Store is the typed API §6 says the core reads/writes cluster-state
// metadata through, rather than touching the gateway subsystem's own
// storage directly.
type Store interface {
	LoadState() (cluster.State, error)
	SaveState(state cluster.State) error
	Close() error
}

// BoltStore implements Store over a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the cluster-state
// database file at dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketClusterState)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// LoadState returns the persisted cluster state, or a fresh empty
// state if none has been written yet.
func (s *BoltStore) LoadState() (cluster.State, error) {
	var state cluster.State
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusterState)
		data := b.Get([]byte(clusterStateKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return cluster.State{}, fmt.Errorf("storage: load state: %w", err)
	}
	if !found {
		return cluster.NewEmptyState(), nil
	}
	return state, nil
}

// SaveState overwrites the persisted cluster state.
func (s *BoltStore) SaveState(state cluster.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage: marshal state: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusterState)
		return b.Put([]byte(clusterStateKey), data)
	})
}
