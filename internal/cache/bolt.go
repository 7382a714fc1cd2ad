package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dshills/coherence/internal/schema"
)

// bucketResults holds one JSON envelope per project id.
var bucketResults = []byte("coherence_results")

type envelope struct {
	ExpiresAt time.Time               `json:"expires_at,omitempty"`
	Result    *schema.CoherenceResult `json:"result"`
}

// BoltStore is a Store persisted in a bbolt file, so results survive
// process restarts.
type BoltStore struct {
	db  *bolt.DB
	ttl time.Duration
	obs Observer
	now func() time.Time
}

// OpenBolt opens (creating if needed) the cache file at path.
func OpenBolt(path string, ttl time.Duration, obs Observer) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init bucket: %w", err)
	}
	return &BoltStore{db: db, ttl: ttl, obs: obs, now: time.Now}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get implements Store. Expired entries are reported as misses and left for
// the next Set or Invalidate.
func (s *BoltStore) Get(_ context.Context, projectID string) (*schema.CoherenceResult, bool, error) {
	var env *envelope
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketResults).Get([]byte(projectID))
		if data == nil {
			return nil
		}
		env = &envelope{}
		return json.Unmarshal(data, env)
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", projectID, err)
	}
	if env == nil || env.Result == nil || expired(env.ExpiresAt, s.now()) {
		observe(s.obs, false)
		return nil, false, nil
	}
	observe(s.obs, true)
	return env.Result, true, nil
}

// Set implements Store.
func (s *BoltStore) Set(_ context.Context, projectID string, res *schema.CoherenceResult) error {
	data, err := json.Marshal(envelope{ExpiresAt: expiry(s.now(), s.ttl), Result: res})
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", projectID, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).Put([]byte(projectID), data)
	})
	if err != nil {
		return fmt.Errorf("cache: set %s: %w", projectID, err)
	}
	return nil
}

// Invalidate implements Store.
func (s *BoltStore) Invalidate(_ context.Context, projectID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).Delete([]byte(projectID))
	})
	if err != nil {
		return fmt.Errorf("cache: invalidate %s: %w", projectID, err)
	}
	return nil
}
