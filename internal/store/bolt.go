package store

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
)

// keysBucket is the single bucket holding one JSON document per key,
// mirroring a "one document per key in a single collection" layout.
// Adapted from the teacher's internal/db/bolt.go, which only ever
// persisted a readiness timestamp; here the whole Key document round-trips
// through the bucket and every mutation goes through a bolt.Tx, which is
// what gives FindOneAndUpdate its atomicity within one process.
const keysBucket = "keys"

// BoltStore is an embedded, single-process KeyStore backend. It is the CLI's
// default when neither REDIS_URL nor REDIS_HOST is configured.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists([]byte(keysBucket))
		return e
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) FindAll(_ context.Context, filter Filter) ([]domain.Key, error) {
	var out []domain.Key
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysBucket))
		return b.ForEach(func(_, v []byte) error {
			var k domain.Key
			if err := json.Unmarshal(v, &k); err != nil {
				return brokererrors.ErrStoreFatal
			}
			if matches(k, filter) {
				out = append(out, k)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) FindOne(_ context.Context, filter Filter) (domain.Key, bool, error) {
	var found domain.Key
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysBucket))
		if filter.HasSubID {
			v := b.Get([]byte(filter.SubscriptionID))
			if v == nil {
				return nil
			}
			var k domain.Key
			if err := json.Unmarshal(v, &k); err != nil {
				return brokererrors.ErrStoreFatal
			}
			if matches(k, filter) {
				found, ok = k, true
			}
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if ok {
				return nil
			}
			var k domain.Key
			if err := json.Unmarshal(v, &k); err != nil {
				return brokererrors.ErrStoreFatal
			}
			if matches(k, filter) {
				found, ok = k, true
			}
			return nil
		})
	})
	return found, ok, err
}

func (s *BoltStore) InsertOne(_ context.Context, key domain.Key) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysBucket))
		if b.Get([]byte(key.SubscriptionID)) != nil {
			return brokererrors.ErrStoreFatal
		}
		buf, err := json.Marshal(key)
		if err != nil {
			return err
		}
		return b.Put([]byte(key.SubscriptionID), buf)
	})
}

func (s *BoltStore) UpdateOne(_ context.Context, filter Filter, upd Update) (int, error) {
	matched := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysBucket))
		return b.ForEach(func(id, v []byte) error {
			var k domain.Key
			if err := json.Unmarshal(v, &k); err != nil {
				return brokererrors.ErrStoreFatal
			}
			if !matches(k, filter) {
				return nil
			}
			updated := applyUpdate(k, upd)
			buf, err := json.Marshal(updated)
			if err != nil {
				return err
			}
			matched++
			return b.Put(id, buf)
		})
	})
	return matched, err
}

// FindOneAndUpdate performs the read-check-write inside a single bolt.Tx.
// bbolt serializes all writers, so the read observed inside the transaction
// cannot be stale by the time the write commits — the same guarantee the
// spec asks a Mongo-style findOneAndUpdate to provide.
func (s *BoltStore) FindOneAndUpdate(_ context.Context, filter Filter, upd Update) (domain.Key, bool, error) {
	var result domain.Key
	var ok bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysBucket))
		if !filter.HasSubID {
			return nil
		}
		v := b.Get([]byte(filter.SubscriptionID))
		if v == nil {
			return nil
		}
		var k domain.Key
		if err := json.Unmarshal(v, &k); err != nil {
			return brokererrors.ErrStoreFatal
		}
		if !matches(k, filter) {
			return nil
		}
		updated := applyUpdate(k, upd)
		buf, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(filter.SubscriptionID), buf); err != nil {
			return err
		}
		result, ok = updated, true
		return nil
	})
	return result, ok, err
}

func (s *BoltStore) DeleteOne(_ context.Context, subscriptionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(keysBucket))
		return b.Delete([]byte(subscriptionID))
	})
}
