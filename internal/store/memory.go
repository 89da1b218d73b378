package store

import (
	"context"
	"sync"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
)

// MemoryStore is an in-process KeyStore guarded by a single mutex, in the
// shape of cyph3rk's infra.Store (mutex + map, no external dependency). It
// is the backend the tests use; cmd/broker does not use it (without Redis
// it opens a BoltStore).
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]domain.Key
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]domain.Key)}
}

func (s *MemoryStore) FindAll(_ context.Context, filter Filter) ([]domain.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Key, 0, len(s.docs))
	for _, k := range s.docs {
		if matches(k, filter) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindOne(_ context.Context, filter Filter) (domain.Key, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter.HasSubID {
		k, ok := s.docs[filter.SubscriptionID]
		if !ok || !matches(k, filter) {
			return domain.Key{}, false, nil
		}
		return k, true, nil
	}
	for _, k := range s.docs {
		if matches(k, filter) {
			return k, true, nil
		}
	}
	return domain.Key{}, false, nil
}

func (s *MemoryStore) InsertOne(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[key.SubscriptionID]; exists {
		return brokererrors.ErrStoreFatal
	}
	s.docs[key.SubscriptionID] = key
	return nil
}

func (s *MemoryStore) UpdateOne(_ context.Context, filter Filter, upd Update) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := 0
	for id, k := range s.docs {
		if !matches(k, filter) {
			continue
		}
		s.docs[id] = applyUpdate(k, upd)
		matched++
		if filter.HasSubID {
			break
		}
	}
	return matched, nil
}

func (s *MemoryStore) FindOneAndUpdate(_ context.Context, filter Filter, upd Update) (domain.Key, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A CAS filter always pins SubscriptionID in this broker's usage, but
	// fall back to a linear scan to honor the interface generally.
	if filter.HasSubID {
		k, ok := s.docs[filter.SubscriptionID]
		if !ok || !matches(k, filter) {
			return domain.Key{}, false, nil
		}
		updated := applyUpdate(k, upd)
		s.docs[filter.SubscriptionID] = updated
		return updated, true, nil
	}
	for id, k := range s.docs {
		if !matches(k, filter) {
			continue
		}
		updated := applyUpdate(k, upd)
		s.docs[id] = updated
		return updated, true, nil
	}
	return domain.Key{}, false, nil
}

func (s *MemoryStore) DeleteOne(_ context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, subscriptionID)
	return nil
}
