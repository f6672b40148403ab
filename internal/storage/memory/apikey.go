package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/pkg/cmap"
)

// APIKeyStore holds the API keys loaded from configuration.
type APIKeyStore struct {
	keys *cmap.Map[*domain.APIKey]
}

// NewAPIKeyStore creates an empty key store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: cmap.NewWithShards[*domain.APIKey](4)}
}

// Seed validates keys and stores them, replacing any previous contents.
// Key IDs are lowercased.
func (s *APIKeyStore) Seed(keys []*domain.APIKey) error {
	next := make(map[string]*domain.APIKey, len(keys))
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return err
		}
		id := strings.ToLower(key.KeyID)
		if _, dup := next[id]; dup {
			return domain.ErrAPIKeyConflict.WithDetails(id)
		}
		clone := key.Clone()
		clone.KeyID = id
		next[id] = clone
	}
	s.keys.Replace(next)
	return nil
}

// Get retrieves an API key by ID.
func (s *APIKeyStore) Get(_ context.Context, keyID string) (*domain.APIKey, error) {
	key, ok := s.keys.Get(keyID)
	if !ok {
		return nil, domain.ErrAPIKeyNotFound
	}
	return key.Clone(), nil
}

// Create adds a key.
func (s *APIKeyStore) Create(_ context.Context, key *domain.APIKey) error {
	if !s.keys.SetIfAbsent(key.KeyID, key.Clone()) {
		return domain.ErrAPIKeyConflict
	}
	return nil
}

// Update replaces an existing key.
func (s *APIKeyStore) Update(_ context.Context, key *domain.APIKey) error {
	if !s.keys.Has(key.KeyID) {
		return domain.ErrAPIKeyNotFound
	}
	s.keys.Set(key.KeyID, key.Clone())
	return nil
}

// Delete removes a key.
func (s *APIKeyStore) Delete(_ context.Context, keyID string) error {
	if _, ok := s.keys.Pop(keyID); !ok {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

// List returns every key ordered by ID.
func (s *APIKeyStore) List(_ context.Context) ([]*domain.APIKey, error) {
	keys := make([]*domain.APIKey, 0, s.keys.Count())
	s.keys.Range(func(_ string, key *domain.APIKey) bool {
		keys = append(keys, key.Clone())
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i].KeyID < keys[j].KeyID })
	return keys, nil
}
