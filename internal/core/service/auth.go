package service

import (
	"container/list"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/retouch-go/internal/core/domain"
	"github.com/yndnr/retouch-go/pkg/cmap"
)

// APIKeyRepository is the storage interface for API keys.
type APIKeyRepository interface {
	Get(ctx context.Context, keyID string) (*domain.APIKey, error)
	Create(ctx context.Context, key *domain.APIKey) error
	Update(ctx context.Context, key *domain.APIKey) error
	Delete(ctx context.Context, keyID string) error
	List(ctx context.Context) ([]*domain.APIKey, error)
}

// AuthService authenticates canvas API callers by API key and enforces
// role permissions and per-key rate limits.
type AuthService struct {
	repo        APIKeyRepository
	cache       *APIKeyCache
	limiters    *cmap.Map[*keyLimiter]
	globalAllow domain.AllowList
	logger      *slog.Logger
}

// AuthServiceConfig holds configuration for AuthService.
type AuthServiceConfig struct {
	// CacheTTL bounds how long a verified key skips the Argon2 check.
	CacheTTL  time.Duration
	CacheSize int
	// GlobalAllowlist is an IP/CIDR allowlist applied to every key.
	GlobalAllowlist []string
	Logger          *slog.Logger
}

// DefaultAuthServiceConfig returns default configuration.
func DefaultAuthServiceConfig() *AuthServiceConfig {
	return &AuthServiceConfig{
		CacheTTL:  60 * time.Second,
		CacheSize: 1000,
	}
}

// NewAuthService creates a new AuthService. Invalid global allowlist
// entries are logged and skipped.
func NewAuthService(repo APIKeyRepository, config *AuthServiceConfig) *AuthService {
	if config == nil {
		config = DefaultAuthServiceConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	global, err := domain.ParseAllowList(config.GlobalAllowlist)
	if err != nil {
		logger.Warn("global allowlist has invalid entries", "error", err)
	}
	return &AuthService{
		repo:        repo,
		cache:       NewAPIKeyCache(config.CacheSize, config.CacheTTL),
		limiters:    cmap.New[*keyLimiter](),
		globalAllow: global,
		logger:      logger,
	}
}

// ValidateAPIKeyRequest contains the credentials presented by a caller.
type ValidateAPIKeyRequest struct {
	KeyID     string
	KeySecret string
	ClientIP  string
}

// ValidateAPIKey returns the key when the credentials are valid for the
// caller's address.
func (s *AuthService) ValidateAPIKey(ctx context.Context, req *ValidateAPIKeyRequest) (*domain.APIKey, error) {
	if req.KeyID == "" || req.KeySecret == "" {
		return nil, domain.ErrAPIKeyMissing
	}
	keyID := strings.ToLower(req.KeyID)

	if cached := s.cache.Get(keyID); cached != nil && domain.VerifySecret(req.KeySecret, cached.SecretHash) {
		if err := s.admit(cached, req.ClientIP); err != nil {
			return nil, err
		}
		return cached, nil
	}

	key, err := s.repo.Get(ctx, keyID)
	if err != nil {
		return nil, domain.ErrAPIKeyInvalid.WithCause(err)
	}
	if err := s.admit(key, req.ClientIP); err != nil {
		return nil, err
	}
	if !domain.VerifySecret(req.KeySecret, key.SecretHash) {
		s.logger.Warn("api key secret mismatch",
			"key_id", keyID,
			"secret", domain.MaskAPIKeySecret(req.KeySecret))
		return nil, domain.ErrAPIKeyInvalid.WithDetails("invalid secret")
	}

	key.Touch()
	if err := s.repo.Update(ctx, key); err != nil {
		s.logger.Debug("api key touch failed", "key_id", keyID, "error", err)
	}
	s.cache.Set(keyID, key)
	return key, nil
}

// admit checks that key is enabled and that clientIP passes the global
// and per-key allowlists. With both lists empty every address passes.
func (s *AuthService) admit(key *domain.APIKey, clientIP string) error {
	if !key.IsActive() {
		return domain.ErrAPIKeyDisabled
	}
	if len(s.globalAllow) == 0 && len(key.Allowlist) == 0 {
		return nil
	}
	if s.globalAllow.Contains(clientIP) {
		return nil
	}
	// Key allowlists are checked by Validate on load; bad entries never match.
	own, _ := domain.ParseAllowList(key.Allowlist)
	if own.Contains(clientIP) {
		return nil
	}
	return domain.ErrIPNotAllowed.WithDetails("client IP " + clientIP + " not in allowlist")
}

// CheckPermission checks if an API key has the required permission.
func (s *AuthService) CheckPermission(key *domain.APIKey, perm domain.Permission) error {
	if !domain.HasPermission(key.Role, perm) {
		return domain.ErrPermissionDenied.WithDetails(
			"role " + string(key.Role) + " does not have permission " + string(perm))
	}
	return nil
}

// CheckRateLimit takes one token from the key's bucket. A key whose
// configured rate changed gets a fresh bucket.
func (s *AuthService) CheckRateLimit(key *domain.APIKey) error {
	limit := key.RateLimit
	if limit <= 0 {
		limit = domain.DefaultRateLimit
	}
	kl, ok := s.limiters.Get(key.KeyID)
	if !ok || kl.limit != limit {
		kl = newKeyLimiter(limit)
		s.limiters.Set(key.KeyID, kl)
	}
	if !kl.Allow() {
		return domain.ErrRateLimited.WithDetails("api key rate limit exceeded")
	}
	return nil
}

// InvalidateCache drops a key from the validation cache and its bucket.
func (s *AuthService) InvalidateCache(keyID string) {
	keyID = strings.ToLower(keyID)
	s.cache.Delete(keyID)
	s.limiters.Pop(keyID)
}

// keyLimiter is a token bucket of limit requests per second with an equal
// burst.
type keyLimiter struct {
	*rate.Limiter
	limit int
}

func newKeyLimiter(limit int) *keyLimiter {
	return &keyLimiter{Limiter: rate.NewLimiter(rate.Limit(limit), limit), limit: limit}
}

// APIKeyCache is an LRU cache with TTL for keys whose secret was verified.
type APIKeyCache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	lru      *list.List
	capacity int
	ttl      time.Duration
}

type cachedKey struct {
	id      string
	key     *domain.APIKey
	expires time.Time
}

// NewAPIKeyCache creates an APIKeyCache. A non-positive capacity means
// 1000 entries.
func NewAPIKeyCache(capacity int, ttl time.Duration) *APIKeyCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &APIKeyCache{
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get returns a cached key unless it expired.
func (c *APIKeyCache) Get(keyID string) *domain.APIKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[keyID]
	if !ok {
		return nil
	}
	ck := elem.Value.(*cachedKey)
	if !time.Now().Before(ck.expires) {
		c.remove(elem)
		return nil
	}
	c.lru.MoveToFront(elem)
	return ck.key
}

// Set caches a key, evicting the least recently used entries at capacity.
func (c *APIKeyCache) Set(keyID string, key *domain.APIKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := time.Now().Add(c.ttl)
	if elem, ok := c.items[keyID]; ok {
		ck := elem.Value.(*cachedKey)
		ck.key, ck.expires = key, expires
		c.lru.MoveToFront(elem)
		return
	}
	for c.lru.Len() >= c.capacity {
		c.remove(c.lru.Back())
	}
	c.items[keyID] = c.lru.PushFront(&cachedKey{id: keyID, key: key, expires: expires})
}

// Delete removes a key from the cache.
func (c *APIKeyCache) Delete(keyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[keyID]; ok {
		c.remove(elem)
	}
}

// Size returns the number of cached keys.
func (c *APIKeyCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *APIKeyCache) remove(elem *list.Element) {
	delete(c.items, elem.Value.(*cachedKey).id)
	c.lru.Remove(elem)
}
