package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

type mockAPIKeyRepo struct {
	keys    map[string]*domain.APIKey
	gets    int
	updates int
}

func newMockAPIKeyRepo() *mockAPIKeyRepo {
	return &mockAPIKeyRepo{keys: make(map[string]*domain.APIKey)}
}

func (m *mockAPIKeyRepo) Get(_ context.Context, keyID string) (*domain.APIKey, error) {
	m.gets++
	key, ok := m.keys[keyID]
	if !ok {
		return nil, domain.ErrAPIKeyNotFound
	}
	return key.Clone(), nil
}

func (m *mockAPIKeyRepo) Create(_ context.Context, key *domain.APIKey) error {
	if _, ok := m.keys[key.KeyID]; ok {
		return domain.ErrAPIKeyConflict
	}
	m.keys[key.KeyID] = key.Clone()
	return nil
}

func (m *mockAPIKeyRepo) Update(_ context.Context, key *domain.APIKey) error {
	if _, ok := m.keys[key.KeyID]; !ok {
		return domain.ErrAPIKeyNotFound
	}
	m.updates++
	m.keys[key.KeyID] = key.Clone()
	return nil
}

func (m *mockAPIKeyRepo) Delete(_ context.Context, keyID string) error {
	delete(m.keys, keyID)
	return nil
}

func (m *mockAPIKeyRepo) List(_ context.Context) ([]*domain.APIKey, error) {
	var out []*domain.APIKey
	for _, k := range m.keys {
		out = append(out, k.Clone())
	}
	return out, nil
}

func provision(t *testing.T, repo *mockAPIKeyRepo, role domain.Role, mutate func(*domain.APIKey)) (*domain.APIKey, string) {
	t.Helper()
	key, secret, err := domain.NewAPIKey("test", role)
	if err != nil {
		t.Fatalf("NewAPIKey() error = %v", err)
	}
	if mutate != nil {
		mutate(key)
	}
	if err := repo.Create(context.Background(), key); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return key, secret
}

func TestAuthService_ValidateAPIKey(t *testing.T) {
	ctx := context.Background()
	repo := newMockAPIKeyRepo()
	svc := NewAuthService(repo, nil)

	active, secret := provision(t, repo, domain.RoleEditor, nil)
	disabled, disabledSecret := provision(t, repo, domain.RoleEditor, func(k *domain.APIKey) {
		k.Status = domain.KeyStatusDisabled
	})
	fenced, fencedSecret := provision(t, repo, domain.RoleViewer, func(k *domain.APIKey) {
		k.Allowlist = []string{"10.0.0.0/8", "192.168.1.5"}
	})

	tests := []struct {
		name    string
		req     ValidateAPIKeyRequest
		wantErr error
	}{
		{"valid", ValidateAPIKeyRequest{KeyID: active.KeyID, KeySecret: secret, ClientIP: "1.2.3.4"}, nil},
		{"uppercase id", ValidateAPIKeyRequest{KeyID: "RTAK-" + active.KeyID[5:], KeySecret: secret}, nil},
		{"missing secret", ValidateAPIKeyRequest{KeyID: active.KeyID}, domain.ErrAPIKeyMissing},
		{"wrong secret", ValidateAPIKeyRequest{KeyID: active.KeyID, KeySecret: secret + "x"}, domain.ErrAPIKeyInvalid},
		{"unknown key", ValidateAPIKeyRequest{KeyID: "rtak-01arz3ndektsv4rrffq69g5fav", KeySecret: secret}, domain.ErrAPIKeyInvalid},
		{"disabled", ValidateAPIKeyRequest{KeyID: disabled.KeyID, KeySecret: disabledSecret}, domain.ErrAPIKeyDisabled},
		{"allowlisted cidr", ValidateAPIKeyRequest{KeyID: fenced.KeyID, KeySecret: fencedSecret, ClientIP: "10.1.2.3"}, nil},
		{"allowlisted ip", ValidateAPIKeyRequest{KeyID: fenced.KeyID, KeySecret: fencedSecret, ClientIP: "192.168.1.5"}, nil},
		{"outside allowlist", ValidateAPIKeyRequest{KeyID: fenced.KeyID, KeySecret: fencedSecret, ClientIP: "8.8.8.8"}, domain.ErrIPNotAllowed},
		{"unparseable ip", ValidateAPIKeyRequest{KeyID: fenced.KeyID, KeySecret: fencedSecret, ClientIP: "nope"}, domain.ErrIPNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			key, err := svc.ValidateAPIKey(ctx, &req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ValidateAPIKey() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateAPIKey() error = %v", err)
			}
			if key.LastUsed == 0 {
				t.Error("LastUsed not set")
			}
		})
	}
}

func TestAuthService_CacheSkipsRepository(t *testing.T) {
	ctx := context.Background()
	repo := newMockAPIKeyRepo()
	svc := NewAuthService(repo, nil)
	key, secret := provision(t, repo, domain.RoleViewer, nil)

	req := &ValidateAPIKeyRequest{KeyID: key.KeyID, KeySecret: secret}
	for i := 0; i < 3; i++ {
		if _, err := svc.ValidateAPIKey(ctx, req); err != nil {
			t.Fatalf("ValidateAPIKey() error = %v", err)
		}
	}
	if repo.gets != 1 {
		t.Errorf("repository gets = %d, want 1", repo.gets)
	}

	svc.InvalidateCache(key.KeyID)
	if _, err := svc.ValidateAPIKey(ctx, req); err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if repo.gets != 2 {
		t.Errorf("repository gets after invalidation = %d, want 2", repo.gets)
	}
}

func TestAuthService_CheckPermission(t *testing.T) {
	svc := NewAuthService(newMockAPIKeyRepo(), nil)
	viewer := &domain.APIKey{Role: domain.RoleViewer}

	if err := svc.CheckPermission(viewer, domain.PermCanvasRead); err != nil {
		t.Errorf("viewer read: error = %v", err)
	}
	if err := svc.CheckPermission(viewer, domain.PermCanvasWrite); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("viewer write: error = %v, want ErrPermissionDenied", err)
	}
}

func TestAuthService_CheckRateLimit(t *testing.T) {
	svc := NewAuthService(newMockAPIKeyRepo(), nil)
	key := &domain.APIKey{KeyID: "rtak-a", RateLimit: 2}

	for i := 0; i < 2; i++ {
		if err := svc.CheckRateLimit(key); err != nil {
			t.Fatalf("request %d: error = %v", i, err)
		}
	}
	if err := svc.CheckRateLimit(key); !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("third request: error = %v, want ErrRateLimited", err)
	}

	other := &domain.APIKey{KeyID: "rtak-b", RateLimit: 1}
	if err := svc.CheckRateLimit(other); err != nil {
		t.Errorf("other key: error = %v", err)
	}
}

func TestAuthService_RateLimitFollowsKeyChanges(t *testing.T) {
	svc := NewAuthService(newMockAPIKeyRepo(), nil)
	key := &domain.APIKey{KeyID: "rtak-a", RateLimit: 1}

	if err := svc.CheckRateLimit(key); err != nil {
		t.Fatal(err)
	}
	if err := svc.CheckRateLimit(key); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("second request: error = %v, want ErrRateLimited", err)
	}

	key.RateLimit = 5
	if err := svc.CheckRateLimit(key); err != nil {
		t.Errorf("raised limit: error = %v", err)
	}

	key.RateLimit = 1
	svc.CheckRateLimit(key)
	svc.InvalidateCache("RTAK-A")
	if err := svc.CheckRateLimit(key); err != nil {
		t.Errorf("after invalidation: error = %v", err)
	}
}

func TestAuthService_GlobalAllowlist(t *testing.T) {
	ctx := context.Background()
	repo := newMockAPIKeyRepo()
	svc := NewAuthService(repo, &AuthServiceConfig{GlobalAllowlist: []string{"10.0.0.0/8", "bogus"}})

	open, secret := provision(t, repo, domain.RoleViewer, nil)
	fenced, fencedSecret := provision(t, repo, domain.RoleViewer, func(k *domain.APIKey) {
		k.Allowlist = []string{"192.168.0.0/16"}
	})

	tests := []struct {
		name   string
		req    ValidateAPIKeyRequest
		wantOK bool
	}{
		{"global match", ValidateAPIKeyRequest{KeyID: open.KeyID, KeySecret: secret, ClientIP: "10.2.3.4"}, true},
		{"global miss", ValidateAPIKeyRequest{KeyID: open.KeyID, KeySecret: secret, ClientIP: "8.8.8.8"}, false},
		{"key list match", ValidateAPIKeyRequest{KeyID: fenced.KeyID, KeySecret: fencedSecret, ClientIP: "192.168.3.3"}, true},
		{"global covers fenced key", ValidateAPIKeyRequest{KeyID: fenced.KeyID, KeySecret: fencedSecret, ClientIP: "10.0.0.9"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := svc.ValidateAPIKey(ctx, &req)
			if tt.wantOK && err != nil {
				t.Errorf("ValidateAPIKey() error = %v", err)
			}
			if !tt.wantOK && !errors.Is(err, domain.ErrIPNotAllowed) {
				t.Errorf("ValidateAPIKey() error = %v, want ErrIPNotAllowed", err)
			}
		})
	}
}

func TestAPIKeyCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewAPIKeyCache(2, time.Minute)
	c.Set("a", &domain.APIKey{KeyID: "a"})
	c.Set("b", &domain.APIKey{KeyID: "b"})
	c.Get("a")
	c.Set("c", &domain.APIKey{KeyID: "c"})

	if c.Get("b") != nil {
		t.Error("b should have been evicted")
	}
	if c.Get("a") == nil || c.Get("c") == nil {
		t.Error("a and c should be cached")
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestAPIKeyCache_Expiry(t *testing.T) {
	c := NewAPIKeyCache(10, -time.Second)
	c.Set("a", &domain.APIKey{KeyID: "a"})
	if c.Get("a") != nil {
		t.Error("expired entry returned")
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}
