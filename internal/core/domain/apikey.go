package domain

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/argon2"
)

// API key constants.
const (
	// APIKeyIDPrefix is the prefix for API key IDs (public).
	APIKeyIDPrefix = "rtak-"

	// APIKeySecretPrefix is the prefix for API key secrets (sensitive).
	APIKeySecretPrefix = "rtas_"
)

// Argon2id parameters for API key secret hashing.
const (
	Argon2Memory      uint32 = 16384 // KB
	Argon2Time        uint32 = 2
	Argon2Parallelism uint8  = 2
	Argon2KeyLen      uint32 = 32
	Argon2SaltLen            = 16
)

// Role is the permission level of an API key.
type Role string

const (
	// RoleViewer reads canvases and metrics.
	RoleViewer Role = "viewer"

	// RoleEditor also writes canvases. Editor sessions use this role.
	RoleEditor Role = "editor"

	// RoleAdmin has every permission.
	RoleAdmin Role = "admin"
)

// IsValidRole checks if a string is a valid role.
func IsValidRole(r string) bool {
	switch Role(r) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return true
	}
	return false
}

// KeyStatus is the status of an API key.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusDisabled KeyStatus = "disabled"
)

// Permission is an action on the canvas API.
type Permission string

const (
	PermCanvasRead   Permission = "canvas.read"
	PermCanvasWrite  Permission = "canvas.write"
	PermCanvasDelete Permission = "canvas.delete"
	PermCanvasList   Permission = "canvas.list"
	PermMetricsRead  Permission = "metrics.read"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {PermCanvasRead, PermCanvasList, PermMetricsRead},
	RoleEditor: {PermCanvasRead, PermCanvasWrite, PermCanvasList, PermMetricsRead},
	RoleAdmin:  {PermCanvasRead, PermCanvasWrite, PermCanvasDelete, PermCanvasList, PermMetricsRead},
}

func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// IsValidAPIKeyID checks the rtak-{ulid} format, case-insensitively.
func IsValidAPIKeyID(id string) bool {
	id = strings.ToLower(id)
	rest, ok := strings.CutPrefix(id, APIKeyIDPrefix)
	if !ok || len(rest) != 26 {
		return false
	}
	_, err := ulid.Parse(strings.ToUpper(rest))
	return err == nil
}

// MaskAPIKeySecret masks an API key secret for safe logging.
func MaskAPIKeySecret(secret string) string {
	body, ok := strings.CutPrefix(secret, APIKeySecretPrefix)
	if !ok || len(body) <= 6 {
		return "***REDACTED***"
	}
	return APIKeySecretPrefix + body[:3] + "..." + body[len(body)-3:]
}

// APIKey is an API access key. Keys are provisioned from configuration;
// only the Argon2id hash of the secret is ever stored.
type APIKey struct {
	KeyID      string    `json:"key_id" yaml:"key_id"`
	Name       string    `json:"name,omitempty" yaml:"name,omitempty"`
	SecretHash string    `json:"-" yaml:"secret_hash"`
	Role       Role      `json:"role" yaml:"role"`
	Allowlist  []string  `json:"allowlist,omitempty" yaml:"allowlist,omitempty"`
	RateLimit  int       `json:"rate_limit" yaml:"rate_limit"` // requests per second
	Status     KeyStatus `json:"status" yaml:"status"`
	LastUsed   int64     `json:"last_used,omitempty" yaml:"-"` // Unix ms
}

// API key constraints.
const (
	MaxAllowlistEntries = 100
	MinRateLimit        = 1
	MaxRateLimit        = 1000000
	DefaultRateLimit    = 100
	SecretLength        = 32
)

// NewAPIKey creates a key with a generated ID and secret. The plaintext
// secret is returned once and never stored.
func NewAPIKey(name string, role Role) (*APIKey, string, error) {
	raw := make([]byte, SecretLength)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", ErrInternalServer.WithCause(err)
	}
	secret := APIKeySecretPrefix + base64.RawURLEncoding.EncodeToString(raw)
	hash, err := HashSecret(secret)
	if err != nil {
		return nil, "", ErrInternalServer.WithCause(err)
	}
	return &APIKey{
		KeyID:      APIKeyIDPrefix + strings.ToLower(ulid.Make().String()),
		Name:       name,
		SecretHash: hash,
		Role:       role,
		RateLimit:  DefaultRateLimit,
		Status:     KeyStatusActive,
	}, secret, nil
}

// phcFormat is the PHC string layout written by HashSecret.
const phcFormat = "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"

// HashSecret computes an Argon2id hash in PHC string format.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, Argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(secret), salt, Argon2Time, Argon2Memory, Argon2Parallelism, Argon2KeyLen)
	return fmt.Sprintf(phcFormat, argon2.Version, Argon2Memory, Argon2Time, Argon2Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(sum)), nil
}

var b64 = base64.RawStdEncoding

// VerifySecret checks secret against a PHC Argon2id hash in constant time,
// using the cost parameters recorded in the hash.
func VerifySecret(secret, hash string) bool {
	fields := strings.Split(hash, "$")
	if len(fields) != 6 || fields[1] != "argon2id" {
		return false
	}
	var version int
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	if memory == 0 || iterations == 0 || threads == 0 {
		return false
	}
	salt, err := b64.DecodeString(fields[4])
	if err != nil {
		return false
	}
	want, err := b64.DecodeString(fields[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(secret), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// IsActive reports whether the key may be used.
func (k *APIKey) IsActive() bool {
	return k.Status == KeyStatusActive
}

// Touch updates the LastUsed timestamp.
func (k *APIKey) Touch() {
	k.LastUsed = time.Now().UnixMilli()
}

// Validate validates the API key fields.
func (k *APIKey) Validate() error {
	var violations []string

	if !IsValidAPIKeyID(k.KeyID) {
		violations = append(violations, "key_id format invalid")
	}
	if k.SecretHash == "" {
		violations = append(violations, "secret_hash is required")
	}
	if !IsValidRole(string(k.Role)) {
		violations = append(violations, "invalid role")
	}
	if k.Status != KeyStatusActive && k.Status != KeyStatusDisabled {
		violations = append(violations, "invalid status")
	}
	if len(k.Allowlist) > MaxAllowlistEntries {
		violations = append(violations, "allowlist exceeds 100 entries")
	} else if _, err := ParseAllowList(k.Allowlist); err != nil {
		violations = append(violations, "allowlist: "+strings.ReplaceAll(err.Error(), "\n", "; "))
	}
	if k.RateLimit < MinRateLimit || k.RateLimit > MaxRateLimit {
		violations = append(violations, "rate_limit must be between 1 and 1,000,000")
	}

	if len(violations) > 0 {
		return ErrAPIKeyValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// Clone returns a deep copy of the key.
func (k *APIKey) Clone() *APIKey {
	c := *k
	c.Allowlist = slices.Clone(k.Allowlist)
	return &c
}
