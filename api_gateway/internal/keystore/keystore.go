// Package keystore owns API credentials: lookup for admission, usage
// touches, and provisioning.
package keystore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a key has no credential record.
var ErrNotFound = errors.New("credential not found")

// KeyPrefix marks generated keys.
const KeyPrefix = "cfx_"

// Credential is a provisioned API key. Credentials are deactivated, never
// deleted.
type Credential struct {
	Key        string     `json:"key" yaml:"key"`
	SubjectID  string     `json:"subjectId" yaml:"subjectId"`
	PlanTier   string     `json:"planTier" yaml:"planTier"`
	Active     bool       `json:"active" yaml:"active"`
	UsageCount int64      `json:"usageCount" yaml:"usageCount"`
	CreatedAt  time.Time  `json:"createdAt" yaml:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty" yaml:"lastUsedAt,omitempty"`
}

// Store is the read path used by the identity resolver.
type Store interface {
	Lookup(ctx context.Context, key string) (Credential, error)
	// Touch records one use of key at the given time. Best effort.
	Touch(ctx context.Context, key string, at time.Time) error
}

// Provisioner is the management path used by the admin API and CLI.
type Provisioner interface {
	Create(ctx context.Context, subjectID, planTier string) (Credential, error)
	Deactivate(ctx context.Context, key string) error
	ListBySubject(ctx context.Context, subjectID string) ([]Credential, error)
}

// KeyStore is implemented by both backends.
type KeyStore interface {
	Store
	Provisioner
}

// DemoCredentials are seeded into development stores.
func DemoCredentials() []Credential {
	tiers := []string{"free", "basic", "pro", "ultra"}
	out := make([]Credential, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, Credential{
			Key:       "demo_" + tier + "_key",
			SubjectID: "demo_user_" + tier,
			PlanTier:  tier,
			Active:    true,
		})
	}
	return out
}

// GenerateKey returns a new key of the form cfx_<base36 millis>_<random>.
func GenerateKey(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return KeyPrefix + strconv.FormatInt(now.UnixMilli(), 36) + "_" + random[:16]
}

// Masked returns the key with everything but the prefix and last four
// characters hidden, for logs.
func Masked(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// HashKey returns the hex SHA-256 digest under which key is stored.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
