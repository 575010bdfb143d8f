// Package cache stores finished evaluation reports keyed by a digest of the
// full request. Correctness never depends on it: every entry is a pure
// function of its key, so eviction and backend loss are always safe.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// Entry is one cached report payload with its storage window.
type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// ReportCache is the backend surface the engine talks to. Memory and valkey
// implementations exist; both are safe for concurrent use.
type ReportCache interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	DeletePrefix(ctx context.Context, prefix string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// Key digests arbitrary request material into a cache key under a namespace
// and epoch. Bumping the epoch (config reload) makes every old key
// unreachable without touching the backend.
func Key(namespace string, epoch int, salt string, material any) (string, error) {
	digest, err := hashstructure.Hash(material, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("cache: digest request: %w", err)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%016x", namespace, epoch, salt, digest)))
	return Prefix(namespace, epoch) + hex.EncodeToString(sum[:16]), nil
}

// Prefix is the shared key prefix of one namespace and epoch, used for
// reload invalidation.
func Prefix(namespace string, epoch int) string {
	return fmt.Sprintf("%s:e%d:", namespace, epoch)
}
