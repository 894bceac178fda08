package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	apiKeyPrefix    = "apikey:"
	apiKeySecretLen = 32
)

var ErrUnknownKey = errors.New("unknown api key")

// APIKeyInfo contains metadata about an API key. Only the SHA-256 hash of
// the key material is stored.
type APIKeyInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	KeyHash   string `json:"key_hash"`
	CallerID  string `json:"caller_id"`
	Role      Role   `json:"role"`
	CreatedAt int64  `json:"created_at"`
}

// APIKeyStore stores and validates API keys.
type APIKeyStore interface {
	ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error)
	CreateKey(ctx context.Context, info APIKeyInfo) (string, error)
	RevokeKey(ctx context.Context, keyID string) error
}

// RedisAPIKeyStore keeps API keys in Redis, indexed by key hash.
type RedisAPIKeyStore struct {
	client *redis.Client
}

// NewRedisAPIKeyStore wraps an existing Redis client.
func NewRedisAPIKeyStore(client *redis.Client) *RedisAPIKeyStore {
	return &RedisAPIKeyStore{client: client}
}

// ValidateKey looks up a key by its hash.
func (s *RedisAPIKeyStore) ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error) {
	raw, err := s.client.Get(ctx, apiKeyPrefix+hashKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUnknownKey
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	var info APIKeyInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("corrupt api key record: %w", err)
	}
	return &info, nil
}

// CreateKey mints a new key, stores its hash and returns the secret once.
func (s *RedisAPIKeyStore) CreateKey(ctx context.Context, info APIKeyInfo) (string, error) {
	secret := make([]byte, apiKeySecretLen)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	key := hex.EncodeToString(secret)

	info.KeyHash = hashKey(key)
	info.CreatedAt = time.Now().Unix()

	raw, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, apiKeyPrefix+info.KeyHash, raw, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store api key: %w", err)
	}
	return key, nil
}

// RevokeKey deletes a key by its hash ID.
func (s *RedisAPIKeyStore) RevokeKey(ctx context.Context, keyHash string) error {
	return s.client.Del(ctx, apiKeyPrefix+keyHash).Err()
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
