package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/logging"
)

// Cursor records how far a subscriber has consumed a given attack's result
// stream, so a reconnecting client can resume without replaying everything
// from the broadcaster's bounded buffer.
type Cursor struct {
	SubscriberID string    `json:"subscriber_id"`
	AttackID     string    `json:"attack_id"`
	LastIndex    int       `json:"last_index"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CursorStoreConfig configures the Redis-backed cursor store.
type CursorStoreConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// DefaultCursorStoreConfig returns the "orchestrator:cursors" key prefix and
// a 24h TTL.
func DefaultCursorStoreConfig() CursorStoreConfig {
	return CursorStoreConfig{KeyPrefix: "orchestrator:cursors", TTL: 24 * time.Hour}
}

// CursorStore persists subscriber cursors in Redis, one key per
// (subscriber, attack) pair.
type CursorStore struct {
	client *redis.Client
	cfg    CursorStoreConfig
	log    *logging.Logger
}

// NewCursorStore wraps an already-connected Redis client. client must not be
// nil; cursor persistence is optional infrastructure, not a hard dependency
// of the broadcaster.
func NewCursorStore(client *redis.Client, cfg CursorStoreConfig, log *logging.Logger) *CursorStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "orchestrator:cursors"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &CursorStore{client: client, cfg: cfg, log: log}
}

func (s *CursorStore) key(subscriberID, attackID string) string {
	return fmt.Sprintf("%s:%s:%s", s.cfg.KeyPrefix, subscriberID, attackID)
}

// Save persists the subscriber's position, refreshing the TTL.
func (s *CursorStore) Save(ctx context.Context, c Cursor) error {
	c.UpdatedAt = time.Now()
	data, err := json.Marshal(c)
	if err != nil {
		return errortax.Wrap(errortax.KindSerializationError, "failed to serialize cursor", err)
	}

	key := s.key(c.SubscriberID, c.AttackID)
	if err := s.client.Set(ctx, key, data, s.cfg.TTL).Err(); err != nil {
		if s.log != nil {
			s.log.WithFields(map[string]interface{}{
				"subscriber_id": c.SubscriberID,
				"attack_id":     c.AttackID,
				"error":         err.Error(),
			}).Warn("failed to persist result cursor")
		}
		return errortax.Wrap(errortax.KindNetworkError, "failed to persist cursor", err)
	}
	return nil
}

// Load retrieves a subscriber's last saved position for an attack. Returns
// ok=false if no cursor has been saved (a fresh subscription, not an error).
func (s *CursorStore) Load(ctx context.Context, subscriberID, attackID string) (Cursor, bool, error) {
	key := s.key(subscriberID, attackID)
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, errortax.Wrap(errortax.KindNetworkError, "failed to load cursor", err)
	}

	var c Cursor
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return Cursor{}, false, errortax.Wrap(errortax.KindSerializationError, "failed to deserialize cursor", err)
	}
	return c, true, nil
}

// Delete removes a subscriber's cursor, e.g. on clean unsubscribe.
func (s *CursorStore) Delete(ctx context.Context, subscriberID, attackID string) error {
	key := s.key(subscriberID, attackID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errortax.Wrap(errortax.KindNetworkError, "failed to delete cursor", err)
	}
	return nil
}
