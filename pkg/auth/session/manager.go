package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	redisclient "github.com/angelmondragon/apexlabs-backend/pkg/redis"
)

// ErrAccessIDRequired is returned when a session lookup has no jti to key on.
var ErrAccessIDRequired = errors.New("access id is required")

type store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	AccessSessionKey(accessID string) string
}

// record is the value kept under apex:session:access:<jti>.
type record struct {
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager tracks admin sessions in Redis so a logout revokes the JWT before it expires.
type Manager struct {
	store store
	ttl   time.Duration
	now   func() time.Time
}

// AccessSessionChecker exposes the read-only surface needed by middleware.
type AccessSessionChecker interface {
	HasSession(ctx context.Context, accessID string) (bool, error)
}

// NewManager builds a Manager whose sessions live exactly as long as the admin JWT.
func NewManager(client *redisclient.Client, cfg config.JWTConfig) (*Manager, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return newManager(client, cfg.TTL())
}

func newManager(s store, ttl time.Duration) (*Manager, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	return &Manager{store: s, ttl: ttl, now: time.Now}, nil
}

// Create records a new session and returns its access ID (the JWT jti).
func (m *Manager) Create(ctx context.Context) (string, error) {
	accessID := NewAccessID()
	issued := m.now().UTC()
	payload, err := json.Marshal(record{IssuedAt: issued, ExpiresAt: issued.Add(m.ttl)})
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(ctx, m.store.AccessSessionKey(accessID), payload, m.ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return accessID, nil
}

// Revoke deletes the session tied to the access identifier. Revoking an
// unknown session is not an error.
func (m *Manager) Revoke(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return ErrAccessIDRequired
	}
	return m.store.Del(ctx, m.store.AccessSessionKey(accessID))
}

// HasSession reports whether accessID still maps to a live session.
func (m *Manager) HasSession(ctx context.Context, accessID string) (bool, error) {
	if strings.TrimSpace(accessID) == "" {
		return false, ErrAccessIDRequired
	}
	raw, err := m.store.Get(ctx, m.store.AccessSessionKey(accessID))
	switch {
	case errors.Is(err, redislib.Nil):
		return false, nil
	case err != nil:
		return false, err
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// unreadable entries are treated as revoked
		return false, nil
	}
	return m.now().Before(rec.ExpiresAt), nil
}

// NewAccessID produces the identifier shared by the JWT jti and the Redis key.
func NewAccessID() string {
	return uuid.NewString()
}
