package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) ReleaseLock(_ context.Context, key, token string) (bool, error) {
	if m.values[key] != token {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockExclusive(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLockStore()

	api, err := NewRedisLock(store, "apex:pending-sync:lock", time.Minute)
	require.NoError(t, err)
	worker, err := NewRedisLock(store, "apex:pending-sync:lock", time.Minute)
	require.NoError(t, err)

	ok, err := api.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, store.ttls["apex:pending-sync:lock"])

	ok, err = worker.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must wait")

	require.NoError(t, worker.Release(ctx))
	assert.Contains(t, store.values, "apex:pending-sync:lock", "non-holder release must not free the key")

	require.NoError(t, api.Release(ctx))
	ok, err = worker.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockDefaults(t *testing.T) {
	lock, err := NewRedisLock(newMemoryLockStore(), "k", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)
	assert.Equal(t, "k", lock.Key())

	_, err = NewRedisLock(nil, "k", time.Second)
	assert.Error(t, err)
	_, err = NewRedisLock(newMemoryLockStore(), "", time.Second)
	assert.Error(t, err)
}

func TestRedisLockAcquireError(t *testing.T) {
	store := newMemoryLockStore()
	store.err = errors.New("connection refused")
	lock, err := NewRedisLock(store, "k", time.Second)
	require.NoError(t, err)

	ok, err := lock.Acquire(context.Background())
	assert.False(t, ok)
	assert.ErrorContains(t, err, "connection refused")
}
