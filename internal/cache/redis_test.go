package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-manager/internal/config"
	"github.com/magabrotheeeer/subscription-manager/internal/models"
)

func setupTestCache(t *testing.T) *Cache {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	t.Cleanup(func() { mr.Close() })

	cfg := config.RedisConnection{
		AddressRedis: mr.Addr(),
	}

	cache, err := InitServer(context.Background(), cfg)
	require.NoError(t, err)
	return cache
}

func TestSetAndGet(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	expected := models.Subscription{
		ID:        "sub-1",
		AccountID: "acc-1",
		Plan:      models.PlanPremium,
		Status:    models.StatusActive,
	}
	err := cache.Set(ctx, SubscriptionKey("acc-1"), expected, time.Minute)
	require.NoError(t, err)

	var actual models.Subscription
	found, err := cache.Get(ctx, SubscriptionKey("acc-1"), &actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, expected.ID, actual.ID)
	assert.Equal(t, expected.Plan, actual.Plan)
}

func TestGetNotFound(t *testing.T) {
	cache := setupTestCache(t)

	var out models.Subscription
	found, err := cache.Get(context.Background(), "no_such_key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, SubscriptionKey("acc-2"), models.Subscription{ID: "sub-2"}, time.Minute))
	require.NoError(t, cache.Invalidate(ctx, SubscriptionKey("acc-2")))

	var out models.Subscription
	found, err := cache.Get(ctx, SubscriptionKey("acc-2"), &out)
	require.NoError(t, err)
	assert.False(t, found)
}
