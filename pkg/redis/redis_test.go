package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wonny/b3quant/pkg/config"
)

func TestNewClient_Disabled(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
}

func TestCache_Disabled(t *testing.T) {
	client, _ := New(context.Background(), config.RedisConfig{Enabled: false})
	cache := NewCache(client, "b3quant")

	var dest map[string]float64
	found, err := cache.Get(context.Background(), "missing", &dest)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.Set(context.Background(), "k", 1, time.Minute))
	assert.NoError(t, cache.Delete(context.Background(), "k"))
}

func TestConvictionKey(t *testing.T) {
	d := time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "conviction:fundamental-ab12:PETR4:2024-03-13", ConvictionKey("fundamental-ab12", "PETR4", d))
	assert.NotEqual(t, ConvictionKey("fundamental-ab12", "PETR4", d), ConvictionKey("reasoning-cd34-ab12", "PETR4", d))
}

func TestCache_RoundTrip(t *testing.T) {
	if testing.Short() || os.Getenv("REDIS_HOST") == "" {
		t.Skip("REDIS_HOST not set, skipping integration test")
	}

	ctx := context.Background()
	client, err := New(ctx, config.RedisConfig{
		Enabled: true,
		Host:    os.Getenv("REDIS_HOST"),
		Port:    "6379",
	})
	require.NoError(t, err)
	defer client.Close()

	cache := NewCache(client, "b3quant-test")
	type payload struct {
		Score float64 `json:"score"`
	}

	require.NoError(t, cache.Set(ctx, "rt", payload{Score: 0.4}, time.Minute))
	var got payload
	found, err := cache.Get(ctx, "rt", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0.4, got.Score)
	require.NoError(t, cache.Delete(ctx, "rt"))
}
