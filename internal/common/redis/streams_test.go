package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPublishJSONToStream(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	id, err := PublishJSONToStream(ctx, client, "guard:audit:stream", 0, map[string]any{
		"endpoint": "initiate_pairing",
		"allowed":  true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "guard:audit:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &payload))
	assert.Equal(t, "initiate_pairing", payload["endpoint"])
	assert.Equal(t, true, payload["allowed"])
	assert.NotEmpty(t, msgs[0].Values["timestamp"])
}

func TestPublishToStream_EncodesScalars(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	_, err := PublishToStream(ctx, client, "s", 0, map[string]interface{}{
		"i": 42,
		"b": false,
		"f": 1.5,
		"m": map[string]int{"a": 1},
	})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "s", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "42", msgs[0].Values["i"])
	assert.Equal(t, "false", msgs[0].Values["b"])
	assert.Equal(t, "1.5", msgs[0].Values["f"])
	assert.Equal(t, `{"a":1}`, msgs[0].Values["m"])
}
