package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_UnavailableDegradesToNoop(t *testing.T) {
	r := &Redis{}
	ctx := context.Background()

	var out map[string]string
	hit, err := r.GetJSON(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, r.SetJSON(ctx, "k", map[string]string{"a": "b"}, time.Minute))
	require.NoError(t, r.Delete(ctx, "k"))
	require.NoError(t, r.Close())

	ok, err := r.SetIfNotExists(ctx, "k", "1", time.Minute)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(r.Ping(ctx), ErrUnavailable))
}
