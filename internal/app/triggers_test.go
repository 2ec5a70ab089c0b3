package app

import (
	"context"
	"testing"
	"time"

	"jobpulse/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggers_RejectsBadSpec(t *testing.T) {
	tr := NewTriggers(context.Background(), logger.NewNop())

	err := tr.Add("ingest", "not a cron spec", func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.Equal(t, 0, tr.Len())

	require.NoError(t, tr.Add("ingest", "0 6 * * *", func(context.Context) error { return nil }))
	require.NoError(t, tr.Add("tick", "@every 1m", func(context.Context) error { return nil }))
	assert.Equal(t, 2, tr.Len())
}

func TestTriggers_RunsAndStops(t *testing.T) {
	tr := NewTriggers(context.Background(), logger.NewNop())
	ran := make(chan struct{}, 1)
	require.NoError(t, tr.Add("tick", "@every 1s", func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))

	tr.Start()
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("trigger did not fire")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tr.Stop(ctx)
}

func TestListenAddr(t *testing.T) {
	addr, err := ListenAddr("8080")
	require.NoError(t, err)
	assert.Equal(t, ":8080", addr)

	addr, err = ListenAddr(":9090")
	require.NoError(t, err)
	assert.Equal(t, ":9090", addr)

	_, err = ListenAddr(" ")
	assert.Error(t, err)
}
