package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"jobpulse/internal/domain/job"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	keys map[job.IdentityKey]bool
	err  error
}

func (f fakeStore) Exists(_ context.Context, key job.IdentityKey) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.keys[key], nil
}

type fakeClaimer struct {
	mu    sync.Mutex
	taken map[string]bool
	err   error
}

func (f *fakeClaimer) SetIfNotExists(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken == nil {
		f.taken = map[string]bool{}
	}
	if f.taken[key] {
		return false, nil
	}
	f.taken[key] = true
	return true, nil
}

func (f *fakeClaimer) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.taken, key)
	return nil
}

func TestIsNew_KnownKeyIsNotNew(t *testing.T) {
	d := New(fakeStore{keys: map[job.IdentityKey]bool{"remoteok:1": true}}, nil, 0, nil)
	ok, err := d.IsNew(context.Background(), job.Job{Key: "remoteok:1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsNew_StoreErrorFailsOpen(t *testing.T) {
	d := New(fakeStore{err: errors.New("db down")}, &fakeClaimer{}, 0, nil)
	ok, err := d.IsNew(context.Background(), job.Job{Key: "remoteok:1"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsNew_ClaimRejectsSecondConcurrentVerdict(t *testing.T) {
	d := New(fakeStore{}, &fakeClaimer{}, time.Minute, nil)
	j := job.Job{Key: "remotive:42"}

	first, err := d.IsNew(context.Background(), j)
	require.NoError(t, err)
	second, err := d.IsNew(context.Background(), j)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestIsNew_ClaimerErrorFailsOpen(t *testing.T) {
	d := New(fakeStore{}, &fakeClaimer{err: errors.New("redis unavailable")}, 0, nil)
	ok, err := d.IsNew(context.Background(), job.Job{Key: "bayt:7"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRelease_LetsTheNextRunClaimAgain(t *testing.T) {
	claims := &fakeClaimer{}
	d := New(fakeStore{}, claims, time.Minute, nil)
	j := job.Job{Key: "wuzzuf:3"}

	first, err := d.IsNew(context.Background(), j)
	require.NoError(t, err)
	require.True(t, first)

	d.Release(context.Background(), j.Key)

	again, err := d.IsNew(context.Background(), j)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRelease_WithoutClaimerIsNoop(t *testing.T) {
	d := New(fakeStore{}, nil, 0, nil)
	assert.NotPanics(t, func() { d.Release(context.Background(), "bayt:1") })
}
