package referendum

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stake-plus/govtally/src/chain"
	"github.com/stake-plus/govtally/src/data/docstore"
	"github.com/stake-plus/govtally/src/shared/gov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRegistry(t *testing.T) (*Registry, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(filepath.Join(t.TempDir(), CacheFile), docstore.Options{}, WithClock(c.now))
	return r, c
}

func active(ids ...uint32) map[uint32]chain.Metadata {
	out := map[uint32]chain.Metadata{}
	for _, id := range ids {
		out[id] = chain.Metadata{Title: "Proposal", Track: "Root"}
	}
	return out
}

func TestDiscoverNewProposals(t *testing.T) {
	r, c := newRegistry(t)
	ctx := context.Background()

	ids, err := r.Discover(ctx, active(2, 1))
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, ids)

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, p := range all {
		assert.Equal(t, gov.StatusNew, p.Status)
		assert.Equal(t, c.t, p.DiscoveredAt)
		assert.Equal(t, "Proposal", p.Title)
		assert.Equal(t, "Root", p.Metadata["track"])
	}
}

func TestDiscoverIsIdempotent(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Discover(ctx, active(1, 2))
	require.NoError(t, err)

	ids, err := r.Discover(ctx, active(1, 2))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = r.Discover(ctx, active(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []uint32{3}, ids)
}

func TestDiscoverSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), CacheFile)
	ctx := context.Background()

	_, err := NewRegistry(path, docstore.Options{}).Discover(ctx, active(5))
	require.NoError(t, err)

	ids, err := NewRegistry(path, docstore.Options{}).Discover(ctx, active(5))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDiscoverMalformedCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), CacheFile)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := NewRegistry(path, docstore.Options{}).Discover(context.Background(), active(1))
	assert.ErrorIs(t, err, docstore.ErrStorage)
}

func TestSetStatus(t *testing.T) {
	r, c := newRegistry(t)
	ctx := context.Background()
	_, err := r.Discover(ctx, active(1))
	require.NoError(t, err)

	c.t = c.t.Add(time.Hour)
	require.NoError(t, r.SetStatus(ctx, 1, gov.StatusActive))

	p, err := r.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, gov.StatusActive, p.Status)
	require.NotNil(t, p.UpdatedAt)
	assert.Equal(t, c.t, *p.UpdatedAt)
}

func TestSetStatusUnknownIsNoop(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.SetStatus(ctx, 99, gov.StatusActive))
	_, err := r.Get(ctx, 99)
	assert.ErrorIs(t, err, gov.ErrNotFound)

	assert.ErrorIs(t, r.SetStatus(ctx, 1, gov.Status("bogus")), gov.ErrValidation)
}

func TestRetire(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	_, err := r.Discover(ctx, active(1, 2, 3))
	require.NoError(t, err)
	require.NoError(t, r.SetStatus(ctx, 1, gov.StatusActive))
	require.NoError(t, r.SetStatus(ctx, 3, gov.StatusActive))

	completed, expired, err := r.Retire(ctx, map[uint32]struct{}{3: {}})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, completed)
	assert.Equal(t, []uint32{2}, expired)

	p, err := r.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, gov.StatusActive, p.Status)

	completed, expired, err = r.Retire(ctx, map[uint32]struct{}{3: {}})
	require.NoError(t, err)
	assert.Empty(t, completed)
	assert.Empty(t, expired)
}

func TestPending(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	_, err := r.Discover(ctx, active(1, 2, 3))
	require.NoError(t, err)
	require.NoError(t, r.SetStatus(ctx, 2, gov.StatusActive))

	pending, err := r.Pending(ctx, map[uint32]struct{}{1: {}, 2: {}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, uint32(1), pending[0].ID)
}

func TestSweep(t *testing.T) {
	r, c := newRegistry(t)
	ctx := context.Background()
	_, err := r.Discover(ctx, active(1, 2, 3, 4))
	require.NoError(t, err)
	require.NoError(t, r.SetStatus(ctx, 1, gov.StatusCompleted))
	require.NoError(t, r.SetStatus(ctx, 2, gov.StatusExpired))
	require.NoError(t, r.SetStatus(ctx, 3, gov.StatusActive))

	c.t = c.t.Add(10 * 24 * time.Hour)
	removed, err := r.Sweep(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, removed)

	c.t = c.t.Add(25 * 24 * time.Hour)
	removed, err = r.Sweep(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, uint32(3), all[0].ID)
	assert.Equal(t, uint32(4), all[1].ID)

	_, err = r.Sweep(ctx, -1)
	assert.ErrorIs(t, err, gov.ErrValidation)
}

func TestSweepCountsWholeDays(t *testing.T) {
	r, c := newRegistry(t)
	ctx := context.Background()
	_, err := r.Discover(ctx, active(1))
	require.NoError(t, err)
	require.NoError(t, r.SetStatus(ctx, 1, gov.StatusCompleted))

	c.t = c.t.Add(30*24*time.Hour + 12*time.Hour)
	removed, err := r.Sweep(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, removed, "30.5 days is 30 whole days")

	c.t = c.t.Add(12 * time.Hour)
	removed, err = r.Sweep(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestTracked(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	_, err := r.Discover(ctx, active(3, 1, 2))
	require.NoError(t, err)
	require.NoError(t, r.SetStatus(ctx, 2, gov.StatusExpired))
	require.NoError(t, r.SetStatus(ctx, 3, gov.StatusActive))

	ids, err := r.Tracked(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, ids)
}
