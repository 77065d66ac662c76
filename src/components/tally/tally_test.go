package tally

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stake-plus/govtally/src/data/docstore"
	"github.com/stake-plus/govtally/src/shared/gov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*Store, *clock, string) {
	t.Helper()
	dir := t.TempDir()
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(dir, docstore.Options{}, WithClock(c.now)), c, dir
}

func assertConsistent(t *testing.T, rec *gov.VoteRecord) {
	t.Helper()
	for _, c := range gov.Choices {
		n := 0
		for _, v := range rec.Users {
			if v == c {
				n++
			}
		}
		assert.Equal(t, n, rec.Counts[c], "count for %s", c)
	}
	assert.Equal(t, len(rec.Users), rec.Counts.Total())
}

func TestCreate(t *testing.T) {
	s, c, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "100", 1, 0, WithTitle("Treasury"), WithOrigin("SmallSpender")))

	rec, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.ProposalIndex)
	assert.Equal(t, gov.NewCounts(), rec.Counts)
	assert.Empty(t, rec.Users)
	assert.Equal(t, c.t, rec.CreatedAt)
	assert.Equal(t, c.t.Unix(), rec.Epoch)
	assert.Equal(t, "Treasury", rec.Title)
	assert.Equal(t, "SmallSpender", rec.Origin)
}

func TestCreateConflict(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "100", 1, 42))
	err := s.Create(ctx, "100", 2, 42)
	assert.ErrorIs(t, err, gov.ErrConflict)

	rec, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.ProposalIndex)

	assert.ErrorIs(t, s.Create(ctx, " ", 1, 0), gov.ErrValidation)
}

func TestCastVoteSwitchesChoice(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "100", 1, 0))

	counts, err := s.CastVote(ctx, "100", "42", gov.ChoiceAye)
	require.NoError(t, err)
	assert.Equal(t, gov.Counts{gov.ChoiceAye: 1, gov.ChoiceNay: 0, gov.ChoiceRecuse: 0}, counts)

	rec, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, map[string]gov.Choice{"42": gov.ChoiceAye}, rec.Users)

	counts, err = s.CastVote(ctx, "100", "42", gov.ChoiceNay)
	require.NoError(t, err)
	assert.Equal(t, gov.Counts{gov.ChoiceAye: 0, gov.ChoiceNay: 1, gov.ChoiceRecuse: 0}, counts)
}

func TestCastVoteSameChoiceIsIdempotent(t *testing.T) {
	s, _, dir := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "100", 1, 0))

	first, err := s.CastVote(ctx, "100", "42", gov.ChoiceRecuse)
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, VotesFile))
	require.NoError(t, err)

	second, err := s.CastVote(ctx, "100", "42", gov.ChoiceRecuse)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	after, err := os.ReadFile(filepath.Join(dir, VotesFile))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCastVoteErrors(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "100", 1, 0))

	_, err := s.CastVote(ctx, "missing", "42", gov.ChoiceAye)
	assert.ErrorIs(t, err, gov.ErrNotFound)

	_, err = s.CastVote(ctx, "100", "42", gov.Choice("maybe"))
	assert.ErrorIs(t, err, gov.ErrValidation)

	_, err = s.CastVote(ctx, "100", "", gov.ChoiceAye)
	assert.ErrorIs(t, err, gov.ErrValidation)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, gov.ErrNotFound)
}

func TestCastVoteKeepsSingleVotePerUser(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "100", 1, 0))

	rng := rand.New(rand.NewSource(7))
	last := map[string]gov.Choice{}
	for i := 0; i < 60; i++ {
		user := fmt.Sprintf("u%d", rng.Intn(5))
		choice := gov.Choices[rng.Intn(len(gov.Choices))]
		_, err := s.CastVote(ctx, "100", user, choice)
		require.NoError(t, err)
		last[user] = choice

		rec, err := s.Get(ctx, "100")
		require.NoError(t, err)
		assertConsistent(t, rec)
	}

	rec, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, last, rec.Users)
}

func TestCastVoteRepairsDriftedCounts(t *testing.T) {
	_, _, dir := newStore(t)
	ctx := context.Background()
	path := filepath.Join(dir, VotesFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"100":{"proposal_index":1,"counts":{"aye":0},"users":{"42":"aye"}}}`), 0o644))

	s := NewStore(dir, docstore.Options{})
	counts, err := s.CastVote(ctx, "100", "42", gov.ChoiceNay)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[gov.ChoiceAye])
	assert.Equal(t, 1, counts[gov.ChoiceNay])
	assert.Equal(t, 0, counts[gov.ChoiceRecuse])
}

func TestConcurrentVotesAreNotLost(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "100", 1, 0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CastVote(ctx, "100", fmt.Sprintf("user-%d", i), gov.Choices[i%3])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := s.Get(ctx, "100")
	require.NoError(t, err)
	assert.Len(t, rec.Users, 20)
	assertConsistent(t, rec)
}

func TestReconcileArchivesRetired(t *testing.T) {
	s, c, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "100", 1, 0))
	require.NoError(t, s.Create(ctx, "200", 2, 0))
	_, err := s.CastVote(ctx, "100", "42", gov.ChoiceAye)
	require.NoError(t, err)

	c.advance(time.Hour)
	retired, err := s.Reconcile(ctx, map[uint32]struct{}{2: {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"100"}, retired)

	live, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, live, 1)
	assert.Contains(t, live, "200")

	entry, err := s.Archived(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, gov.StatusCompleted, entry.FinalStatus)
	assert.Equal(t, c.t, entry.ArchivedAt)
	assert.Equal(t, uint32(1), entry.ProposalIndex)
	assert.Equal(t, 1, entry.Counts[gov.ChoiceAye])
}

func TestReconcileIsIdempotent(t *testing.T) {
	s, _, dir := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "100", 1, 0))
	require.NoError(t, s.Create(ctx, "200", 2, 0))

	_, err := s.Reconcile(ctx, map[uint32]struct{}{2: {}})
	require.NoError(t, err)

	votesBefore, err := os.Stat(filepath.Join(dir, VotesFile))
	require.NoError(t, err)
	archiveBefore, err := os.ReadFile(filepath.Join(dir, ArchiveFile))
	require.NoError(t, err)

	retired, err := s.Reconcile(ctx, map[uint32]struct{}{2: {}})
	require.NoError(t, err)
	assert.Empty(t, retired)

	votesAfter, err := os.Stat(filepath.Join(dir, VotesFile))
	require.NoError(t, err)
	assert.Equal(t, votesBefore.ModTime(), votesAfter.ModTime())
	archiveAfter, err := os.ReadFile(filepath.Join(dir, ArchiveFile))
	require.NoError(t, err)
	assert.Equal(t, archiveBefore, archiveAfter)
}

func TestReconcileAfterCrashBetweenWrites(t *testing.T) {
	s, c, dir := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "100", 1, 0))
	stale, err := os.ReadFile(filepath.Join(dir, VotesFile))
	require.NoError(t, err)

	c.advance(time.Hour)
	archivedAt := c.now()
	_, err = s.Reconcile(ctx, map[uint32]struct{}{})
	require.NoError(t, err)

	// Archive written, live removal lost.
	require.NoError(t, os.WriteFile(filepath.Join(dir, VotesFile), stale, 0o644))

	c.advance(time.Hour)
	retired, err := s.Reconcile(ctx, map[uint32]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"100"}, retired)

	live, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	entry, err := s.Archived(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, archivedAt, entry.ArchivedAt)
	n, err := s.ArchiveSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReconcileReusedThreadAfterCrash(t *testing.T) {
	s, c, dir := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "100", 1, 0))
	_, err := s.CastVote(ctx, "100", "42", gov.ChoiceNay)
	require.NoError(t, err)
	c.advance(time.Hour)
	_, err = s.Reconcile(ctx, map[uint32]struct{}{})
	require.NoError(t, err)

	c.advance(time.Hour)
	require.NoError(t, s.Create(ctx, "100", 7, 0))
	_, err = s.CastVote(ctx, "100", "42", gov.ChoiceAye)
	require.NoError(t, err)
	stale, err := os.ReadFile(filepath.Join(dir, VotesFile))
	require.NoError(t, err)

	c.advance(time.Hour)
	secondAt := c.now()
	_, err = s.Reconcile(ctx, map[uint32]struct{}{})
	require.NoError(t, err)
	archiveBefore, err := os.ReadFile(filepath.Join(dir, ArchiveFile))
	require.NoError(t, err)

	// Archive written, live removal lost.
	require.NoError(t, os.WriteFile(filepath.Join(dir, VotesFile), stale, 0o644))
	c.advance(time.Hour)
	retired, err := s.Reconcile(ctx, map[uint32]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"100"}, retired)

	archiveAfter, err := os.ReadFile(filepath.Join(dir, ArchiveFile))
	require.NoError(t, err)
	assert.Equal(t, archiveBefore, archiveAfter, "archived entries are never rewritten")
	n, err := s.ArchiveSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entry, err := s.Archived(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), entry.ProposalIndex)
	assert.Equal(t, secondAt, entry.ArchivedAt)
	assert.Equal(t, 1, entry.Counts[gov.ChoiceAye])
}

func TestArchiveKey(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &gov.VoteRecord{CreatedAt: t0.Add(2 * time.Hour), Epoch: 99}

	key, done := archiveKey(archive{}, "100", rec)
	assert.Equal(t, "100", key)
	assert.False(t, done)

	a := archive{"100": {ArchivedAt: t0}}
	key, done = archiveKey(a, "100", rec)
	assert.Equal(t, "100@99", key)
	assert.False(t, done)

	a["100@99"] = gov.ArchiveEntry{ArchivedAt: t0.Add(time.Hour)}
	key, done = archiveKey(a, "100", rec)
	assert.Equal(t, "100@99#1", key)
	assert.False(t, done)

	a["100@99#1"] = gov.ArchiveEntry{ArchivedAt: t0.Add(3 * time.Hour)}
	key, done = archiveKey(a, "100", rec)
	assert.Equal(t, "100@99#1", key)
	assert.True(t, done)
}

func TestArchivedIgnoresOtherThreads(t *testing.T) {
	s, c, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "10", 1, 0))
	c.advance(time.Hour)
	require.NoError(t, s.Create(ctx, "100", 2, 0))
	_, err := s.Reconcile(ctx, map[uint32]struct{}{})
	require.NoError(t, err)

	entry, err := s.Archived(ctx, "10")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), entry.ProposalIndex)
	_, err = s.Archived(ctx, "1")
	assert.ErrorIs(t, err, gov.ErrNotFound)
}

func TestReconcileMalformedArchiveKeepsLiveRecords(t *testing.T) {
	s, _, dir := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "100", 1, 0))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ArchiveFile), []byte("nope"), 0o644))

	_, err := s.Reconcile(ctx, map[uint32]struct{}{})
	assert.ErrorIs(t, err, docstore.ErrStorage)

	_, err = s.Get(ctx, "100")
	assert.NoError(t, err)
}
