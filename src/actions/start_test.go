package actions

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stake-plus/govtally/src/actions/governance"
	"github.com/stake-plus/govtally/src/config"
	"github.com/stake-plus/govtally/src/shared/gov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	active := filepath.Join(dir, "active.json")
	require.NoError(t, os.WriteFile(active, []byte(`{"1":{"title":"Treasury","origin":"Root"},"2":{"title":""}}`), 0o644))
	return config.Config{
		Chain:   config.Chain{Network: "polkadot", ActiveFile: active},
		Storage: config.Storage{DataDir: filepath.Join(dir, "data"), MaxBackups: 2},
		Schedule: config.Schedule{
			CheckInterval:      time.Hour,
			AutonomousInterval: time.Hour,
			SyncInterval:       time.Hour,
			RecheckInterval:    time.Hour,
			RestartBackoff:     time.Second,
			SweepMaxAgeDays:    30,
		},
		Voting: config.Voting{SoloMode: true, VotePeriodsDir: filepath.Join(dir, "periods")},
	}
}

func TestBuildHeadless(t *testing.T) {
	rt, err := Build(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	res, err := rt.Monitor.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Active)
	assert.Equal(t, []uint32{2}, res.Invalid)
	require.Contains(t, res.Opened, uint32(1))

	thread := res.Opened[1]
	counts, err := rt.Ballot.Cast(context.Background(), "test", thread, "alice", "aye")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[gov.ChoiceAye])

	require.NoError(t, rt.Runner.RunOnce(context.Background(), governance.JobAutovote))
	_, err = rt.Decider.Decision(thread)
	assert.ErrorIs(t, err, gov.ErrNotFound)
}

func TestBuildReadOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Voting.ReadOnly = true
	rt, err := Build(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	res, err := rt.Monitor.Cycle(context.Background())
	require.NoError(t, err)
	require.Contains(t, res.Opened, uint32(1))

	_, err = rt.Ballot.Cast(context.Background(), "test", res.Opened[1], "alice", "aye")
	assert.ErrorIs(t, err, gov.ErrReadOnly)
}

func TestBuildRejectsBadParts(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Addr = "127.0.0.1:0"
	_, err := Build(cfg, nil)
	assert.Error(t, err, "api without jwt secret")

	cfg = testConfig(t)
	cfg.RedisURL = "not a url"
	_, err = Build(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Voting.VotePeriodsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Voting.VotePeriodsDir, "polkadot.json"), []byte("{"), 0o644))
	_, err = Build(cfg, nil)
	assert.Error(t, err)
}

func TestRuntimeStartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.API = config.API{Addr: "127.0.0.1:0", JWTSecret: "secret"}
	rt, err := Build(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, rt.Start(context.Background()))
	rt.Stop(context.Background())
	assert.NoError(t, rt.Close())
}
