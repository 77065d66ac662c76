package governance

import (
	"context"
	"sort"
	"time"

	"github.com/stake-plus/govtally/src/actions/jobs"
	"github.com/stake-plus/govtally/src/chain"
	"github.com/stake-plus/govtally/src/components/tally"
	"github.com/stake-plus/govtally/src/metrics"
	"go.uber.org/zap"
)

// Job names.
const (
	JobReconcile = "reconcile"
	JobAutovote  = "autovote"
	JobSync      = "display-sync"
	JobRecheck   = "health-recheck"
)

// DisplaySync redraws the tally of every live record.
type DisplaySync struct {
	tallies   *tally.Store
	presenter Presenter
	log       *zap.Logger
}

func NewDisplaySync(tallies *tally.Store, presenter Presenter, log *zap.Logger) *DisplaySync {
	if log == nil {
		log = zap.NewNop()
	}
	return &DisplaySync{tallies: tallies, presenter: presenter, log: log.Named("sync")}
}

// Run refreshes each record; a failed refresh is logged and skipped.
func (s *DisplaySync) Run(ctx context.Context) error {
	records, err := s.tallies.List(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	failed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.presenter.RefreshTally(ctx, id, records[id]); err != nil {
			failed++
			s.log.Warn("tally refresh failed", zap.String("thread_id", id), zap.Error(err))
		}
	}
	s.log.Debug("displays synced", zap.Int("threads", len(ids)), zap.Int("failed", failed))
	return nil
}

// Recheck pings the proposal source.
type Recheck struct {
	source  chain.Source
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewRecheck(source chain.Source, m *metrics.Metrics, log *zap.Logger) *Recheck {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recheck{source: source, metrics: m, log: log.Named("recheck")}
}

func (r *Recheck) Run(ctx context.Context) error {
	err := r.source.Ping(ctx)
	r.metrics.ObservePing(err)
	if err != nil {
		r.log.Warn("proposal source unreachable", zap.Error(err))
		return err
	}
	return nil
}

func (r *Recheck) releaseSource(error) {
	if err := r.source.Close(); err != nil {
		r.log.Warn("failed to release proposal source", zap.Error(err))
	}
}

// Schedule holds the intervals of the governance jobs.
type Schedule struct {
	Check      time.Duration
	Autonomous time.Duration
	Sync       time.Duration
	Recheck    time.Duration
}

// Jobs returns the runner jobs. Reconcile and autovote share the exclusive
// class; the light jobs run alongside them.
func Jobs(s Schedule, monitor *Monitor, decider *Decider, sync *DisplaySync, recheck *Recheck) []jobs.Job {
	out := []jobs.Job{{
		Name:      JobReconcile,
		Interval:  s.Check,
		Exclusive: true,
		Immediate: true,
		Run:       monitor.Run,
		OnFailure: monitor.releaseSource,
	}}
	if decider != nil {
		out = append(out, jobs.Job{
			Name:      JobAutovote,
			Interval:  s.Autonomous,
			Exclusive: true,
			Run:       decider.Run,
		})
	}
	if sync != nil {
		out = append(out, jobs.Job{Name: JobSync, Interval: s.Sync, Run: sync.Run})
	}
	if recheck != nil {
		out = append(out, jobs.Job{Name: JobRecheck, Interval: s.Recheck, Run: recheck.Run, OnFailure: recheck.releaseSource})
	}
	return out
}
