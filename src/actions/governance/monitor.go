// Package governance runs the reconciliation cycle that keeps the proposal
// registry, the vote tallies and the presentation surface in step with chain.
package governance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/stake-plus/govtally/src/chain"
	"github.com/stake-plus/govtally/src/components/referendum"
	"github.com/stake-plus/govtally/src/components/tally"
	"github.com/stake-plus/govtally/src/data"
	"github.com/stake-plus/govtally/src/metrics"
	"github.com/stake-plus/govtally/src/shared/gov"
	"go.uber.org/zap"
)

// Presenter is the surface members vote on.
type Presenter interface {
	// OpenThread creates the discussion thread for a proposal and returns its id.
	OpenThread(ctx context.Context, id uint32, meta chain.Metadata) (string, error)
	// CloseThreads locks threads whose proposals have retired.
	CloseThreads(ctx context.Context, threadIDs []string) error
	// RefreshTally redraws the results shown for a live record.
	RefreshTally(ctx context.Context, threadID string, rec *gov.VoteRecord) error
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e data.Event) error
}

// Monitor wires the source, the registry, the tally store and the presenter.
type Monitor struct {
	source    chain.Source
	registry  *referendum.Registry
	tallies   *tally.Store
	presenter Presenter
	publisher Publisher
	metrics   *metrics.Metrics
	sweepDays int
	now       func() time.Time
	log       *zap.Logger
}

// MonitorConfig groups Monitor dependencies. Publisher and Metrics are optional.
type MonitorConfig struct {
	Source          chain.Source
	Registry        *referendum.Registry
	Tallies         *tally.Store
	Presenter       Presenter
	Publisher       Publisher
	Metrics         *metrics.Metrics
	SweepMaxAgeDays int
	Logger          *zap.Logger
}

// NewMonitor validates cfg and builds a Monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Source == nil || cfg.Registry == nil || cfg.Tallies == nil || cfg.Presenter == nil {
		return nil, errors.New("governance: source, registry, tallies and presenter are required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Monitor{
		source:    cfg.Source,
		registry:  cfg.Registry,
		tallies:   cfg.Tallies,
		presenter: cfg.Presenter,
		publisher: pub,
		metrics:   cfg.Metrics,
		sweepDays: cfg.SweepMaxAgeDays,
		now:       time.Now,
		log:       log.Named("monitor"),
	}, nil
}

// CycleResult summarises one reconciliation cycle.
type CycleResult struct {
	ID         string
	Active     int
	Invalid    []uint32
	Discovered []uint32
	Opened     map[uint32]string
	Retired    []string
	Completed  []uint32
	Expired    []uint32
	Swept      int
}

// Cycle runs one reconciliation pass. A source failure aborts the cycle
// before anything is retired.
func (m *Monitor) Cycle(ctx context.Context) (res CycleResult, err error) {
	start := m.now()
	res = CycleResult{ID: uuid.NewString(), Opened: map[uint32]string{}}
	log := m.log.With(zap.String("cycle_id", res.ID))
	defer func() {
		live := 0
		if recs, listErr := m.tallies.List(ctx); listErr == nil {
			live = len(recs)
		}
		m.metrics.ObserveCycle(metrics.CycleResult{
			Active:     res.Active,
			Discovered: len(res.Discovered),
			Retired:    len(res.Retired),
			Expired:    len(res.Expired),
			Swept:      res.Swept,
			Live:       live,
			Took:       m.now().Sub(start),
			Err:        err,
		})
	}()

	tracked, err := m.tracked(ctx)
	if err != nil {
		return res, err
	}
	active, err := m.source.ActiveProposals(ctx, tracked)
	if err != nil {
		return res, fmt.Errorf("fetch active proposals: %w", err)
	}
	res.Active = len(active)
	ids := chain.IDs(active)

	valid := make(map[uint32]chain.Metadata, len(active))
	for id, meta := range active {
		if vErr := meta.Validate(); vErr != nil {
			log.Warn("skipping proposal with invalid metadata", zap.Uint32("proposal_id", id), zap.Error(vErr))
			res.Invalid = append(res.Invalid, id)
			continue
		}
		valid[id] = meta
	}
	sortIDs(res.Invalid)

	res.Discovered, err = m.registry.Discover(ctx, valid)
	if err != nil {
		return res, err
	}

	if err := m.openPending(ctx, log, ids, valid, &res); err != nil {
		return res, err
	}

	res.Retired, err = m.tallies.Reconcile(ctx, ids)
	if err != nil {
		return res, err
	}
	res.Completed, res.Expired, err = m.registry.Retire(ctx, ids)
	if err != nil {
		return res, err
	}
	if len(res.Retired) > 0 {
		if cErr := m.presenter.CloseThreads(ctx, res.Retired); cErr != nil {
			log.Error("failed to close retired threads", zap.Strings("thread_ids", res.Retired), zap.Error(cErr))
		}
		for _, threadID := range res.Retired {
			m.publish(ctx, data.Event{Type: data.EventThreadRetired, ThreadID: threadID})
		}
	}
	for _, id := range res.Expired {
		log.Info("proposal expired without a thread", zap.Uint32("proposal_id", id))
	}

	res.Swept, err = m.registry.Sweep(ctx, m.sweepDays)
	if err != nil {
		return res, err
	}

	log.Info("governance cycle complete",
		zap.Int("active", res.Active),
		zap.Int("invalid", len(res.Invalid)),
		zap.Int("discovered", len(res.Discovered)),
		zap.Int("opened", len(res.Opened)),
		zap.Int("retired", len(res.Retired)),
		zap.Int("expired", len(res.Expired)),
		zap.Int("swept", res.Swept),
		zap.Duration("took", m.now().Sub(start)))
	return res, nil
}

// Run adapts Cycle to the job runner.
func (m *Monitor) Run(ctx context.Context) error {
	_, err := m.Cycle(ctx)
	return err
}

// tracked lists every proposal the registry or a live tally still treats as
// active, so the source confirms each of them before anything is retired.
func (m *Monitor) tracked(ctx context.Context) ([]uint32, error) {
	ids, err := m.registry.Tracked(ctx)
	if err != nil {
		return nil, err
	}
	live, err := m.tallies.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range live {
		ids = append(ids, rec.ProposalIndex)
	}
	return ids, nil
}

// releaseSource drops the source connection after a failed cycle; the next
// call reconnects.
func (m *Monitor) releaseSource(err error) {
	if cerr := m.source.Close(); cerr != nil {
		m.log.Warn("failed to release proposal source", zap.NamedError("cause", err), zap.Error(cerr))
	}
}

// openPending gives every new, still active proposal a thread and a tally.
// Failures leave the proposal new so the next cycle retries it.
func (m *Monitor) openPending(ctx context.Context, log *zap.Logger, ids map[uint32]struct{}, valid map[uint32]chain.Metadata, res *CycleResult) error {
	pending, err := m.registry.Pending(ctx, ids)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	live, err := m.tallies.List(ctx)
	if err != nil {
		return err
	}
	threadOf := make(map[uint32]string, len(live))
	for threadID, rec := range live {
		threadOf[rec.ProposalIndex] = threadID
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		plog := log.With(zap.Uint32("proposal_id", p.ID))

		// A record survives from a cycle that died before the status update.
		if threadID, ok := threadOf[p.ID]; ok {
			if err := m.registry.SetStatus(ctx, p.ID, gov.StatusActive); err != nil {
				return err
			}
			res.Opened[p.ID] = threadID
			continue
		}

		meta, ok := valid[p.ID]
		if !ok {
			meta = metadataFromProposal(p)
		}
		threadID, err := m.presenter.OpenThread(ctx, p.ID, meta)
		if err != nil {
			plog.Error("failed to open thread, will retry next cycle", zap.Error(err))
			continue
		}
		if err := m.tallies.Create(ctx, threadID, p.ID, 0, tally.WithTitle(meta.Title), tally.WithOrigin(meta.Origin)); err != nil {
			if errors.Is(err, gov.ErrConflict) {
				plog.Warn("thread id already tracked", zap.String("thread_id", threadID))
			} else {
				return err
			}
		}
		if err := m.registry.SetStatus(ctx, p.ID, gov.StatusActive); err != nil {
			return err
		}
		res.Opened[p.ID] = threadID
		plog.Info("proposal thread opened", zap.String("thread_id", threadID))
		m.publish(ctx, data.Event{
			Type:       data.EventProposalDiscovered,
			ProposalID: p.ID,
			ThreadID:   threadID,
			Fields:     map[string]string{"title": meta.Title, "origin": meta.Origin},
		})
	}
	return nil
}

func (m *Monitor) publish(ctx context.Context, e data.Event) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.log.Warn("failed to publish lifecycle event", zap.String("type", e.Type), zap.Error(err))
	}
}

func metadataFromProposal(p gov.Proposal) chain.Metadata {
	return chain.Metadata{
		Title:       p.Title,
		Description: p.Metadata["description"],
		Track:       p.Metadata["track"],
		Origin:      p.Metadata["origin"],
		Proposer:    p.Metadata["proposer"],
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, data.Event) error { return nil }

func sortIDs(ids []uint32) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
