package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stake-plus/govtally/src/components/tally"
	"github.com/stake-plus/govtally/src/data"
	"github.com/stake-plus/govtally/src/data/docstore"
	"github.com/stake-plus/govtally/src/metrics"
	"github.com/stake-plus/govtally/src/shared/gov"
	"go.uber.org/zap"
)

// DecisionsFile holds every autonomous decision, keyed by thread id.
const DecisionsFile = "onchain_votes.json"

// VotePeriod is the internal voting window for one origin.
type VotePeriod struct {
	InternalVotePeriod *float64 `json:"internal_vote_period,omitempty"`
}

// VotePeriods maps an origin name onto its voting window.
type VotePeriods map[string]VotePeriod

// LoadVotePeriods reads <dir>/<network>.json. A missing file yields no periods.
func LoadVotePeriods(dir, network string) (VotePeriods, error) {
	path := filepath.Join(dir, strings.ToLower(network)+".json")
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return VotePeriods{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vote periods: %w", err)
	}
	periods := VotePeriods{}
	if err := json.Unmarshal(raw, &periods); err != nil {
		return nil, fmt.Errorf("vote periods %s: %w", path, err)
	}
	return periods, nil
}

// Days returns the voting window for origin, falling back to fallback days.
func (p VotePeriods) Days(origin string, fallback float64) (float64, bool) {
	if vp, ok := p[origin]; ok && vp.InternalVotePeriod != nil {
		return *vp.InternalVotePeriod, true
	}
	if fallback > 0 {
		return fallback, true
	}
	return 0, false
}

// Decide turns member counts into the DAO position. Too little participation
// or a tie abstains; aye needs its share of aye+nay above threshold.
func Decide(c gov.Counts, minParticipation int, threshold float64) gov.Decision {
	aye, nay := c[gov.ChoiceAye], c[gov.ChoiceNay]
	if c.Total() < minParticipation {
		return gov.DecisionAbstain
	}
	switch {
	case aye > nay && float64(aye)/float64(aye+nay) > threshold:
		return gov.DecisionAye
	case nay > aye:
		return gov.DecisionNay
	default:
		return gov.DecisionAbstain
	}
}

// DeciderConfig configures the autonomous voting job.
type DeciderConfig struct {
	DataDir           string
	Store             docstore.Options
	Enabled           bool
	MinParticipation  int
	Threshold         float64
	Periods           VotePeriods
	DefaultPeriodDays float64
}

type decisions = map[string]gov.VoteDecision

// Decider takes a position on each live proposal once its voting window closes.
type Decider struct {
	cfg       DeciderConfig
	tallies   *tally.Store
	doc       *docstore.Document[decisions]
	publisher Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
	log       *zap.Logger
}

func NewDecider(cfg DeciderConfig, tallies *tally.Store, pub Publisher, m *metrics.Metrics, log *zap.Logger) *Decider {
	if log == nil {
		log = zap.NewNop()
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	storeOpts := cfg.Store
	storeOpts.BackupDir = ""
	if storeOpts.Logger == nil {
		storeOpts.Logger = log
	}
	return &Decider{
		cfg:       cfg,
		tallies:   tallies,
		doc:       docstore.NewDocument(filepath.Join(cfg.DataDir, DecisionsFile), func() decisions { return decisions{} }, storeOpts),
		publisher: pub,
		metrics:   m,
		now:       time.Now,
		log:       log.Named("autovote"),
	}
}

// Run decides every record whose window has closed and that has no decision yet.
func (d *Decider) Run(ctx context.Context) error {
	if !d.cfg.Enabled {
		d.log.Debug("autonomous voting disabled")
		return nil
	}
	records, err := d.tallies.List(ctx)
	if err != nil {
		return err
	}

	threadIDs := make([]string, 0, len(records))
	for id := range records {
		threadIDs = append(threadIDs, id)
	}
	sort.Strings(threadIDs)

	var decided []gov.VoteDecision
	err = d.doc.Update(func(doc *decisions) error {
		now := d.now().UTC()
		for _, threadID := range threadIDs {
			if _, done := (*doc)[threadID]; done {
				continue
			}
			rec := records[threadID]
			days, ok := d.cfg.Periods.Days(rec.Origin, d.cfg.DefaultPeriodDays)
			if !ok {
				continue
			}
			age := now.Sub(time.Unix(rec.Epoch, 0))
			if age < time.Duration(days*float64(24*time.Hour)) {
				continue
			}
			dec := gov.VoteDecision{
				ProposalIndex: rec.ProposalIndex,
				ThreadID:      threadID,
				Decision:      Decide(rec.Counts, d.cfg.MinParticipation, d.cfg.Threshold),
				Counts:        rec.Counts.Clone(),
				DecidedAt:     now,
			}
			(*doc)[threadID] = dec
			decided = append(decided, dec)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("autonomous voting: %w", err)
	}

	for _, dec := range decided {
		d.log.Info("vote decided",
			zap.Uint32("proposal_id", dec.ProposalIndex),
			zap.String("thread_id", dec.ThreadID),
			zap.String("decision", string(dec.Decision)))
		d.metrics.ObserveDecision(string(dec.Decision))
		e := data.Event{
			Type:       data.EventVoteDecided,
			ProposalID: dec.ProposalIndex,
			ThreadID:   dec.ThreadID,
			At:         dec.DecidedAt,
			Fields: map[string]string{
				"decision": string(dec.Decision),
				"aye":      strconv.Itoa(dec.Counts[gov.ChoiceAye]),
				"nay":      strconv.Itoa(dec.Counts[gov.ChoiceNay]),
				"recuse":   strconv.Itoa(dec.Counts[gov.ChoiceRecuse]),
			},
		}
		if err := d.publisher.Publish(ctx, e); err != nil {
			d.log.Warn("failed to publish decision", zap.String("thread_id", dec.ThreadID), zap.Error(err))
		}
	}
	return nil
}

// Decision returns the stored decision for threadID.
func (d *Decider) Decision(threadID string) (gov.VoteDecision, error) {
	var (
		dec gov.VoteDecision
		ok  bool
	)
	err := d.doc.View(func(doc decisions) error {
		dec, ok = doc[threadID]
		return nil
	})
	if err != nil {
		return gov.VoteDecision{}, err
	}
	if !ok {
		return gov.VoteDecision{}, fmt.Errorf("decision for %s: %w", threadID, gov.ErrNotFound)
	}
	return dec, nil
}

// Close flushes the decision document.
func (d *Decider) Close() error {
	return d.doc.Close()
}
