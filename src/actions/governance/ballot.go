package governance

import (
	"context"
	"errors"
	"fmt"

	"github.com/stake-plus/govtally/src/components/tally"
	"github.com/stake-plus/govtally/src/metrics"
	"github.com/stake-plus/govtally/src/shared/gov"
	"go.uber.org/zap"
)

// Ballot is the single entry point for member votes from any channel.
type Ballot struct {
	tallies  *tally.Store
	readOnly bool
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewBallot builds a Ballot. In read-only mode every vote is refused.
func NewBallot(tallies *tally.Store, readOnly bool, m *metrics.Metrics, log *zap.Logger) *Ballot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ballot{tallies: tallies, readOnly: readOnly, metrics: m, log: log.Named("ballot")}
}

// ReadOnly reports whether votes are refused.
func (b *Ballot) ReadOnly() bool { return b.readOnly }

// Cast records userID's choice on threadID. channel names the entry point for metrics.
func (b *Ballot) Cast(ctx context.Context, channel, threadID, userID, rawChoice string) (gov.Counts, error) {
	if b.readOnly {
		b.metrics.ObserveVote(channel, "read_only")
		return nil, fmt.Errorf("vote on %s: %w", threadID, gov.ErrReadOnly)
	}
	choice, err := gov.ParseChoice(rawChoice)
	if err != nil {
		b.metrics.ObserveVote(channel, "invalid")
		return nil, err
	}

	counts, err := b.tallies.CastVote(ctx, threadID, userID, choice)
	if err != nil {
		b.metrics.ObserveVote(channel, outcome(err))
		if !errors.Is(err, gov.ErrNotFound) && !errors.Is(err, gov.ErrValidation) {
			b.log.Error("vote not recorded",
				zap.String("channel", channel), zap.String("thread_id", threadID), zap.Error(err))
		}
		return nil, err
	}
	b.metrics.ObserveVote(channel, "ok")
	return counts, nil
}

// Record returns the live tally for threadID.
func (b *Ballot) Record(ctx context.Context, threadID string) (*gov.VoteRecord, error) {
	return b.tallies.Get(ctx, threadID)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, gov.ErrNotFound):
		return "unknown_thread"
	case errors.Is(err, gov.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
