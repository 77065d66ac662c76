// Package tally keeps per-thread vote records and archives them once their proposal retires.
package tally

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/stake-plus/govtally/src/data/docstore"
	"github.com/stake-plus/govtally/src/shared/gov"
	"go.uber.org/zap"
)

// Document names inside the data directory.
const (
	VotesFile   = "vote_counts.json"
	ArchiveFile = "archived_votes.json"
)

type records = map[string]*gov.VoteRecord

type archive = map[string]gov.ArchiveEntry

// Store owns the live tally document and the archive document.
type Store struct {
	votes   *docstore.Document[records]
	archive *docstore.Document[archive]
	now     func() time.Time
	log     *zap.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore opens the tally and archive documents under dataDir. Each document
// keeps its backups in its own directory.
func NewStore(dataDir string, storeOpts docstore.Options, opts ...Option) *Store {
	log := storeOpts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	storeOpts.BackupDir = ""
	s := &Store{
		votes:   docstore.NewDocument(filepath.Join(dataDir, VotesFile), func() records { return records{} }, storeOpts),
		archive: docstore.NewDocument(filepath.Join(dataDir, ArchiveFile), func() archive { return archive{} }, storeOpts),
		now:     time.Now,
		log:     log.Named("tally"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordOption sets descriptive fields on a new record.
type RecordOption func(*gov.VoteRecord)

// WithTitle stores the proposal title on the record.
func WithTitle(title string) RecordOption {
	return func(r *gov.VoteRecord) { r.Title = title }
}

// WithOrigin stores the proposal origin on the record.
func WithOrigin(origin string) RecordOption {
	return func(r *gov.VoteRecord) { r.Origin = origin }
}

// Create starts an empty tally for threadID. An epoch of zero means now.
func (s *Store) Create(ctx context.Context, threadID string, proposalIndex uint32, epoch int64, opts ...RecordOption) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return fmt.Errorf("create tally: empty thread id: %w", gov.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.votes.Update(func(v *records) error {
		if _, exists := (*v)[threadID]; exists {
			return fmt.Errorf("thread %s: %w", threadID, gov.ErrConflict)
		}
		now := s.now().UTC()
		if epoch == 0 {
			epoch = now.Unix()
		}
		rec := &gov.VoteRecord{
			ProposalIndex: proposalIndex,
			Counts:        gov.NewCounts(),
			Users:         map[string]gov.Choice{},
			CreatedAt:     now,
			Epoch:         epoch,
		}
		for _, opt := range opts {
			opt(rec)
		}
		(*v)[threadID] = rec
		return nil
	})
	if err != nil {
		return fmt.Errorf("create tally: %w", err)
	}
	s.log.Info("tally created", zap.String("thread_id", threadID), zap.Uint32("proposal_id", proposalIndex))
	return nil
}

// CastVote records userID's choice on threadID and returns the resulting counts.
// Repeating the current choice changes nothing; switching moves the vote.
func (s *Store) CastVote(ctx context.Context, threadID, userID string, choice gov.Choice) (gov.Counts, error) {
	if !choice.Valid() {
		return nil, fmt.Errorf("choice %q: %w", choice, gov.ErrValidation)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("cast vote: empty user id: %w", gov.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var counts gov.Counts
	err := s.votes.Update(func(v *records) error {
		rec, ok := (*v)[threadID]
		if !ok {
			return fmt.Errorf("thread %s: %w", threadID, gov.ErrNotFound)
		}
		normalize(rec)

		previous, voted := rec.Users[userID]
		if voted && previous == choice {
			counts = rec.Counts.Clone()
			return nil
		}
		if voted && rec.Counts[previous] > 0 {
			rec.Counts[previous]--
		}
		rec.Users[userID] = choice
		rec.Counts[choice]++
		counts = rec.Counts.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cast vote: %w", err)
	}
	s.log.Debug("vote cast",
		zap.String("thread_id", threadID), zap.String("user_id", userID), zap.String("choice", string(choice)))
	return counts, nil
}

// Get returns a copy of the record for threadID.
func (s *Store) Get(ctx context.Context, threadID string) (*gov.VoteRecord, error) {
	var rec *gov.VoteRecord
	err := s.votes.View(func(v records) error {
		rec = v[threadID].Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, gov.ErrNotFound)
	}
	return rec, nil
}

// List returns copies of every live record keyed by thread id.
func (s *Store) List(ctx context.Context) (map[string]*gov.VoteRecord, error) {
	out := map[string]*gov.VoteRecord{}
	err := s.votes.View(func(v records) error {
		for id, rec := range v {
			out[id] = rec.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close waits for in-flight writes on both documents and rejects new ones.
func (s *Store) Close() error {
	if err := s.votes.Close(); err != nil {
		return err
	}
	return s.archive.Close()
}

// normalize fills maps a hand-edited or older document may lack.
func normalize(rec *gov.VoteRecord) {
	if rec.Users == nil {
		rec.Users = map[string]gov.Choice{}
	}
	if rec.Counts == nil {
		rec.Counts = gov.NewCounts()
	}
	for _, c := range gov.Choices {
		if _, ok := rec.Counts[c]; !ok {
			rec.Counts[c] = 0
		}
	}
}
