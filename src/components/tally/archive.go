package tally

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/stake-plus/govtally/src/data/docstore"
	"github.com/stake-plus/govtally/src/shared/gov"
	"go.uber.org/zap"
)

// Reconcile moves every record whose proposal is not in active into the
// archive and returns the retired thread ids in ascending order.
//
// The archive is written before the live document. If the process dies between
// the two writes, the next call finds the record in both places and only
// removes it from the live document.
func (s *Store) Reconcile(ctx context.Context, active map[uint32]struct{}) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var retired []string
	err := docstore.UpdatePair(s.archive, s.votes, func(a *archive, v *records) error {
		now := s.now().UTC()
		for threadID, rec := range *v {
			if _, live := active[rec.ProposalIndex]; live {
				continue
			}

			key, done := archiveKey(*a, threadID, rec)
			if done {
				s.log.Info("record already archived, removing live copy",
					zap.String("thread_id", threadID), zap.String("archive_key", key))
				delete(*v, threadID)
				retired = append(retired, threadID)
				continue
			}

			normalize(rec)
			(*a)[key] = gov.ArchiveEntry{
				VoteRecord:  *rec.Clone(),
				ArchivedAt:  now,
				FinalStatus: gov.StatusCompleted,
			}
			delete(*v, threadID)
			retired = append(retired, threadID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile tallies: %w", err)
	}

	sort.Strings(retired)
	for _, id := range retired {
		s.log.Info("tally archived", zap.String("thread_id", id))
	}
	return retired, nil
}

// archiveKey picks the archive key for a retiring record. The first record of
// a thread is stored under its id; a record on a reused id goes under
// "<id>@<epoch>", with a "#n" suffix if that key is held by an older entry.
// done reports that rec is already archived under key.
func archiveKey(a archive, threadID string, rec *gov.VoteRecord) (key string, done bool) {
	candidates := []string{threadID, fmt.Sprintf("%s@%d", threadID, rec.Epoch)}
	for i := 0; ; i++ {
		if i < len(candidates) {
			key = candidates[i]
		} else {
			key = fmt.Sprintf("%s@%d#%d", threadID, rec.Epoch, i-1)
		}
		existing, ok := a[key]
		if !ok {
			return key, false
		}
		if !existing.ArchivedAt.Before(rec.CreatedAt) {
			return key, true
		}
	}
}

func isArchiveKeyOf(key, threadID string) bool {
	return key == threadID || strings.HasPrefix(key, threadID+"@")
}

// Archived returns the most recently archived entry for threadID. A reused
// thread id has one entry per record; the latest one wins.
func (s *Store) Archived(ctx context.Context, threadID string) (gov.ArchiveEntry, error) {
	var (
		entry gov.ArchiveEntry
		ok    bool
	)
	err := s.archive.View(func(a archive) error {
		for key, e := range a {
			if !isArchiveKeyOf(key, threadID) {
				continue
			}
			if !ok || e.ArchivedAt.After(entry.ArchivedAt) {
				entry, ok = e, true
			}
		}
		return nil
	})
	if err != nil {
		return gov.ArchiveEntry{}, err
	}
	if !ok {
		return gov.ArchiveEntry{}, fmt.Errorf("archived thread %s: %w", threadID, gov.ErrNotFound)
	}
	return entry, nil
}

// ArchiveSize returns the number of archived records.
func (s *Store) ArchiveSize(ctx context.Context) (int, error) {
	n := 0
	err := s.archive.View(func(a archive) error {
		n = len(a)
		return nil
	})
	return n, err
}
