// Package referendum tracks every governance proposal ever discovered and its lifecycle status.
package referendum

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/stake-plus/govtally/src/chain"
	"github.com/stake-plus/govtally/src/data/docstore"
	"github.com/stake-plus/govtally/src/shared/gov"
	"go.uber.org/zap"
)

// CacheFile is the registry document name inside the data directory.
const CacheFile = "governance_cache.json"

type cache = map[uint32]gov.Proposal

// Registry is the proposal cache. All mutations go through one docstore document.
type Registry struct {
	doc *docstore.Document[cache]
	now func() time.Time
	log *zap.Logger
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry opens the cache stored at path.
func NewRegistry(path string, storeOpts docstore.Options, opts ...Option) *Registry {
	log := storeOpts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		doc: docstore.NewDocument(path, func() cache { return cache{} }, storeOpts),
		now: time.Now,
		log: log.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Discover records every id in active that is not cached yet, with status new,
// and returns those ids in ascending order.
func (r *Registry) Discover(ctx context.Context, active map[uint32]chain.Metadata) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var discovered []uint32
	err := r.doc.Update(func(c *cache) error {
		now := r.now().UTC()
		for id, meta := range active {
			if _, ok := (*c)[id]; ok {
				continue
			}
			(*c)[id] = gov.Proposal{
				ID:           id,
				Title:        meta.Title,
				DiscoveredAt: now,
				Status:       gov.StatusNew,
				Metadata:     meta.AsMap(),
			}
			discovered = append(discovered, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover proposals: %w", err)
	}

	sort.Slice(discovered, func(i, j int) bool { return discovered[i] < discovered[j] })
	for _, id := range discovered {
		r.log.Info("proposal discovered", zap.Uint32("proposal_id", id))
	}
	return discovered, nil
}

// SetStatus moves a cached proposal to status. Unknown ids are ignored.
func (r *Registry) SetStatus(ctx context.Context, id uint32, status gov.Status) error {
	if !status.Valid() {
		return fmt.Errorf("status %q: %w", status, gov.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	found := false
	err := r.doc.Update(func(c *cache) error {
		p, ok := (*c)[id]
		if !ok {
			return nil
		}
		found = true
		now := r.now().UTC()
		p.Status = status
		p.UpdatedAt = &now
		(*c)[id] = p
		return nil
	})
	if err != nil {
		return fmt.Errorf("set status of proposal %d: %w", id, err)
	}
	if !found {
		r.log.Warn("status change for unknown proposal ignored",
			zap.Uint32("proposal_id", id), zap.String("status", string(status)))
	}
	return nil
}

// Retire closes out proposals that left the active set. Proposals that reached
// a thread become completed; those still new never got one and become expired.
func (r *Registry) Retire(ctx context.Context, active map[uint32]struct{}) (completed, expired []uint32, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	err = r.doc.Update(func(c *cache) error {
		now := r.now().UTC()
		for id, p := range *c {
			if p.Status.Terminal() {
				continue
			}
			if _, live := active[id]; live {
				continue
			}
			if p.Status == gov.StatusNew {
				p.Status = gov.StatusExpired
				expired = append(expired, id)
			} else {
				p.Status = gov.StatusCompleted
				completed = append(completed, id)
			}
			p.UpdatedAt = &now
			(*c)[id] = p
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("retire proposals: %w", err)
	}
	sortIDs(completed)
	sortIDs(expired)
	return completed, expired, nil
}

// Sweep deletes terminal proposals whose age in whole days exceeds maxAgeDays
// and returns how many were removed. New and active proposals are never swept.
func (r *Registry) Sweep(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("sweep max age %d: %w", maxAgeDays, gov.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := r.doc.Update(func(c *cache) error {
		now := r.now().UTC()
		for id, p := range *c {
			if p.Status.Terminal() && ageDays(now, p.DiscoveredAt) > maxAgeDays {
				delete(*c, id)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep proposals: %w", err)
	}
	if removed > 0 {
		r.log.Info("swept old proposals", zap.Int("removed", removed), zap.Int("max_age_days", maxAgeDays))
	}
	return removed, nil
}

// Get returns one cached proposal.
func (r *Registry) Get(ctx context.Context, id uint32) (gov.Proposal, error) {
	var (
		p  gov.Proposal
		ok bool
	)
	err := r.doc.View(func(c cache) error {
		p, ok = c[id]
		return nil
	})
	if err != nil {
		return gov.Proposal{}, err
	}
	if !ok {
		return gov.Proposal{}, fmt.Errorf("proposal %d: %w", id, gov.ErrNotFound)
	}
	return p, nil
}

// List returns all cached proposals ordered by id.
func (r *Registry) List(ctx context.Context) ([]gov.Proposal, error) {
	var out []gov.Proposal
	err := r.doc.View(func(c cache) error {
		out = make([]gov.Proposal, 0, len(c))
		for _, p := range c {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Tracked returns the ids of proposals that are not terminal yet, in ascending order.
func (r *Registry) Tracked(ctx context.Context) ([]uint32, error) {
	var ids []uint32
	err := r.doc.View(func(c cache) error {
		for id, p := range c {
			if !p.Status.Terminal() {
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortIDs(ids)
	return ids, nil
}

// Pending returns proposals still waiting for a thread that are in the active set.
func (r *Registry) Pending(ctx context.Context, active map[uint32]struct{}) ([]gov.Proposal, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []gov.Proposal
	for _, p := range all {
		if _, live := active[p.ID]; live && p.Status == gov.StatusNew {
			out = append(out, p)
		}
	}
	return out, nil
}

// Close waits for in-flight writes and rejects new ones.
func (r *Registry) Close() error {
	return r.doc.Close()
}

// ageDays counts the full days elapsed since then.
func ageDays(now, then time.Time) int {
	return int(now.Sub(then) / (24 * time.Hour))
}

func sortIDs(ids []uint32) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
