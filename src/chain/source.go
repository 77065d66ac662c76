// Package chain supplies the set of currently active governance proposals.
package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/stake-plus/govtally/src/shared/gov"
)

// Source reports the proposals that are live on chain. Implementations must be
// safe to call repeatedly; an error means "no data this cycle", never "nothing is active".
//
// tracked lists the ids the caller still treats as live. A source that only
// scans part of the chain must inspect every tracked id as well, so that an id
// missing from the result really has left the active set.
type Source interface {
	ActiveProposals(ctx context.Context, tracked []uint32) (map[uint32]Metadata, error)
	ProposalDetails(ctx context.Context, id uint32) (Metadata, error)
	Ping(ctx context.Context) error
	// Close releases any held connection. The source reconnects on next use.
	Close() error
}

// Onchain locates the proposal on chain.
type Onchain struct {
	BlockNumber     uint32 `json:"block_number"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	ProposalHash    string `json:"proposal_hash,omitempty"`
}

// Metadata describes one active proposal.
type Metadata struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Track       string  `json:"track,omitempty"`
	Origin      string  `json:"origin,omitempty"`
	Proposer    string  `json:"proposer,omitempty"`
	Onchain     Onchain `json:"onchain"`
}

// Validate checks the fields every consumer relies on.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("metadata: missing title: %w", gov.ErrValidation)
	}
	return nil
}

// AsMap flattens metadata into the opaque bag stored on a proposal.
func (m Metadata) AsMap() map[string]string {
	out := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("description", m.Description)
	put("track", m.Track)
	put("origin", m.Origin)
	put("proposer", m.Proposer)
	if m.Onchain.BlockNumber > 0 {
		out["block_number"] = strconv.FormatUint(uint64(m.Onchain.BlockNumber), 10)
	}
	put("transaction_hash", m.Onchain.TransactionHash)
	put("proposal_hash", m.Onchain.ProposalHash)
	return out
}

// IDs returns the key set of an active-proposal map.
func IDs(active map[uint32]Metadata) map[uint32]struct{} {
	ids := make(map[uint32]struct{}, len(active))
	for id := range active {
		ids[id] = struct{}{}
	}
	return ids
}
