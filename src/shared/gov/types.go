package gov

import (
	"fmt"
	"strings"
	"time"
)

// Choice is a vote option offered to DAO members.
type Choice string

const (
	ChoiceAye    Choice = "aye"
	ChoiceNay    Choice = "nay"
	ChoiceRecuse Choice = "recuse"
)

// Choices lists the valid vote options in display order.
var Choices = []Choice{ChoiceAye, ChoiceNay, ChoiceRecuse}

// ParseChoice normalises user input into a Choice.
func ParseChoice(raw string) (Choice, error) {
	c := Choice(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown choice %q", ErrValidation, raw)
	}
	return c, nil
}

// Valid reports whether c is one of aye, nay or recuse.
func (c Choice) Valid() bool {
	switch c {
	case ChoiceAye, ChoiceNay, ChoiceRecuse:
		return true
	}
	return false
}

// Counts holds the per-choice tally of a thread.
type Counts map[Choice]int

// NewCounts returns a tally with every choice present and zeroed.
func NewCounts() Counts {
	return Counts{ChoiceAye: 0, ChoiceNay: 0, ChoiceRecuse: 0}
}

// Total is the number of votes across all choices.
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Clone copies the tally.
func (c Counts) Clone() Counts {
	out := NewCounts()
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Status is the lifecycle state of a registry entry.
type Status string

const (
	StatusNew       Status = "new"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the status is completed or expired.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusActive, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// Proposal is a registry entry for a referendum seen on chain.
type Proposal struct {
	ID           uint32            `json:"id"`
	Title        string            `json:"title"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	UpdatedAt    *time.Time        `json:"updated_at,omitempty"`
	Status       Status            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// VoteRecord is the live tally of a single proposal thread.
type VoteRecord struct {
	ProposalIndex uint32            `json:"proposal_index"`
	Title         string            `json:"title,omitempty"`
	Origin        string            `json:"origin,omitempty"`
	Counts        Counts            `json:"counts"`
	Users         map[string]Choice `json:"users"`
	CreatedAt     time.Time         `json:"created_at"`
	Epoch         int64             `json:"epoch"`
}

// Clone returns a deep copy so callers never share maps with a stored document.
func (r *VoteRecord) Clone() *VoteRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Counts = r.Counts.Clone()
	out.Users = make(map[string]Choice, len(r.Users))
	for u, c := range r.Users {
		out.Users[u] = c
	}
	return &out
}

// ArchiveEntry is a retired VoteRecord. Entries are never modified after creation.
type ArchiveEntry struct {
	VoteRecord
	ArchivedAt  time.Time `json:"archived_at"`
	FinalStatus Status    `json:"final_status"`
}

// Decision is the outcome of the autonomous voting job.
type Decision string

const (
	DecisionAye     Decision = "aye"
	DecisionNay     Decision = "nay"
	DecisionAbstain Decision = "abstain"
)

// VoteDecision records the DAO position taken for a proposal.
type VoteDecision struct {
	ProposalIndex uint32    `json:"proposal_index"`
	ThreadID      string    `json:"thread_id"`
	Decision      Decision  `json:"decision"`
	Counts        Counts    `json:"counts"`
	DecidedAt     time.Time `json:"decided_at"`
}

// Setting represents a configuration setting stored in the database
type Setting struct {
	ID     uint8  `gorm:"primaryKey"`
	Name   string `gorm:"size:32;not null"`
	Value  string `gorm:"type:text;not null"`
	Active uint8  `gorm:"not null"`
}
