package webserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/govtally/src/shared/gov"
	"go.uber.org/zap"
)

// Ballot casts member votes and reads live tallies.
type Ballot interface {
	Cast(ctx context.Context, channel, threadID, userID, rawChoice string) (gov.Counts, error)
	Record(ctx context.Context, threadID string) (*gov.VoteRecord, error)
}

// Archive reads retired tallies.
type Archive interface {
	Archived(ctx context.Context, threadID string) (gov.ArchiveEntry, error)
}

type Votes struct {
	ballot  Ballot
	archive Archive
	log     *zap.Logger
}

func NewVotes(ballot Ballot, archive Archive, log *zap.Logger) Votes {
	return Votes{ballot: ballot, archive: archive, log: log}
}

type tallyResponse struct {
	ThreadID      string     `json:"threadId"`
	ProposalIndex uint32     `json:"proposalIndex"`
	Title         string     `json:"title,omitempty"`
	Counts        gov.Counts `json:"counts"`
	Voters        int        `json:"voters"`
	Status        string     `json:"status"`
}

func (v Votes) Cast(c *gin.Context) {
	var req struct {
		ThreadID string `json:"threadId" binding:"required"`
		Choice   string `json:"choice"   binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	counts, err := v.ballot.Cast(c.Request.Context(), "api", req.ThreadID, c.GetString(ctxVoter), req.Choice)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			v.log.Error("vote failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
			c.JSON(status, gin.H{"err": "failed to record vote"})
			return
		}
		c.JSON(status, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"threadId": req.ThreadID, "counts": counts})
}

// Summary serves the live tally and falls back to the archive once a thread retired.
func (v Votes) Summary(c *gin.Context) {
	threadID := c.Param("thread")
	rec, err := v.ballot.Record(c.Request.Context(), threadID)
	if err == nil {
		c.JSON(http.StatusOK, tallyResponse{
			ThreadID:      threadID,
			ProposalIndex: rec.ProposalIndex,
			Title:         rec.Title,
			Counts:        rec.Counts,
			Voters:        len(rec.Users),
			Status:        string(gov.StatusActive),
		})
		return
	}
	if !errors.Is(err, gov.ErrNotFound) || v.archive == nil {
		c.JSON(statusFor(err), gin.H{"err": err.Error()})
		return
	}

	entry, err := v.archive.Archived(c.Request.Context(), threadID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tallyResponse{
		ThreadID:      threadID,
		ProposalIndex: entry.ProposalIndex,
		Title:         entry.Title,
		Counts:        entry.Counts,
		Voters:        len(entry.Users),
		Status:        string(entry.FinalStatus),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gov.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, gov.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, gov.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
