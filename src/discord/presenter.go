package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/stake-plus/govtally/src/chain"
	"github.com/stake-plus/govtally/src/shared/gov"
	"go.uber.org/zap"
)

// threadArchiveMinutes keeps idle proposal threads open for a week.
const threadArchiveMinutes = 10080

// session is the part of *discordgo.Session the presenter uses.
type session interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessagePin(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessagesPinned(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ForumThreadStartComplex(channelID string, threadData *discordgo.ThreadStart, messageData *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Votes accepts member votes and exposes live tallies.
type Votes interface {
	Cast(ctx context.Context, channel, threadID, userID, rawChoice string) (gov.Counts, error)
	Record(ctx context.Context, threadID string) (*gov.VoteRecord, error)
}

// Config configures the forum presenter.
type Config struct {
	GuildID        string
	ForumChannelID string
	VoterRole      string
	AdminRole      string
	NotifyRole     string
	Network        string
	TitleMaxLength int
	BodyMaxLength  int
	ReadOnly       bool
}

// Presenter opens one forum thread per proposal and takes votes through buttons.
type Presenter struct {
	s     session
	cfg   Config
	votes Votes
	log   *zap.Logger

	mu      sync.Mutex
	results map[string]string // thread id -> results message id
	tags    map[string]string // tag name -> tag id
}

func newPresenter(s session, cfg Config, votes Votes, log *zap.Logger) *Presenter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Presenter{
		s:       s,
		cfg:     cfg,
		votes:   votes,
		log:     log.Named("discord"),
		results: map[string]string{},
		tags:    map[string]string{},
	}
}

// OpenThread starts the forum thread, posts the results line and pins both.
func (p *Presenter) OpenThread(ctx context.Context, id uint32, meta chain.Metadata) (string, error) {
	opt := discordgo.WithContext(ctx)

	starter := &discordgo.MessageSend{Content: proposalBody(meta, p.cfg.BodyMaxLength)}
	if !p.cfg.ReadOnly {
		starter.Components = voteButtons()
	}
	start := &discordgo.ThreadStart{
		Name:                ThreadName(id, meta.Title, p.cfg.TitleMaxLength),
		AutoArchiveDuration: threadArchiveMinutes,
	}
	if tagID := p.tagFor(ctx, meta.Origin); tagID != "" {
		start.AppliedTags = []string{tagID}
	}

	thread, err := p.s.ForumThreadStartComplex(p.cfg.ForumChannelID, start, starter, opt)
	if err != nil {
		return "", fmt.Errorf("create thread for proposal %d: %w", id, err)
	}
	log := p.log.With(zap.Uint32("proposal_id", id), zap.String("thread_id", thread.ID))

	content := ResultsMessage(gov.NewCounts())
	if p.cfg.ReadOnly {
		content = readOnlyResults
	}
	results, err := p.s.ChannelMessageSendComplex(thread.ID, &discordgo.MessageSend{
		Content:    content,
		Components: linkButtons(p.cfg.Network, id),
	}, opt)
	if err != nil {
		log.Error("failed to post results message", zap.Error(err))
		return thread.ID, nil
	}
	p.mu.Lock()
	p.results[thread.ID] = results.ID
	p.mu.Unlock()

	// The starter message of a forum thread shares the thread id.
	for _, msgID := range []string{thread.ID, results.ID} {
		if err := p.s.ChannelMessagePin(thread.ID, msgID, opt); err != nil {
			log.Warn("failed to pin message", zap.String("message_id", msgID), zap.Error(err))
		}
	}

	if p.cfg.NotifyRole != "" {
		msg := &discordgo.MessageSend{
			Content:         instructionsMessage(p.cfg.NotifyRole, p.cfg.ReadOnly),
			AllowedMentions: &discordgo.MessageAllowedMentions{Roles: []string{p.cfg.NotifyRole}},
		}
		if _, err := p.s.ChannelMessageSendComplex(thread.ID, msg, opt); err != nil {
			log.Warn("failed to post instructions", zap.Error(err))
		}
	}

	log.Info("proposal thread created", zap.String("name", start.Name))
	return thread.ID, nil
}

// CloseThreads locks and archives each thread.
func (p *Presenter) CloseThreads(ctx context.Context, threadIDs []string) error {
	locked, archived := true, true
	var errs []error
	for _, id := range threadIDs {
		_, err := p.s.ChannelEdit(id, &discordgo.ChannelEdit{Locked: &locked, Archived: &archived}, discordgo.WithContext(ctx))
		if err != nil {
			errs = append(errs, fmt.Errorf("lock thread %s: %w", id, err))
			continue
		}
		p.mu.Lock()
		delete(p.results, id)
		p.mu.Unlock()
		p.log.Info("thread locked", zap.String("thread_id", id))
	}
	return errors.Join(errs...)
}

// RefreshTally rewrites the results line of a thread.
func (p *Presenter) RefreshTally(ctx context.Context, threadID string, rec *gov.VoteRecord) error {
	if p.cfg.ReadOnly || rec == nil {
		return nil
	}
	return p.updateResults(ctx, threadID, rec.Counts)
}

func (p *Presenter) updateResults(ctx context.Context, threadID string, counts gov.Counts) error {
	msgID, err := p.resultsMessage(ctx, threadID)
	if err != nil {
		return err
	}
	content := ResultsMessage(counts)
	_, err = p.s.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:      msgID,
		Channel: threadID,
		Content: &content,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("edit results of %s: %w", threadID, err)
	}
	return nil
}

// resultsMessage finds the results line, falling back to the pinned messages
// after a restart.
func (p *Presenter) resultsMessage(ctx context.Context, threadID string) (string, error) {
	p.mu.Lock()
	id, ok := p.results[threadID]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	pinned, err := p.s.ChannelMessagesPinned(threadID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("list pins of %s: %w", threadID, err)
	}
	for _, m := range pinned {
		if m != nil && isResultsMessage(m.Content) {
			p.mu.Lock()
			p.results[threadID] = m.ID
			p.mu.Unlock()
			return m.ID, nil
		}
	}
	return "", fmt.Errorf("results message of %s: %w", threadID, gov.ErrNotFound)
}

// tagFor returns the forum tag id for an origin, creating the tag when missing.
// Failures only cost the tag.
func (p *Presenter) tagFor(ctx context.Context, origin string) string {
	name := tagName(origin)
	p.mu.Lock()
	id, ok := p.tags[name]
	p.mu.Unlock()
	if ok {
		return id
	}

	opt := discordgo.WithContext(ctx)
	forum, err := p.s.Channel(p.cfg.ForumChannelID, opt)
	if err != nil {
		p.log.Warn("failed to read forum tags", zap.Error(err))
		return ""
	}
	if id := p.rememberTags(forum.AvailableTags, name); id != "" {
		return id
	}

	tags := append(append([]discordgo.ForumTag(nil), forum.AvailableTags...), discordgo.ForumTag{Name: name})
	updated, err := p.s.ChannelEdit(p.cfg.ForumChannelID, &discordgo.ChannelEdit{AvailableTags: &tags}, opt)
	if err != nil {
		p.log.Warn("failed to create forum tag", zap.String("tag", name), zap.Error(err))
		return ""
	}
	p.log.Info("forum tag created", zap.String("tag", name))
	return p.rememberTags(updated.AvailableTags, name)
}

func (p *Presenter) rememberTags(tags []discordgo.ForumTag, want string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	found := ""
	for _, t := range tags {
		p.tags[t.Name] = t.ID
		if strings.EqualFold(t.Name, want) {
			found = t.ID
		}
	}
	return found
}

// handleInteraction routes vote buttons and the tally command.
func (p *Presenter) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		raw, ok := parseVoteID(i.MessageComponentData().CustomID)
		if !ok {
			return
		}
		p.handleVote(ctx, i, raw)
	case discordgo.InteractionApplicationCommand:
		if i.ApplicationCommandData().Name == CommandTally {
			p.handleTally(ctx, i)
		}
	}
}

func (p *Presenter) handleVote(ctx context.Context, i *discordgo.Interaction, raw string) {
	if i.Member == nil || i.Member.User == nil {
		p.respond(ctx, i, "Votes are only accepted inside the server.")
		return
	}
	if !p.canVote(ctx, i.Member) {
		p.respond(ctx, i, "You don't have permission to vote on this proposal.")
		return
	}

	counts, err := p.votes.Cast(ctx, "discord", i.ChannelID, i.Member.User.ID, raw)
	choice := gov.Choice(strings.ToLower(strings.TrimSpace(raw)))
	if err == nil {
		if uErr := p.updateResults(ctx, i.ChannelID, counts); uErr != nil {
			p.log.Warn("failed to update results", zap.String("thread_id", i.ChannelID), zap.Error(uErr))
		}
	}
	p.respond(ctx, i, voteReply(err, choice))
}

func (p *Presenter) handleTally(ctx context.Context, i *discordgo.Interaction) {
	rec, err := p.votes.Record(ctx, i.ChannelID)
	if err != nil {
		p.respond(ctx, i, "This channel is not an active proposal thread.")
		return
	}
	p.respond(ctx, i, ResultsMessage(rec.Counts))
}

func (p *Presenter) canVote(ctx context.Context, member *discordgo.Member) bool {
	var roles []*discordgo.Role
	if needsRoleNames(member, p.cfg.AdminRole, p.cfg.VoterRole) {
		var err error
		roles, err = p.s.GuildRoles(p.cfg.GuildID, discordgo.WithContext(ctx))
		if err != nil {
			p.log.Warn("failed to load guild roles", zap.Error(err))
		}
	}
	return CanVote(member, roles, p.cfg.AdminRole, p.cfg.VoterRole)
}

func (p *Presenter) respond(ctx context.Context, i *discordgo.Interaction, content string) {
	err := p.s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		p.log.Warn("failed to respond to interaction", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}
