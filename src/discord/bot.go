// Package discord presents proposals as forum threads and takes member votes
// through message buttons.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const interactionTimeout = 10 * time.Second

// Bot owns the gateway session and the presenter bound to it.
type Bot struct {
	session   *discordgo.Session
	presenter *Presenter
	guildID   string
	log       *zap.Logger
}

// New prepares a session for token. Nothing connects until Start.
func New(token string, cfg Config, votes Votes, log *zap.Logger) (*Bot, error) {
	if token == "" {
		return nil, errors.New("discord: token is required")
	}
	if cfg.ForumChannelID == "" {
		return nil, errors.New("discord: forum channel is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{
		session:   session,
		presenter: newPresenter(session, cfg, votes, log),
		guildID:   cfg.GuildID,
		log:       log.Named("discord"),
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteractionCreate)
	return b, nil
}

// Presenter returns the thread presenter used by the reconciliation cycle.
func (b *Bot) Presenter() *Presenter { return b.presenter }

// Name implements core.Module.
func (b *Bot) Name() string { return "discord" }

// Start opens the gateway connection.
func (b *Bot) Start(context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop(context.Context) {
	if err := b.session.Close(); err != nil {
		b.log.Warn("failed to close session", zap.Error(err))
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("discord session ready", zap.String("user", r.User.Username))
	if err := RegisterSlashCommands(s, r.User.ID, b.guildID, b.log); err != nil {
		b.log.Warn("slash commands not registered", zap.Error(err))
	}
}

func (b *Bot) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID != "" && b.guildID != "" && i.GuildID != b.guildID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()
	b.presenter.handleInteraction(ctx, i.Interaction)
}
