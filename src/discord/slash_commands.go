package discord

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// CommandTally shows the live tally of the thread it is used in.
const CommandTally = "tally"

type commandRegistrar interface {
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

func slashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{{
		Name:        CommandTally,
		Description: "Show the current vote tally of this proposal thread",
	}}
}

// RegisterSlashCommands replaces the guild's commands with the bot's set, so a
// restart never leaves duplicates or stale commands behind.
func RegisterSlashCommands(s commandRegistrar, appID, guildID string, log *zap.Logger) error {
	if guildID == "" {
		return errors.New("discord: guild id is required to register slash commands")
	}
	if appID == "" {
		return errors.New("discord: application id is required to register slash commands")
	}
	if log == nil {
		log = zap.NewNop()
	}

	registered, err := s.ApplicationCommandBulkOverwrite(appID, guildID, slashCommands())
	if err != nil {
		return fmt.Errorf("discord: register slash commands: %w", err)
	}
	for _, cmd := range registered {
		log.Debug("slash command registered", zap.String("command", cmd.Name), zap.String("command_id", cmd.ID))
	}
	return nil
}
