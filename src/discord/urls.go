package discord

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/stake-plus/govtally/src/shared/gov"
)

var urlRegex = regexp.MustCompile(`<?https?://[^\s\[\]()<>]+>?`)

// WrapURLsNoEmbed wraps URLs in angle brackets to prevent Discord embeds.
func WrapURLsNoEmbed(text string) string {
	return urlRegex.ReplaceAllStringFunc(text, func(u string) string {
		if strings.HasPrefix(u, "<") && strings.HasSuffix(u, ">") {
			return u
		}
		u = strings.TrimPrefix(u, "<")
		trimmed := strings.TrimRight(u, ".,;:!?)")
		return fmt.Sprintf("<%s>%s", trimmed, u[len(trimmed):])
	})
}

// ProposalLink is an external page for a referendum.
type ProposalLink struct {
	Label string
	Emoji string
	URL   string
}

var rpcEndpoints = map[string]string{
	"polkadot": "wss://rpc.polkadot.io",
	"kusama":   "wss://kusama-rpc.polkadot.io",
}

// ProposalLinks returns explorer links for a referendum. Only polkadot and
// kusama have public explorers.
func ProposalLinks(network string, id uint32) []ProposalLink {
	network = strings.ToLower(strings.TrimSpace(network))
	rpc, ok := rpcEndpoints[network]
	if !ok {
		return nil
	}
	return []ProposalLink{
		{Label: "Polkassembly", Emoji: "🗳️", URL: fmt.Sprintf("https://%s.polkassembly.io/referenda/%d", network, id)},
		{Label: "Polkadot.js", Emoji: "⚙️", URL: fmt.Sprintf("https://polkadot.js.org/apps/?rpc=%s#/referenda/%d", url.QueryEscape(rpc), id)},
		{Label: "Subsquare", Emoji: "📊", URL: fmt.Sprintf("https://%s.subsquare.io/referenda/%d", network, id)},
	}
}

func linkButtons(network string, id uint32) []discordgo.MessageComponent {
	links := ProposalLinks(network, id)
	if len(links) == 0 {
		return nil
	}
	buttons := make([]discordgo.MessageComponent, 0, len(links))
	for _, l := range links {
		buttons = append(buttons, discordgo.Button{
			Label: l.Label,
			Style: discordgo.LinkButton,
			URL:   l.URL,
			Emoji: &discordgo.ComponentEmoji{Name: l.Emoji},
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

const votePrefix = "vote:"

func voteButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "AYE", Style: discordgo.SuccessButton, CustomID: votePrefix + string(gov.ChoiceAye), Emoji: &discordgo.ComponentEmoji{Name: "👍"}},
		discordgo.Button{Label: "NAY", Style: discordgo.DangerButton, CustomID: votePrefix + string(gov.ChoiceNay), Emoji: &discordgo.ComponentEmoji{Name: "👎"}},
		discordgo.Button{Label: "RECUSE", Style: discordgo.SecondaryButton, CustomID: votePrefix + string(gov.ChoiceRecuse), Emoji: &discordgo.ComponentEmoji{Name: "⚪"}},
	}}}
}

// parseVoteID extracts the raw choice from a vote button custom id.
func parseVoteID(customID string) (string, bool) {
	if !strings.HasPrefix(customID, votePrefix) {
		return "", false
	}
	return strings.TrimPrefix(customID, votePrefix), true
}
