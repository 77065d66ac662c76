package discord

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/stake-plus/govtally/src/chain"
	"github.com/stake-plus/govtally/src/shared/gov"
)

const (
	MaxDiscordMessageLen = 2000
	maxThreadNameLen     = 100
	maxTagNameLen        = 20
)

const (
	readOnlyResults = "View proposal details using the links below."
	bodyFallback    = "Proposal details"
)

// ThreadName renders "#<id> <title>" with the title cut to maxTitle runes.
func ThreadName(id uint32, title string, maxTitle int) string {
	title = strings.TrimSpace(title)
	if maxTitle > 0 {
		title = strings.TrimSpace(truncateRunes(title, maxTitle))
	}
	if title == "" {
		title = fmt.Sprintf("Proposal #%d", id)
	}
	return truncateRunes(fmt.Sprintf("#%d %s", id, title), maxThreadNameLen)
}

// TruncateBody cuts body to limit runes, ending with "..." when shortened.
func TruncateBody(body string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(body) <= limit {
		return body
	}
	if limit <= 3 {
		return truncateRunes(body, limit)
	}
	return truncateRunes(body, limit-3) + "..."
}

// ResultsMessage is the pinned tally line of a thread.
func ResultsMessage(c gov.Counts) string {
	return fmt.Sprintf("👍 AYE: %d    |    👎 NAY: %d    |    ⛔️ RECUSE: %d",
		c[gov.ChoiceAye], c[gov.ChoiceNay], c[gov.ChoiceRecuse])
}

func isResultsMessage(content string) bool {
	return strings.Contains(content, "AYE:") && strings.Contains(content, "NAY:")
}

// proposalBody is the starter message of a proposal thread.
func proposalBody(meta chain.Metadata, limit int) string {
	body := strings.TrimSpace(meta.Description)
	if body == "" {
		body = bodyFallback
	}
	var extra []string
	if meta.Track != "" {
		extra = append(extra, "**Track:** "+meta.Track)
	}
	if meta.Proposer != "" {
		extra = append(extra, "**Proposer:** "+meta.Proposer)
	}
	if len(extra) > 0 {
		body = strings.Join(extra, "\n") + "\n\n" + body
	}
	if limit <= 0 || limit > MaxDiscordMessageLen {
		limit = MaxDiscordMessageLen
	}
	return TruncateBody(WrapURLsNoEmbed(body), limit)
}

func instructionsMessage(roleID string, readOnly bool) string {
	mention := ""
	if roleID != "" {
		mention = fmt.Sprintf("||<@&%s>||\n", roleID)
	}
	if readOnly {
		return mention + "**ANNOUNCEMENT:**\nA new proposal has been created."
	}
	return mention + "**INSTRUCTIONS:**\n" +
		"- Vote **AYE** if you want to see this proposal pass\n" +
		"- Vote **NAY** if you want to see this proposal fail\n" +
		"- Vote **RECUSE** if you have a conflict of interest"
}

func voteReply(err error, choice gov.Choice) string {
	switch {
	case err == nil:
		return fmt.Sprintf("Your %s vote has been recorded!", strings.ToUpper(string(choice)))
	case errors.Is(err, gov.ErrReadOnly):
		return "Voting is disabled for this proposal."
	case errors.Is(err, gov.ErrNotFound):
		return "This voting thread is no longer active."
	case errors.Is(err, gov.ErrValidation):
		return "Unknown vote option."
	default:
		return "An error occurred while processing your vote."
	}
}

func tagName(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		origin = "Unknown"
	}
	return truncateRunes(origin, maxTagNameLen)
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
