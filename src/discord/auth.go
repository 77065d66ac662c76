package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// HasRole reports whether member holds role, given as a role id or a role name.
// Names are resolved through guildRoles. An empty role matches nobody.
func HasRole(member *discordgo.Member, guildRoles []*discordgo.Role, role string) bool {
	role = strings.TrimSpace(role)
	if member == nil || role == "" {
		return false
	}
	for _, id := range member.Roles {
		if id == role {
			return true
		}
		for _, r := range guildRoles {
			if r != nil && r.ID == id && strings.EqualFold(r.Name, role) {
				return true
			}
		}
	}
	return false
}

// CanVote grants administrators, holders of adminRole and holders of voterRole.
// An empty voterRole lets every member vote.
func CanVote(member *discordgo.Member, guildRoles []*discordgo.Role, adminRole, voterRole string) bool {
	if member == nil {
		return false
	}
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	if strings.TrimSpace(voterRole) == "" {
		return true
	}
	return HasRole(member, guildRoles, adminRole) || HasRole(member, guildRoles, voterRole)
}

// needsRoleNames reports whether CanVote could depend on role names, which
// costs a guild roles lookup.
func needsRoleNames(member *discordgo.Member, adminRole, voterRole string) bool {
	if member == nil || member.Permissions&discordgo.PermissionAdministrator != 0 || strings.TrimSpace(voterRole) == "" {
		return false
	}
	return !HasRole(member, nil, adminRole) && !HasRole(member, nil, voterRole)
}
