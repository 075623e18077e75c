package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmorn/m4d-automod/sdk/bot"
	"github.com/dmorn/m4d-automod/sdk/discord"
	"github.com/dmorn/m4d-automod/sdk/store"
)

const (
	CmdVerify      bot.CommandID = "verify"
	CmdSyncRoles   bot.CommandID = "sync-roles"
	CmdBlacklist   bot.CommandID = "blacklist"
	CmdGetUUID     bot.CommandID = "get_uuid"
	CmdPunishments bot.CommandID = "punishments"
	CmdGuildApply  bot.CommandID = "guild_apply"
)

// AllCommands is the closed set of slash commands, in publication order.
var AllCommands = []bot.CommandID{
	CmdVerify,
	CmdSyncRoles,
	CmdBlacklist,
	CmdGetUUID,
	CmdPunishments,
	CmdGuildApply,
}

func ptr[T any](v T) *T { return &v }

var usernameOption = bot.CommandOption{
	Type:        bot.OptionString,
	Name:        "username",
	Description: "Minecraft username",
	Required:    true,
	MinLength:   ptr(3),
	MaxLength:   ptr(16),
}

// commandSet holds what the handlers need besides the datastore.
//
// Every handler defers before touching Mojang or the datastore, since those
// can outlast the three seconds allowed for the first answer. Visibility is
// fixed when deferring: a miss on get_uuid or blacklist add/remove is public.
type commandSet struct {
	profiles ProfileLookup
}

func newCommandSet(profiles ProfileLookup) *commandSet {
	return &commandSet{profiles: profiles}
}

func (c *commandSet) Commands() []bot.Command {
	return []bot.Command{
		{
			ID:          CmdVerify,
			Description: "Link your Discord account to your Minecraft account",
			Options:     []bot.CommandOption{usernameOption},
			Handler:     bot.HandlerFunc(c.verify),
		},
		{
			ID:          CmdSyncRoles,
			Description: "Refresh your linked Minecraft account",
			Handler:     bot.HandlerFunc(c.syncRoles),
		},
		{
			ID:          CmdBlacklist,
			Description: "Manage the guild blacklist",
			Options: []bot.CommandOption{
				{
					Type:        bot.OptionString,
					Name:        "action",
					Description: "What to do",
					Required:    true,
					Choices: []bot.Choice{
						{Name: "add", Value: "add"},
						{Name: "remove", Value: "remove"},
						{Name: "check", Value: "check"},
					},
				},
				usernameOption,
				{
					Type:        bot.OptionString,
					Name:        "reason",
					Description: "Why the player is blacklisted",
					MaxLength:   ptr(500),
				},
			},
			Handler: bot.HandlerFunc(c.blacklist),
		},
		{
			ID:          CmdGetUUID,
			Description: "Look up the UUID of a Minecraft account",
			Options:     []bot.CommandOption{usernameOption},
			Handler:     bot.HandlerFunc(c.getUUID),
		},
		{
			ID:          CmdPunishments,
			Description: "List recent punishments of a member",
			Options: []bot.CommandOption{
				{
					Type:        bot.OptionUser,
					Name:        "user",
					Description: "Member to look up (default: you)",
				},
				{
					Type:        bot.OptionInteger,
					Name:        "limit",
					Description: "How many entries to show",
					MinValue:    ptr(1.0),
					MaxValue:    ptr(25.0),
				},
			},
			Handler: bot.HandlerFunc(c.punishments),
		},
		{
			ID:          CmdGuildApply,
			Description: "Apply to join the guild",
			Options: []bot.CommandOption{
				usernameOption,
				{
					Type:        bot.OptionString,
					Name:        "reason",
					Description: "Tell us about yourself",
					Required:    true,
					MinLength:   ptr(10),
					MaxLength:   ptr(1000),
				},
			},
			Handler: bot.HandlerFunc(c.guildApply),
		},
	}
}

// lookupProfile answers the user itself when the account does not exist and
// returns (nil, nil) in that case.
func (c *commandSet) lookupProfile(ctx context.Context, in *bot.Interaction, name string) (*Profile, error) {
	p, err := c.profiles.ProfileByName(ctx, name)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, in.RespondEphemeral(ctx, fmt.Sprintf("No Minecraft account named %s.", discord.EscapeMarkdown(name)))
	}
	if err != nil {
		return nil, fmt.Errorf("lookup profile %q: %w", name, err)
	}
	return p, nil
}

func (c *commandSet) verify(ctx context.Context, in *bot.Interaction, st store.Store) error {
	if err := in.Defer(ctx, true); err != nil {
		return err
	}
	p, err := c.lookupProfile(ctx, in, in.StringOption("username"))
	if p == nil {
		return err
	}
	if err := st.UpsertVerification(ctx, store.Verification{
		DiscordID: in.User.ID,
		Username:  p.Name,
		UUID:      p.ID,
	}); err != nil {
		return fmt.Errorf("save verification: %w", err)
	}
	return in.RespondEphemeral(ctx, fmt.Sprintf("Verified as **%s** (`%s`).", discord.EscapeMarkdown(p.Name), p.ID))
}

func (c *commandSet) syncRoles(ctx context.Context, in *bot.Interaction, st store.Store) error {
	if err := in.Defer(ctx, true); err != nil {
		return err
	}
	v, err := st.GetVerification(ctx, in.User.ID)
	if errors.Is(err, store.ErrNotFound) {
		return in.RespondEphemeral(ctx, "You are not verified yet. Use /verify first.")
	}
	if err != nil {
		return fmt.Errorf("load verification: %w", err)
	}

	p, err := c.profiles.ProfileByUUID(ctx, v.UUID)
	if errors.Is(err, ErrProfileNotFound) {
		return in.RespondEphemeral(ctx, "Your linked Minecraft account no longer exists. Use /verify again.")
	}
	if err != nil {
		return fmt.Errorf("lookup profile %s: %w", v.UUID, err)
	}
	if p.Name == v.Username {
		return in.RespondEphemeral(ctx, fmt.Sprintf("Already up to date as **%s**.", discord.EscapeMarkdown(p.Name)))
	}

	if err := st.UpsertVerification(ctx, store.Verification{
		DiscordID: in.User.ID,
		Username:  p.Name,
		UUID:      p.ID,
	}); err != nil {
		return fmt.Errorf("save verification: %w", err)
	}
	return in.RespondEphemeral(ctx, fmt.Sprintf("Updated **%s** → **%s**.",
		discord.EscapeMarkdown(v.Username), discord.EscapeMarkdown(p.Name)))
}

func (c *commandSet) blacklist(ctx context.Context, in *bot.Interaction, st store.Store) error {
	action := in.StringOption("action")
	if err := in.Defer(ctx, action == "check"); err != nil {
		return err
	}
	p, err := c.lookupProfile(ctx, in, in.StringOption("username"))
	if p == nil {
		return err
	}
	name := discord.EscapeMarkdown(p.Name)

	switch action {
	case "add":
		reason := strings.TrimSpace(in.StringOption("reason"))
		if reason == "" {
			reason = "no reason given"
		}
		if err := st.AddBlacklist(ctx, store.BlacklistEntry{
			UUID:     p.ID,
			Username: p.Name,
			Reason:   reason,
			AddedBy:  in.User.ID,
		}); err != nil {
			return fmt.Errorf("add blacklist: %w", err)
		}
		return in.Respond(ctx, fmt.Sprintf("**%s** is now blacklisted: %s", name, discord.EscapeMarkdown(reason)))
	case "remove":
		removed, err := st.RemoveBlacklist(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("remove blacklist: %w", err)
		}
		if !removed {
			return in.RespondEphemeral(ctx, fmt.Sprintf("**%s** is not blacklisted.", name))
		}
		return in.Respond(ctx, fmt.Sprintf("**%s** was removed from the blacklist.", name))
	case "check":
		e, err := st.GetBlacklist(ctx, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			return in.RespondEphemeral(ctx, fmt.Sprintf("**%s** is not blacklisted.", name))
		}
		if err != nil {
			return fmt.Errorf("get blacklist: %w", err)
		}
		return in.RespondEphemeral(ctx, fmt.Sprintf("**%s** is blacklisted since %s by %s: %s",
			name, e.CreatedAt.UTC().Format("2006-01-02"), discord.Mention(e.AddedBy), discord.EscapeMarkdown(e.Reason)))
	default:
		return fmt.Errorf("blacklist: unexpected action %q", action)
	}
}

func (c *commandSet) getUUID(ctx context.Context, in *bot.Interaction, _ store.Store) error {
	if err := in.Defer(ctx, false); err != nil {
		return err
	}
	p, err := c.lookupProfile(ctx, in, in.StringOption("username"))
	if p == nil {
		return err
	}
	return in.Respond(ctx, fmt.Sprintf("**%s**: `%s`", discord.EscapeMarkdown(p.Name), p.ID))
}

func (c *commandSet) punishments(ctx context.Context, in *bot.Interaction, st store.Store) error {
	if err := in.Defer(ctx, true); err != nil {
		return err
	}
	target := in.StringOption("user")
	if target == "" {
		target = in.User.ID
	}
	limit := 10
	if n, ok := in.IntOption("limit"); ok {
		limit = int(n)
	}

	list, err := st.ListPunishments(ctx, target, limit)
	if err != nil {
		return fmt.Errorf("list punishments: %w", err)
	}
	if len(list) == 0 {
		return in.RespondEphemeral(ctx, fmt.Sprintf("%s has no punishments.", discord.Mention(target)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Punishments for %s:\n", discord.Mention(target))
	for _, p := range list {
		fmt.Fprintf(&b, "• #%d %s %s by %s: %s\n",
			p.ID, p.CreatedAt.UTC().Format("2006-01-02"), p.Kind, issuer(p.IssuedBy), discord.EscapeMarkdown(p.Reason))
	}
	return in.RespondEphemeral(ctx, strings.TrimRight(b.String(), "\n"))
}

func issuer(id string) string {
	if id == "" || !isSnowflake(id) {
		return id
	}
	return discord.Mention(id)
}

func isSnowflake(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (c *commandSet) guildApply(ctx context.Context, in *bot.Interaction, st store.Store) error {
	if err := in.Defer(ctx, true); err != nil {
		return err
	}
	p, err := c.lookupProfile(ctx, in, in.StringOption("username"))
	if p == nil {
		return err
	}

	_, err = st.GetBlacklist(ctx, p.ID)
	switch {
	case err == nil:
		return in.RespondEphemeral(ctx, "This account is not eligible to apply.")
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("check blacklist: %w", err)
	}

	id, err := st.InsertApplication(ctx, store.Application{
		DiscordID: in.User.ID,
		Username:  p.Name,
		UUID:      p.ID,
		Reason:    strings.TrimSpace(in.StringOption("reason")),
	})
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return in.RespondEphemeral(ctx, fmt.Sprintf("Application #%d for **%s** submitted.", id, discord.EscapeMarkdown(p.Name)))
}
