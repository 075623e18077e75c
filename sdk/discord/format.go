package discord

import "strings"

// markdownEscaper escapes the characters Discord treats as markdown
// (bold/italic, strike, code, spoiler, quote, headers, masked links).
var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	`~`, `\~`,
	"`", "\\`",
	`|`, `\|`,
	`>`, `\>`,
	`#`, `\#`,
	`[`, `\[`,
	`]`, `\]`,
	`(`, `\(`,
	`)`, `\)`,
)

// EscapeMarkdown makes user-provided text (usernames, quoted message content)
// render literally.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// Mention renders a user mention.
func Mention(userID string) string {
	return "<@" + userID + ">"
}

// ChannelMention renders a channel link.
func ChannelMention(channelID string) string {
	return "<#" + channelID + ">"
}

// truncate cuts s to at most maxRunes runes, marking the cut with "...".
func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// Quote renders text as a block quote, one "> " per line, escaped and cut to
// maxRunes.
func Quote(text string, maxRunes int) string {
	text = truncate(EscapeMarkdown(text), maxRunes)
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}
