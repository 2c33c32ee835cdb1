// Package discord implements a handoff provider that posts escalation
// summaries as embeds to the Discord channel the support team watches.
//
// Delivery is REST-only: the bot token authenticates channel message calls,
// no gateway connection is opened.
package discord

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// Compile-time interface checks.
var (
	_ handoff.Provider = (*Notifier)(nil)
	_ messageSender    = (*discordgo.Session)(nil)
)

// embedColorOrange is the embed sidebar color for escalations needing a human.
const embedColorOrange = 0xE67E22

// historyTailLen is how many trailing turns the embed quotes.
const historyTailLen = 5

// fieldValueLimit is Discord's per-field value length cap.
const fieldValueLimit = 1024

// messageSender is the slice of [discordgo.Session] the notifier uses.
type messageSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts escalation embeds to one channel.
type Notifier struct {
	session   messageSender
	channelID string
}

// New constructs a Discord escalation notifier. token is the bot token,
// channelID the target support channel.
func New(token, channelID string, opts ...Option) (*Notifier, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: token must not be empty")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord: channelID must not be empty")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	n := &Notifier{session: session, channelID: channelID}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Option is a functional option for Notifier.
type Option func(*Notifier)

// Escalate implements [handoff.Provider].
func (n *Notifier) Escalate(ctx context.Context, summary handoff.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	embed := buildEmbed(summary)
	if _, err := n.session.ChannelMessageSendEmbed(n.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send escalation embed: %w", err)
	}
	return nil
}

// buildEmbed renders a summary as a Discord embed.
func buildEmbed(summary handoff.Summary) *discordgo.MessageEmbed {
	driver := summary.DriverID
	if driver == "" {
		driver = "unknown"
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Conversation", Value: fmt.Sprintf("`%s`", summary.ConversationID), Inline: true},
		{Name: "Driver", Value: driver, Inline: true},
		{Name: "Reason", Value: summary.Reason, Inline: false},
	}

	if summary.Intent != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Intent", Value: string(summary.Intent), Inline: true,
		})
	}
	if summary.Sentiment != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Sentiment", Value: string(summary.Sentiment), Inline: true,
		})
	}
	if slots := formatSlots(summary.Slots); slots != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Slots", Value: slots, Inline: false,
		})
	}
	if tail := historyTail(summary.History); tail != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Last messages", Value: tail, Inline: false,
		})
	}

	return &discordgo.MessageEmbed{
		Title:  "Driver escalation",
		Color:  embedColorOrange,
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "voiceagent handoff",
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// formatSlots renders slots as one "key: value" line each, in key order.
func formatSlots(slots map[string]string) string {
	if len(slots) == 0 {
		return ""
	}
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + ": " + slots[k]
	}
	return clip(strings.Join(lines, "\n"), fieldValueLimit)
}

// historyTail quotes the last few turns, newest last.
func historyTail(history []dialog.Turn) string {
	if len(history) == 0 {
		return ""
	}
	start := 0
	if len(history) > historyTailLen {
		start = len(history) - historyTailLen
	}
	lines := make([]string, 0, historyTailLen)
	for _, turn := range history[start:] {
		lines = append(lines, string(turn.Role)+": "+turn.Text)
	}
	return clip(strings.Join(lines, "\n"), fieldValueLimit)
}

// clip truncates s to at most max bytes, dropping any partial trailing rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max-3], "") + "…"
}
