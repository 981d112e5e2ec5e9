package broadcast

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// MessageSender is the part of *discordgo.Session the sink needs.
type MessageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts lot updates to a Discord channel.
type DiscordSink struct {
	session   MessageSender
	channelID string
}

// NewDiscordSink returns a sink posting to channelID.
func NewDiscordSink(session MessageSender, channelID string) *DiscordSink {
	return &DiscordSink{session: session, channelID: channelID}
}

func (d *DiscordSink) Publish(ctx context.Context, u LotUpdate) error {
	if _, err := d.session.ChannelMessageSend(d.channelID, FormatUpdate(u), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("posting lot update to discord: %w", err)
	}
	return nil
}

// FormatUpdate renders u as a short chat message.
func FormatUpdate(u LotUpdate) string {
	switch u.Kind {
	case KindTopBidRemoved:
		if u.CurrentBid == nil {
			return fmt.Sprintf("Top bid removed on lot `%s`. The lot has no bids now.", u.LotID)
		}
		return fmt.Sprintf("Top bid removed on lot `%s`. Current bid is **%s** by `%s` (%d bids).",
			u.LotID, u.CurrentBid.StringFixed(2), u.HighestBidderID, u.BidCount)
	default:
		if u.CurrentBid == nil {
			return fmt.Sprintf("Lot `%s` has no bids.", u.LotID)
		}
		return fmt.Sprintf("New high bid on lot `%s`: **%s** by `%s` (%d bids).",
			u.LotID, u.CurrentBid.StringFixed(2), u.HighestBidderID, u.BidCount)
	}
}
