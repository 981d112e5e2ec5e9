// Package commands implements the Discord slash commands of the bidding core.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidcore/internal/auction"
	"github.com/jensholdgaard/bidcore/internal/biderr"
)

// BidPlacer places bids.
type BidPlacer interface {
	PlaceBid(ctx context.Context, lotID, bidderID string, amount decimal.Decimal) (*auction.BidResult, error)
}

// TopBidRemover removes a lot's top bid.
type TopBidRemover interface {
	RemoveTopBid(ctx context.Context, lotID, actorID string) (*auction.ReversalResult, error)
}

// LotViewer reads a lot.
type LotViewer interface {
	Lot(ctx context.Context, lotID string) (*auction.LotView, error)
}

// Responder answers an interaction. *discordgo.Session implements it.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Handlers process Discord interactions.
type Handlers struct {
	bids      BidPlacer
	reversals TopBidRemover
	lots      LotViewer
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(bids BidPlacer, reversals TopBidRemover, lots LotViewer, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		bids:      bids,
		reversals: reversals,
		lots:      lots,
		logger:    logger,
		tracer:    tp.Tracer("github.com/jensholdgaard/bidcore/internal/bot/commands"),
	}
}

func lotOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "lot-id",
		Description: "Lot ID",
		Required:    true,
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	adminOnly := int64(discordgo.PermissionAdministrator)
	return []*discordgo.ApplicationCommand{
		{
			Name:        "bid",
			Description: "Place a bid on a lot",
			Options: []*discordgo.ApplicationCommandOption{
				lotOption(),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "amount",
					Description: "Bid amount, e.g. 125.50",
					Required:    true,
				},
			},
		},
		{
			Name:        "lot",
			Description: "Show the current state of a lot",
			Options:     []*discordgo.ApplicationCommandOption{lotOption()},
		},
		{
			Name:                     "remove-top-bid",
			Description:              "Remove the highest bid on a lot (admin only)",
			DefaultMemberPermissions: &adminOnly,
			Options:                  []*discordgo.ApplicationCommandOption{lotOption()},
		},
	}
}

// InteractionCreate is the discordgo handler for slash commands.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.Handle(context.Background(), s, i)
}

// Handle dispatches one interaction and answers it through r.
func (h *Handlers) Handle(ctx context.Context, r Responder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	ctx, span := h.tracer.Start(ctx, "Handlers.Handle",
		trace.WithAttributes(attribute.String("command", data.Name)),
	)
	defer span.End()

	var msg string
	var err error
	switch data.Name {
	case "bid":
		msg, err = h.handleBid(ctx, i, data)
	case "lot":
		msg, err = h.handleLot(ctx, data)
	case "remove-top-bid":
		msg, err = h.handleRemoveTopBid(ctx, i, data)
	default:
		err = fmt.Errorf("unknown command %q: %w", data.Name, biderr.ErrInvalidInput)
	}

	if err != nil {
		h.logger.InfoContext(ctx, "command rejected",
			slog.String("command", data.Name),
			slog.String("code", biderr.Code(err)),
			slog.Any("error", err),
		)
		respond(ctx, h.logger, r, i, errorMessage(err), true)
		return
	}
	respond(ctx, h.logger, r, i, msg, false)
}

func (h *Handlers) handleBid(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) (string, error) {
	opts := optionMap(data)
	lotID := opts["lot-id"]
	amount, err := decimal.NewFromString(strings.TrimSpace(opts["amount"]))
	if err != nil {
		return "", fmt.Errorf("parsing amount %q: %w", opts["amount"], biderr.ErrInvalidAmount)
	}

	res, err := h.bids.PlaceBid(ctx, lotID, userID(i), amount)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Bid of **%s** placed on lot `%s` (bids: %d)", res.Amount.StringFixed(2), res.LotID, res.BidCount), nil
}

func (h *Handlers) handleLot(ctx context.Context, data discordgo.ApplicationCommandInteractionData) (string, error) {
	v, err := h.lots.Lot(ctx, optionMap(data)["lot-id"])
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**#%d %s** (`%s`)\n", v.Lot.LotNumber, v.Lot.Title, v.Lot.ID)
	if v.Lot.CurrentBid == nil {
		fmt.Fprintf(&b, "No bids yet. Starting bid: **%s**\n", v.Lot.StartingBid.StringFixed(2))
	} else {
		fmt.Fprintf(&b, "Current bid: **%s** by <@%s> (%d bids)\n", v.Lot.CurrentBid.StringFixed(2), v.HighestBidderID, v.Lot.BidCount)
		fmt.Fprintf(&b, "Minimum next bid: **%s**\n", v.MinimumBid.StringFixed(2))
	}
	fmt.Fprintf(&b, "Auction %s, ends <t:%d:R>", v.Auction.Status, v.Auction.EndTime.Unix())
	return b.String(), nil
}

func (h *Handlers) handleRemoveTopBid(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) (string, error) {
	if !isAdmin(i) {
		return "", fmt.Errorf("remove-top-bid requires administrator: %w", biderr.ErrForbidden)
	}
	res, err := h.reversals.RemoveTopBid(ctx, optionMap(data)["lot-id"], userID(i))
	if err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Removed bid of **%s** by <@%s> on lot `%s`.", res.Removed.Amount.StringFixed(2), res.Removed.BidderID, res.LotID)
	if res.NewTopBid == nil {
		return msg + " The lot has no bids now.", nil
	}
	return msg + fmt.Sprintf(" New top bid: **%s** by <@%s>.", res.NewTopBid.Amount.StringFixed(2), res.NewTopBid.BidderID), nil
}

func optionMap(data discordgo.ApplicationCommandInteractionData) map[string]string {
	m := make(map[string]string, len(data.Options))
	for _, o := range data.Options {
		if o.Type == discordgo.ApplicationCommandOptionString {
			m[o.Name] = o.StringValue()
		}
	}
	return m
}

// userID returns the invoking user, from the member in guilds or the user in DMs.
func userID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func isAdmin(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

// errorMessage renders err for the invoking user.
func errorMessage(err error) string {
	if minBid, ok := biderr.MinimumBid(err); ok {
		return fmt.Sprintf("Bid too low. The minimum bid is **%s**.", minBid.StringFixed(2))
	}
	switch {
	case errors.Is(err, biderr.ErrSelfOutbid):
		return "You are already the highest bidder."
	case errors.Is(err, biderr.ErrNotFound):
		return "Lot not found."
	case errors.Is(err, biderr.ErrLotBusy):
		return "The lot is busy, please try again."
	case errors.Is(err, biderr.ErrForbidden):
		return "Only administrators can do that."
	case biderr.Code(err) == "internal", errors.Is(err, biderr.ErrPersistence):
		return "Something went wrong, please try again later."
	}
	code := biderr.Code(err)
	return strings.ToUpper(code[:1]) + strings.ReplaceAll(code[1:], "_", " ") + "."
}

func respond(ctx context.Context, logger *slog.Logger, r Responder, i *discordgo.InteractionCreate, msg string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: msg}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		logger.WarnContext(ctx, "responding to interaction", slog.Any("error", err))
	}
}
