package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/clipgremlin/telemetry"
)

// Event is one inbound chat message with the role flags the bot cares about.
type Event struct {
	Channel     string
	Sender      string
	Broadcaster bool
	Moderator   bool
	At          time.Time
	Text        string
}

// IRC is the inbound/outbound chat transport for one channel.
type IRC struct {
	client  *twitch.Client
	channel string
}

// NewIRC builds the transport for a channel. The token may carry the "oauth:"
// prefix or not; the IRC client requires it.
func NewIRC(username, token, channel string) *IRC {
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return &IRC{
		client:  twitch.NewClient(username, token),
		channel: strings.ToLower(channel),
	}
}

// Run connects and forwards every private message as an Event until ctx is
// canceled. Events are delivered in arrival order; a full events channel
// blocks the IRC callback rather than dropping messages, preserving command
// ordering.
func (c *IRC) Run(ctx context.Context, events chan<- Event) error {
	c.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		at := msg.Time
		if at.IsZero() {
			at = time.Now().UTC()
		}
		ev := Event{
			Channel:     msg.Channel,
			Sender:      msg.User.Name,
			Broadcaster: msg.User.Badges["broadcaster"] > 0,
			Moderator:   msg.User.Badges["moderator"] > 0,
			At:          at,
			Text:        msg.Message,
		}
		if telemetry.ChatMessagesSeen != nil {
			telemetry.ChatMessagesSeen.Inc()
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})

	// Handle context cancellation by closing the client.
	go func() {
		<-ctx.Done()
		_ = c.client.Disconnect()
	}()

	c.client.Join(c.channel)
	if err := c.client.Connect(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("twitch chat connect: %w", err)
	}
	return ctx.Err()
}

// Say posts text to the channel. Callers must go through Sender so the rate
// limiter sees every outbound message.
func (c *IRC) Say(text string) {
	c.client.Say(c.channel, text)
}
