// Package twitchapi contains the Helix helpers the bot needs: resolving the
// channel's live status and user id, deriving the HLS playback address, and
// running candidate messages through the AutoMod moderation gate.
//
// Two Helix clients are kept: one on the app access token (client-credentials,
// refreshed through golang.org/x/oauth2) for read-only lookups, and one on the
// bot's user token for the AutoMod check, which Twitch requires a moderator
// token for.
package twitchapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nicklaw5/helix/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const tokenURL = "https://id.twitch.tv/oauth2/token"

// Client wraps the Helix API surface used by a channel session.
type Client struct {
	appTokens  oauth2.TokenSource
	appClient  *helix.Client
	userClient *helix.Client
	httpClient *http.Client
}

// StreamInfo describes a currently live broadcast.
type StreamInfo struct {
	UserID    string
	UserLogin string
	Title     string
	StartedAt time.Time
}

// New builds a Client from app credentials and the bot's user token.
// The context bounds app token refreshes for the lifetime of the client.
func New(ctx context.Context, clientID, clientSecret, userToken string) (*Client, error) {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	appClient, err := helix.NewClient(&helix.Options{ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("helix app client: %w", err)
	}
	userClient, err := helix.NewClient(&helix.Options{
		ClientID:        clientID,
		UserAccessToken: strings.TrimPrefix(userToken, "oauth:"),
	})
	if err != nil {
		return nil, fmt.Errorf("helix user client: %w", err)
	}
	return &Client{
		appTokens:  cc.TokenSource(ctx),
		appClient:  appClient,
		userClient: userClient,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// refreshAppToken installs a current app access token on the app client.
func (c *Client) refreshAppToken() error {
	tok, err := c.appTokens.Token()
	if err != nil {
		return fmt.Errorf("app token: %w", err)
	}
	c.appClient.SetAppAccessToken(tok.AccessToken)
	return nil
}

// ResolveUserID resolves a login name to its user id.
func (c *Client) ResolveUserID(login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	if err := c.refreshAppToken(); err != nil {
		return "", err
	}
	resp, err := c.appClient.GetUsers(&helix.UsersParams{Logins: []string{login}})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get users: status %d: %s", resp.StatusCode, resp.ErrorMessage)
	}
	if len(resp.Data.Users) == 0 {
		return "", fmt.Errorf("user %q not found", login)
	}
	return resp.Data.Users[0].ID, nil
}

// GetStream returns the live broadcast for the channel, or nil when offline.
func (c *Client) GetStream(login string) (*StreamInfo, error) {
	if err := c.refreshAppToken(); err != nil {
		return nil, err
	}
	resp, err := c.appClient.GetStreams(&helix.StreamsParams{UserLogins: []string{login}})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get streams: status %d: %s", resp.StatusCode, resp.ErrorMessage)
	}
	if len(resp.Data.Streams) == 0 {
		return nil, nil
	}
	s := resp.Data.Streams[0]
	return &StreamInfo{
		UserID:    s.UserID,
		UserLogin: s.UserLogin,
		Title:     s.Title,
		StartedAt: s.StartedAt,
	}, nil
}

// CheckMessage runs candidate text through AutoMod for the broadcaster's
// channel. The result is binary: true means the message may be posted.
func (c *Client) CheckMessage(broadcasterID, text string) (bool, error) {
	resp, err := c.userClient.CheckAutomodStatus(&helix.AutomodStatusParams{
		BroadcasterID: broadcasterID,
		Messages: []helix.AutomodStatusMessage{
			{MsgID: uuid.NewString(), MsgText: text},
		},
	})
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("automod check: status %d (%s) %s", resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.AutomodStatus) == 0 {
		return false, fmt.Errorf("automod check: empty response")
	}
	return resp.Data.AutomodStatus[0].IsPermitted, nil
}

// PlaybackURL derives the public HLS playlist address for a channel.
func PlaybackURL(login string) string {
	return fmt.Sprintf("https://usher.ttvnw.net/api/channel/hls/%s.m3u8", strings.ToLower(login))
}

// VerifyPlaylist fetches the playlist once and checks it looks like HLS, so a
// session fails fast on channels that are not actually live.
func (c *Client) VerifyPlaylist(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch playlist: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch playlist: status %d", resp.StatusCode)
	}
	head, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("read playlist: %w", err)
	}
	if !strings.Contains(string(head), "#EXTM3U") {
		return fmt.Errorf("playlist at %s is not HLS", url)
	}
	return nil
}
