// Package instagram is the source platform adapter: session handling,
// conversation polling and outbound command execution against the direct
// message API.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"

	"instabridge/internal/models"
)

const defaultBaseURL = "https://i.instagram.com/api/v1"

// sessionState is what gets persisted between runs so the bridge does not
// perform a fresh login on every start.
type sessionState struct {
	Token    string `json:"token"`
	ViewerID int64  `json:"viewer_id"`
}

// Client talks to the direct message API. All methods re-login once on a 401
// before giving up.
type Client struct {
	http        *resty.Client
	username    string
	password    string
	totpSeed    string
	sessionPath string
	viewerID    int64
}

// NewClient validates credentials and configures the HTTP client. totpSeed
// may be empty when the account has no two-factor auth. Call Login before any
// other method.
func NewClient(baseURL, username, password, totpSeed, sessionPath string, timeout time.Duration) (*Client, error) {
	if username == "" {
		return nil, fmt.Errorf("instagram username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("instagram password cannot be empty")
	}
	if sessionPath == "" {
		return nil, fmt.Errorf("instagram session path cannot be empty")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "Instagram 275.0.0.27.98 Android")

	log.Info().Str("baseURL", baseURL).Str("username", username).Msg("Instagram client configured")

	return &Client{
		http:        httpClient,
		username:    username,
		password:    password,
		totpSeed:    totpSeed,
		sessionPath: sessionPath,
	}, nil
}

// loginForm builds the credential form, attaching a fresh TOTP code when the
// account uses two-factor auth.
func (c *Client) loginForm() (map[string]string, error) {
	form := map[string]string{
		"username": c.username,
		"password": c.password,
	}
	if c.totpSeed != "" {
		code, err := totp.GenerateCode(c.totpSeed, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to generate two-factor code: %w", err)
		}
		form["verification_code"] = code
	}
	return form, nil
}

// Login restores the cached session when possible, otherwise performs a fresh
// credential login and persists the new session.
func (c *Client) Login(ctx context.Context) error {
	if state, err := c.loadSession(); err == nil {
		c.applySession(state)
		if err := c.verifySession(ctx); err == nil {
			log.Info().Int64("viewerID", c.viewerID).Msg("Instagram session restored")
			return nil
		}
		log.Warn().Msg("Cached Instagram session rejected, performing fresh login")
	}

	form, err := c.loginForm()
	if err != nil {
		return err
	}

	var result loginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		Post("/accounts/login/")
	if err != nil {
		return fmt.Errorf("instagram login request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("instagram login error: status %s", resp.Status())
	}
	if result.SessionToken == "" {
		return fmt.Errorf("instagram login returned no session token")
	}

	state := sessionState{Token: result.SessionToken, ViewerID: result.LoggedInUser.ID}
	c.applySession(state)
	if err := c.saveSession(state); err != nil {
		log.Warn().Err(err).Msg("Failed to persist Instagram session")
	}

	log.Info().Str("username", c.username).Int64("viewerID", c.viewerID).Msg("Instagram login successful")
	return nil
}

func (c *Client) applySession(state sessionState) {
	c.viewerID = state.ViewerID
	c.http.SetHeader("Authorization", "Bearer IGT:2:"+state.Token)
}

func (c *Client) verifySession(ctx context.Context) error {
	var result currentUserResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/accounts/current_user/")
	if err != nil {
		return fmt.Errorf("session verification request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("session verification error: status %s", resp.Status())
	}
	if result.User.ID != 0 {
		c.viewerID = result.User.ID
	}
	return nil
}

func (c *Client) loadSession() (sessionState, error) {
	data, err := os.ReadFile(c.sessionPath)
	if err != nil {
		return sessionState{}, err
	}
	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return sessionState{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	if state.Token == "" {
		return sessionState{}, fmt.Errorf("session file carries no token")
	}
	return state, nil
}

func (c *Client) saveSession(state sessionState) error {
	if err := os.MkdirAll(filepath.Dir(c.sessionPath), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(c.sessionPath, data, 0o600)
}

// do runs one request and retries once after a re-login when the session has
// expired.
func (c *Client) do(ctx context.Context, send func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := send()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		log.Warn().Msg("Instagram session expired, re-logging in")
		if err := c.Login(ctx); err != nil {
			return nil, fmt.Errorf("re-login failed: %w", err)
		}
		return send()
	}
	return resp, nil
}

// FetchRecentConversations returns up to limit threads from the inbox.
func (c *Client) FetchRecentConversations(ctx context.Context, limit int) ([]models.Conversation, error) {
	var result inboxResponse
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("thread_limit", strconv.Itoa(limit)).
			SetResult(&result).
			Get("/direct_v2/inbox/")
	})
	if err != nil {
		return nil, fmt.Errorf("inbox fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("inbox fetch error: status %s", resp.Status())
	}

	conversations := make([]models.Conversation, 0, len(result.Inbox.Threads))
	for _, t := range result.Inbox.Threads {
		conv := models.Conversation{ID: t.ThreadID}
		for _, u := range t.Users {
			if u.ID != c.viewerID {
				conv.SenderHandle = u.Username
				break
			}
		}
		conversations = append(conversations, conv)
	}

	log.Debug().Int("threads", len(conversations)).Msg("Fetched inbox")
	return conversations, nil
}

// FetchRecentMessages returns up to limit messages of one thread in
// chronological order.
func (c *Client) FetchRecentMessages(ctx context.Context, conversationID string, limit int) ([]models.RawMessage, error) {
	var result threadResponse
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("limit", strconv.Itoa(limit)).
			SetResult(&result).
			Get("/direct_v2/threads/" + conversationID + "/")
	})
	if err != nil {
		return nil, fmt.Errorf("thread fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("thread fetch error: status %s", resp.Status())
	}

	usersByID := make(map[int64]string, len(result.Thread.Users)+1)
	for _, u := range result.Thread.Users {
		usersByID[u.ID] = u.Username
	}
	usersByID[c.viewerID] = c.username

	items := result.Thread.Items
	if len(items) > limit {
		items = items[:limit]
	}

	// The API returns newest first; the bridge wants chronological order.
	messages := make([]models.RawMessage, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		messages = append(messages, toRawMessage(conversationID, items[i], usersByID, c.viewerID))
	}
	return messages, nil
}

// SendText posts a text message into the thread.
func (c *Client) SendText(ctx context.Context, conversationID, text string) error {
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{"text": text}).
			Post("/direct_v2/threads/" + conversationID + "/items/text/")
	})
	if err != nil {
		return fmt.Errorf("send text failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send text error: status %s", resp.Status())
	}
	return nil
}

// SendReaction attaches an emoji reaction to one message in the thread.
func (c *Client) SendReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"emoji":         emoji,
				"reaction_type": "like",
			}).
			Post("/direct_v2/threads/" + conversationID + "/items/" + messageID + "/reaction/")
	})
	if err != nil {
		return fmt.Errorf("send reaction failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send reaction error: status %s", resp.Status())
	}
	return nil
}
