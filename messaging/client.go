// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wavelength-chat/wavelength/lib/netutil"
	"github.com/wavelength-chat/wavelength/lib/ref"
)

// apiRoot prefixes every REST path on the server.
const apiRoot = "/api/v4"

// tokenHeader is the response header carrying the short-lived session
// token issued by the login endpoint.
const tokenHeader = "Token"

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// ServerURL is the base URL of the chat server
	// (e.g., "https://chat.example.com").
	ServerURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client performs HTTP requests against the chat server. It holds the
// base URL and HTTP transport, shared by every Session derived from
// it. Client itself carries no credential: each request takes the
// token explicitly, because the session layer replaces its token on
// re-authentication.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the given server.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ServerURL == "" {
		return nil, fmt.Errorf("messaging: ServerURL is required")
	}
	parsed, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid ServerURL %q: %w", config.ServerURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("messaging: ServerURL %q must use http or https", config.ServerURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.ServerURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's pool. Called after socket-level trouble so the next
// request opens a fresh TCP connection instead of reusing a poisoned
// pooled one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Login submits credentials to the login endpoint and returns the
// issued short-lived session token (from the response header) along
// with the authenticated identity (from the body).
func (c *Client) Login(ctx context.Context, loginID, password string) (string, *User, error) {
	body, header, err := c.do(ctx, http.MethodPost, apiRoot+"/users/login", "",
		loginRequest{LoginID: loginID, Password: password}, nil)
	if err != nil {
		return "", nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	token := header.Get(tokenHeader)
	if token == "" {
		return "", nil, fmt.Errorf("messaging: login response missing %s header", tokenHeader)
	}

	var identity User
	if err := json.Unmarshal(body, &identity); err != nil {
		return "", nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}

	c.logger.Info("logged in",
		"user_id", identity.ID,
		"username", identity.Username,
	)
	return token, &identity, nil
}

// doRequest performs a request and returns the response body. On
// non-2xx the body is decoded as an *AppError. token may be empty for
// unauthenticated endpoints. query may be nil.
func (c *Client) doRequest(ctx context.Context, method, path, token string, requestBody any, query url.Values) ([]byte, error) {
	body, _, err := c.do(ctx, method, path, token, requestBody, query)
	return body, err
}

// do is the request core: it additionally returns the response
// headers (the login endpoint delivers its token there).
//
// Request URLs are built by string concatenation on pre-escaped path
// segments rather than url.URL assembly, to avoid re-encoding
// segments that are already escaped.
func (c *Client) do(ctx context.Context, method, path, token string, requestBody any, query url.Values) ([]byte, http.Header, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, response.Header, nil
	}

	// All server error responses share the AppError JSON shape.
	var appErr AppError
	if jsonErr := json.Unmarshal(responseBody, &appErr); jsonErr != nil || appErr.ID == "" {
		// Non-JSON error body. Should not happen with a conforming
		// server; fail loud with the raw body.
		return nil, nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	appErr.StatusCode = response.StatusCode

	return responseBody, response.Header, &appErr
}

// The low-level REST verbs used by the session layer. Each takes the
// token explicitly; the authenticated wrappers on Session bind the
// current token and run every result through the session-expiry
// check.

func (c *Client) getMe(ctx context.Context, token string) (*User, error) {
	return c.getUserPath(ctx, token, apiRoot+"/users/me")
}

func (c *Client) getUser(ctx context.Context, token string, id ref.UserID) (*User, error) {
	return c.getUserPath(ctx, token, apiRoot+"/users/"+url.PathEscape(id.String()))
}

func (c *Client) getUserByUsername(ctx context.Context, token, username string) (*User, error) {
	return c.getUserPath(ctx, token, apiRoot+"/users/username/"+url.PathEscape(username))
}

func (c *Client) getUserPath(ctx context.Context, token, path string) (*User, error) {
	body, err := c.doRequest(ctx, http.MethodGet, path, token, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get user failed: %w", err)
	}
	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse user response: %w", err)
	}
	return &user, nil
}

func (c *Client) listUsers(ctx context.Context, token string, page, perPage int) ([]*User, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	body, err := c.doRequest(ctx, http.MethodGet, apiRoot+"/users", token, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: list users page %d failed: %w", page, err)
	}
	var users []*User
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse users response: %w", err)
	}
	return users, nil
}

func (c *Client) getTeamByName(ctx context.Context, token, name string) (*Team, error) {
	path := apiRoot + "/teams/name/" + url.PathEscape(name)
	body, err := c.doRequest(ctx, http.MethodGet, path, token, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get team %q failed: %w", name, err)
	}
	var team Team
	if err := json.Unmarshal(body, &team); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse team response: %w", err)
	}
	return &team, nil
}

func (c *Client) channelsForUser(ctx context.Context, token string, userID ref.UserID, teamID ref.TeamID) ([]Channel, error) {
	path := fmt.Sprintf("%s/users/%s/teams/%s/channels",
		apiRoot,
		url.PathEscape(userID.String()),
		url.PathEscape(teamID.String()),
	)
	body, err := c.doRequest(ctx, http.MethodGet, path, token, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: channels for user failed: %w", err)
	}
	var channels []Channel
	if err := json.Unmarshal(body, &channels); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse channels response: %w", err)
	}
	return channels, nil
}

func (c *Client) getChannelByName(ctx context.Context, token string, teamID ref.TeamID, name string) (*Channel, error) {
	path := fmt.Sprintf("%s/teams/%s/channels/name/%s",
		apiRoot,
		url.PathEscape(teamID.String()),
		url.PathEscape(name),
	)
	body, err := c.doRequest(ctx, http.MethodGet, path, token, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get channel %q failed: %w", name, err)
	}
	var channel Channel
	if err := json.Unmarshal(body, &channel); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse channel response: %w", err)
	}
	return &channel, nil
}

func (c *Client) createChannel(ctx context.Context, token string, request createChannelRequest) (*Channel, error) {
	body, err := c.doRequest(ctx, http.MethodPost, apiRoot+"/channels", token, request, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: create channel %q failed: %w", request.Name, err)
	}
	var channel Channel
	if err := json.Unmarshal(body, &channel); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse create channel response: %w", err)
	}
	c.logger.Info("created channel",
		"channel_id", channel.ID,
		"name", channel.Name,
	)
	return &channel, nil
}

func (c *Client) postsForChannel(ctx context.Context, token string, channelID ref.ChannelID) (*PostList, error) {
	path := fmt.Sprintf("%s/channels/%s/posts", apiRoot, url.PathEscape(channelID.String()))
	body, err := c.doRequest(ctx, http.MethodGet, path, token, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: posts for channel %s failed: %w", channelID, err)
	}
	var list PostList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse posts response: %w", err)
	}
	return &list, nil
}

func (c *Client) createPost(ctx context.Context, token string, request createPostRequest) (*Post, error) {
	body, err := c.doRequest(ctx, http.MethodPost, apiRoot+"/posts", token, request, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: create post failed: %w", err)
	}
	var post Post
	if err := json.Unmarshal(body, &post); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse create post response: %w", err)
	}
	return &post, nil
}

func (c *Client) deletePost(ctx context.Context, token string, id ref.PostID) error {
	path := apiRoot + "/posts/" + url.PathEscape(id.String())
	if _, err := c.doRequest(ctx, http.MethodDelete, path, token, nil, nil); err != nil {
		return fmt.Errorf("messaging: delete post %s failed: %w", id, err)
	}
	return nil
}
