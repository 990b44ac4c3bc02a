// Package chatbot implements the bot identity the publisher posts as.
package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// LoginPath is the chat API endpoint that exchanges bot credentials for a token.
const LoginPath = "/api/auth/login"

// Client implements domain.BotHandle against the chat API login endpoint.
type Client struct {
	username   string
	password   string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a bot client. No request is made until Authenticate.
func NewClient(baseURL, apiKey, username, password string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		username: username,
		password: password,
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Authenticate logs in and replaces the stored token. On failure the previous
// token is cleared so readiness reflects the broken session.
func (c *Client) Authenticate(ctx context.Context) error {
	token, err := c.login(ctx)
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("bot authentication failed", "username", c.username, "error", err)
		return err
	}
	c.logger.Info("bot authenticated", "username", c.username)
	return nil
}

// AuthToken returns the current token, or "" before a successful login.
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Username returns the bot's login name.
func (c *Client) Username() string { return c.username }

func (c *Client) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(loginRequest{Username: c.username, Password: c.password})
	if err != nil {
		return "", fmt.Errorf("encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+LoginPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat api error: login: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if lr.Token == "" {
		return "", errors.New("login response carried no token")
	}
	return lr.Token, nil
}

// Chat API wire types.

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}
