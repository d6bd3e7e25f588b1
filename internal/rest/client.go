// ABOUTME: HTTP client for gateway discovery and message sending
// ABOUTME: Builds versioned API URLs and attaches the prefixed bot token

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "https://api.fluxer.app"
	DefaultAPIVersion  = "1"
	DefaultTokenPrefix = "Bot "
	defaultUserAgent   = "fluxer-go"
	defaultTimeout     = 30 * time.Second
	maxErrorBody       = 4096
)

// Config configures a Client. Empty fields take the defaults above.
type Config struct {
	BaseURL     string
	APIVersion  string
	Token       string
	TokenPrefix string
	UserAgent   string
	HTTPClient  *http.Client
}

// Client talks to the platform's REST API.
type Client struct {
	baseURL     string
	apiVersion  string
	token       string
	tokenPrefix string
	userAgent   string
	client      *http.Client
	logger      *slog.Logger
}

// New creates a Client. Pass nil logger for default.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.TokenPrefix == "" {
		cfg.TokenPrefix = DefaultTokenPrefix
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		apiVersion:  strings.TrimPrefix(cfg.APIVersion, "v"),
		token:       cfg.Token,
		tokenPrefix: cfg.TokenPrefix,
		userAgent:   cfg.UserAgent,
		client:      cfg.HTTPClient,
		logger:      logger.With("component", "rest"),
	}
}

// SetToken replaces the token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// url joins path onto the versioned base. Paths that already start with a
// version segment such as /v2/ are left alone.
func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 2 && path[1] == 'v' && path[2] >= '0' && path[2] <= '9' {
		return c.baseURL + path
	}
	return c.baseURL + "/v" + c.apiVersion + path
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.tokenPrefix+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("rest request", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// handleErrorResponse extracts a message from a non-2xx response.
func (c *Client) handleErrorResponse(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	herr := &HTTPError{Method: method, Path: path, Status: resp.StatusCode}
	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	switch {
	case json.Unmarshal(body, &errResp) == nil && errResp.Message != "":
		herr.Message = errResp.Message
	case errResp.Error != "":
		herr.Message = errResp.Error
	default:
		herr.Message = strings.TrimSpace(string(body))
	}
	return herr
}

type gatewayBotResponse struct {
	URL    string `json:"url"`
	Shards int    `json:"shards"`
}

// GatewayURL returns the gateway entry URL from GET /gateway/bot. It
// satisfies the gateway package's URL resolver.
func (c *Client) GatewayURL(ctx context.Context) (string, error) {
	var out gatewayBotResponse
	if err := c.do(ctx, http.MethodGet, "/gateway/bot", nil, &out); err != nil {
		return "", fmt.Errorf("fetching gateway url: %w", err)
	}
	if out.URL == "" {
		return "", ErrNoGatewayURL
	}
	return out.URL, nil
}

// CreateMessage posts a text message to a channel and returns the created
// message as raw JSON.
func (c *Client) CreateMessage(ctx context.Context, channelID, content string) (json.RawMessage, error) {
	var out json.RawMessage
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", body, &out); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	return out, nil
}

// GetChannel fetches a channel as raw JSON.
func (c *Client) GetChannel(ctx context.Context, channelID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &out); err != nil {
		return nil, fmt.Errorf("fetching channel: %w", err)
	}
	return out, nil
}
