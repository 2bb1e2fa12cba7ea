// Package pushover wraps the Pushover Open Client REST API: account login,
// device registration, message download, and acknowledgement. The
// persistent delivery connection lives in the listener package; this client
// covers the request/response half of the protocol.
package pushover

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HerbHall/pushlink/internal/registry"
	"go.uber.org/zap"
)

const (
	loginPath    = "/1/users/login.json"
	registerPath = "/1/devices.json"
	messagesPath = "/1/messages.json"
	ackPathFmt   = "/1/devices/%s/update_highest_message.json"

	// Registered as an Open Client ("O" in the provider's device taxonomy).
	clientOS = "O"
)

// Client wraps the Pushover REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClient creates a new API client. baseURL is configurable so tests can
// point it at a local fake.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// Login exchanges account credentials for a transient session secret.
// Single round-trip, no retries; the caller owns the retry policy.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	form := url.Values{
		"email":    {creds.Email},
		"password": {creds.Password},
	}

	var resp struct {
		statusResponse
		Secret string `json:"secret"`
	}
	code, err := c.postForm(ctx, loginPath, form, &resp)
	if err != nil {
		return nil, &AuthError{Reason: AuthNetwork, err: err}
	}
	if code == http.StatusTooManyRequests {
		return nil, &AuthError{Reason: AuthRateLimited}
	}
	if resp.Status != 1 || resp.Secret == "" {
		c.logger.Warn("login rejected",
			zap.String("email", creds.Email),
			zap.Int("http_status", code),
		)
		return nil, &AuthError{Reason: AuthInvalidCredentials}
	}

	c.logger.Info("login successful", zap.String("email", creds.Email))
	return &Session{Secret: resp.Secret}, nil
}

// RegisterDevice registers this instance as a new Open Client device and
// returns the identity to persist. Single round-trip, no retries.
func (c *Client) RegisterDevice(ctx context.Context, session *Session, deviceName string) (*registry.DeviceIdentity, error) {
	form := url.Values{
		"secret": {session.Secret},
		"name":   {deviceName},
		"os":     {clientOS},
	}

	var resp struct {
		statusResponse
		ID string `json:"id"`
	}
	code, err := c.postForm(ctx, registerPath, form, &resp)
	if err != nil {
		return nil, &RegistrationError{Reason: RegistrationNetwork, err: err}
	}
	if resp.Status != 1 || resp.ID == "" {
		reason := classifyRegistrationErrors(resp.Errors)
		c.logger.Warn("device registration rejected",
			zap.String("device_name", deviceName),
			zap.Int("http_status", code),
			zap.String("reason", string(reason)),
		)
		return nil, &RegistrationError{Reason: reason}
	}

	c.logger.Info("device registered",
		zap.String("device_name", deviceName),
		zap.String("device_id", resp.ID),
	)
	return &registry.DeviceIdentity{
		DeviceID:   resp.ID,
		Secret:     session.Secret,
		DeviceName: deviceName,
	}, nil
}

func classifyRegistrationErrors(errs map[string][]string) RegistrationReason {
	for _, msg := range errs["name"] {
		if strings.Contains(msg, "taken") {
			return RegistrationNameTaken
		}
	}
	if len(errs["secret"]) > 0 {
		return RegistrationInvalidSession
	}
	return RegistrationInvalidSession
}

// FetchMessages downloads all messages currently queued for the device.
// Each message is returned as its raw envelope; the parser package decodes
// them so a single malformed envelope can be dropped without failing the
// batch.
func (c *Client) FetchMessages(ctx context.Context, deviceID, secret string) ([]json.RawMessage, error) {
	q := url.Values{
		"secret":    {secret},
		"device_id": {deviceID},
	}

	var resp struct {
		statusResponse
		Messages []json.RawMessage `json:"messages"`
	}
	if err := c.getJSON(ctx, messagesPath+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if resp.Status != 1 {
		return nil, fmt.Errorf("fetch messages rejected by provider")
	}
	return resp.Messages, nil
}

// AckMessage acknowledges receipt of a single message. The provider deletes
// everything up to and including the given id, so calling this per message
// in ascending id order yields strictly ordered acknowledgement.
func (c *Client) AckMessage(ctx context.Context, deviceID, secret, messageID string) error {
	form := url.Values{
		"secret":  {secret},
		"message": {messageID},
	}

	var resp statusResponse
	code, err := c.postForm(ctx, fmt.Sprintf(ackPathFmt, url.PathEscape(deviceID)), form, &resp)
	if err != nil {
		return fmt.Errorf("ack message %s: %w", messageID, err)
	}
	if resp.Status != 1 {
		return fmt.Errorf("ack message %s rejected (http %d)", messageID, code)
	}
	return nil
}

// postForm sends a form-encoded POST and decodes the JSON response. The
// HTTP status code is returned alongside so callers can classify provider
// rejections; a non-2xx status is not itself an error because the provider
// reports failures in the JSON body.
func (c *Client) postForm(ctx context.Context, path string, form url.Values, result any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response (http %d): %w", resp.StatusCode, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) getJSON(ctx context.Context, pathAndQuery string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
