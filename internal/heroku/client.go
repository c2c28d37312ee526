package heroku

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const acceptHeader = "application/vnd.heroku+json; version=3"

// API is the remote hosting provider surface this system consumes. Every call
// takes the account credential explicitly; there is no ambient session.
type API interface {
	// CreateApp creates an empty app under the credential.
	CreateApp(ctx context.Context, credential, name string) error
	// SetConfigVars applies the workload's runtime parameters to the app.
	SetConfigVars(ctx context.Context, credential, name string, vars map[string]string) error
	// TriggerBuild starts a build from a source tarball URL. Returns the build id.
	TriggerBuild(ctx context.Context, credential, name, sourceURL string) (string, error)
	// AppsCount returns the authoritative number of apps the credential owns.
	AppsCount(ctx context.Context, credential string) (int, error)
	// AppActive reports whether the named app has at least one running dyno.
	AppActive(ctx context.Context, credential, name string) (bool, error)
	// DeleteApp removes the named app.
	DeleteApp(ctx context.Context, credential, name string) error
}

// Client implements API against the Heroku platform API v3.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a provider client. The timeout bounds every individual
// remote call; a timed-out call surfaces as a transient error.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// CreateApp creates an empty app under the credential.
func (c *Client) CreateApp(ctx context.Context, credential, name string) error {
	body := map[string]string{"name": name}
	_, err := c.do(ctx, "create app", http.MethodPost, "/apps", credential, body)
	return err
}

// SetConfigVars applies runtime parameters to the app's environment.
func (c *Client) SetConfigVars(ctx context.Context, credential, name string, vars map[string]string) error {
	_, err := c.do(ctx, "set config vars", http.MethodPatch, "/apps/"+name+"/config-vars", credential, vars)
	return err
}

// TriggerBuild starts a build from the workload's source tarball.
func (c *Client) TriggerBuild(ctx context.Context, credential, name, sourceURL string) (string, error) {
	body := map[string]interface{}{
		"source_blob": map[string]string{"url": sourceURL},
	}
	raw, err := c.do(ctx, "trigger build", http.MethodPost, "/apps/"+name+"/builds", credential, body)
	if err != nil {
		return "", err
	}

	var build struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &build); err != nil {
		return "", fmt.Errorf("decode build response: %w", err)
	}
	return build.ID, nil
}

// AppsCount lists the credential's apps and returns the count. This is the
// capacity probe: the remote count is authoritative, never a cached number.
func (c *Client) AppsCount(ctx context.Context, credential string) (int, error) {
	raw, err := c.do(ctx, "probe capacity", http.MethodGet, "/apps", credential, nil)
	if err != nil {
		return 0, err
	}

	var apps []json.RawMessage
	if err := json.Unmarshal(raw, &apps); err != nil {
		return 0, fmt.Errorf("decode apps list: %w", err)
	}
	return len(apps), nil
}

// AppActive reports whether the app has at least one dyno in state "up".
// A missing app counts as inactive rather than an error.
func (c *Client) AppActive(ctx context.Context, credential, name string) (bool, error) {
	raw, err := c.do(ctx, "probe liveness", http.MethodGet, "/apps/"+name+"/dynos", credential, nil)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	var dynos []struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &dynos); err != nil {
		return false, fmt.Errorf("decode dynos list: %w", err)
	}
	for _, d := range dynos {
		if d.State == "up" {
			return true, nil
		}
	}
	return false, nil
}

// DeleteApp removes the named app under the credential.
func (c *Client) DeleteApp(ctx context.Context, credential, name string) error {
	_, err := c.do(ctx, "delete app", http.MethodDelete, "/apps/"+name, credential, nil)
	return err
}

// do performs one provider call with the client's timeout and classifies any
// failure. Returns the raw response body on 2xx.
func (c *Client) do(ctx context.Context, op, method, path, credential string, body interface{}) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", acceptHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}

	msg := extractMessage(raw)
	c.logger.Debug("provider call rejected",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.String("message", msg),
	)
	return nil, &Error{
		Kind:    classifyStatus(resp.StatusCode),
		Op:      op,
		Status:  resp.StatusCode,
		Message: msg,
	}
}

// extractMessage pulls the provider's error message out of the body, falling
// back to the raw text for non-JSON responses.
func extractMessage(raw []byte) string {
	var parsed struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
