package febos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofebos/febos-bridge/internal/rate"
)

const (
	defaultBaseURL = "https://febos.emmeti.cloud/api"
	defaultTimeout = 15 * time.Second

	// readAttempts bounds retries on transient errors. Writes always get a
	// single attempt.
	readAttempts = 3
)

// Config defines runtime configuration for one Febos client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the Febos cloud API on behalf of one account. Every call
// obtains a valid token from the session first; a 401 mid-call invalidates
// the session and the call is retried exactly once after a fresh login.
type Client struct {
	baseURL    string
	session    *Session
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, creds Credentials, log *slog.Logger) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	// The webapp enforces a per-minute budget; polling is already paced by
	// the coordinator, the guard is the hard floor.
	httpClient := rate.WrapHTTP(
		rate.Provider("febos").MaxRequestsPer(rate.Minute, 60),
		&http.Client{Timeout: timeout},
	)

	return &Client{
		baseURL:    baseURL,
		session:    newSession(baseURL, creds, httpClient, log),
		httpClient: httpClient,
		log:        log,
	}, nil
}

// Username returns the account login the client was built for.
func (c *Client) Username() string { return c.session.creds.Username }

// Installations lists the installation ids visible to the account.
func (c *Client) Installations(ctx context.Context) ([]int, error) {
	return c.session.Installations(ctx)
}

// PageConfig fetches the device, thing and input-group layout of an
// installation.
func (c *Client) PageConfig(ctx context.Context, installationID int) (PageConfig, error) {
	var resp PageConfig
	path := fmt.Sprintf("/installation/%d/config", installationID)
	if err := c.getJSON(ctx, path, &resp, &resp.envelope); err != nil {
		return PageConfig{}, err
	}
	if len(resp.DeviceMap) == 0 {
		return PageConfig{}, HTTPStatusError{Status: http.StatusOK, Body: "page config missing deviceMap"}
	}
	return resp, nil
}

// Realtime fetches current register values for the given input groups.
func (c *Client) Realtime(ctx context.Context, installationID int, groups []string) ([]RealtimeEntry, error) {
	var resp realtimeResponse
	path := fmt.Sprintf("/installation/%d/realtime?groups=%s",
		installationID, url.QueryEscape(strings.Join(groups, ",")))
	if err := c.getJSON(ctx, path, &resp, &resp.envelope); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Slaves fetches the Crono zones attached to a device. ErrNotFound means the
// device no longer exists on the remote side.
func (c *Client) Slaves(ctx context.Context, installationID, deviceID int) ([]Slave, error) {
	var resp slavesResponse
	path := fmt.Sprintf("/installation/%d/device/%d/slaves", installationID, deviceID)
	if err := c.getJSON(ctx, path, &resp, &resp.envelope); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SetValue writes one raw register value. The call is never retried: a
// duplicated command can toggle physical equipment twice.
func (c *Client) SetValue(ctx context.Context, installationID, deviceID, thingID int, code string, raw int64) error {
	body, err := json.Marshal(writeRequest{
		DeviceID: deviceID,
		ThingID:  thingID,
		Data:     map[string]RawValue{code: NumberRaw(raw)},
	})
	if err != nil {
		return fmt.Errorf("marshal write request: %w", err)
	}

	var env envelope
	path := fmt.Sprintf("/installation/%d/realtime", installationID)
	return c.call(ctx, http.MethodPost, path, body, &env, &env, 1)
}

func (c *Client) getJSON(ctx context.Context, path string, out any, env *envelope) error {
	return c.call(ctx, http.MethodGet, path, nil, out, env, readAttempts)
}

// call performs one API operation with auth, the retry policy, and envelope
// decoding. maxAttempts applies to transient failures only; the single
// re-login on 401 is tracked separately.
func (c *Client) call(ctx context.Context, method, path string, body []byte, out any, env *envelope, maxAttempts int) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.callOnce(ctx, method, path, body, out, env)
		if err == nil {
			return nil
		}
		if !shouldRetry(err, attempt, maxAttempts) {
			return err
		}
		c.log.Debug("retrying after transient error",
			"method", method, "path", path, "attempt", attempt, "error", err)
	}
}

func (c *Client) callOnce(ctx context.Context, method, path string, body []byte, out any, env *envelope) error {
	resp, err := c.doAuthed(ctx, method, path, body, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Status: resp.StatusCode, Body: string(data)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.ErrCode != 0 {
		return APIError{Code: env.ErrCode, Msg: env.Msg}
	}
	return nil
}

// doAuthed issues the request with a valid token. On 401 it invalidates the
// session and retries once after a fresh login; a second rejection surfaces
// as AuthError.
func (c *Client) doAuthed(ctx context.Context, method, path string, body []byte, retried bool) (*http.Response, error) {
	token, err := c.session.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Rate-guard denials surface here too; both are transient.
		return nil, NetworkError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	c.session.Invalidate()
	if retried {
		return nil, AuthError{Reason: "session rejected after re-login"}
	}
	c.log.Debug("session expired mid-call, re-login", "path", path)
	return c.doAuthed(ctx, method, path, body, true)
}
