// Package backend is the node's client for the tachometer backend REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/bike-tacho/internal/httputil"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/timeutil"
)

// API paths.
const (
	PathUpdateData       = "/api/update-data"
	PathGetUserID        = "/api/get-user-id"
	PathConfigReport     = "/api/device/config/report"
	PathConfigFetch      = "/api/device/config/fetch"
	PathHeartbeat        = "/api/device/heartbeat"
	PathFirmwareInfo     = "/api/device/firmware/info"
	PathFirmwareDownload = "/api/device/firmware/download"
)

const maxResponseBody = 64 * 1024

// callClass decides how a call interacts with the backoff state.
type callClass int

const (
	// dataPlane calls are suppressed by, and stamp, the backoff.
	dataPlane callClass = iota
	// liveness calls (heartbeat) are never suppressed and never stamp.
	liveness
	// keyProbe calls test a candidate key and leave the state untouched.
	keyProbe
)

// Options configures a Client.
type Options struct {
	HTTP    httputil.HTTPClient
	Clock   timeutil.Clock
	Backoff *Backoff
	// Online reports link connectivity. Nil means always online.
	Online func() bool
}

// Client talks to the backend. It is used only from the tick loop.
type Client struct {
	http    httputil.HTTPClient
	clock   timeutil.Clock
	backoff *Backoff
	online  func() bool

	baseURL  string
	apiKey   string
	deviceID string
}

func New(opts Options) *Client {
	c := &Client{
		http:    opts.HTTP,
		clock:   opts.Clock,
		backoff: opts.Backoff,
		online:  opts.Online,
	}
	if c.http == nil {
		c.http = httputil.NewStandardClient(nil)
	}
	if c.clock == nil {
		c.clock = timeutil.RealClock{}
	}
	if c.backoff == nil {
		c.backoff = NewBackoff()
	}
	if c.online == nil {
		c.online = func() bool { return true }
	}
	return c
}

// Configure sets the server, key and device identity used for every call.
func (c *Client) Configure(baseURL, apiKey, deviceID string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.apiKey = apiKey
	c.deviceID = deviceID
}

func (c *Client) SetAPIKey(key string) { c.apiKey = key }

func (c *Client) APIKey() string { return c.apiKey }

func (c *Client) DeviceID() string { return c.deviceID }

func (c *Client) Backoff() *Backoff { return c.backoff }

// send issues one request. A non-nil response is returned only for 2xx
// statuses; the caller owns its body.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, class callClass, probe bool, apiKey string) (*http.Response, error) {
	if c.baseURL == "" || !c.online() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotAttempted)
	}
	now := c.clock.Now()
	if class == dataPlane && c.backoff.suppressed(now, probe) {
		return nil, fmt.Errorf("%s: %w", path, ErrBackoff)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request: %w", path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		monitoring.Debugf("backend: %s %s failed: %v", method, path, err)
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if class != keyProbe {
		// An unknown rider is a business answer, not a server fault.
		stamp := class == dataPlane && !(path == PathGetUserID && resp.StatusCode == http.StatusNotFound)
		c.backoff.observe(c.clock.Now(), resp.StatusCode, stamp)
	}
	monitoring.Debugf("backend: %s %s status=%d", method, path, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		resp.Body.Close()
		return nil, &StatusError{Path: path, Code: resp.StatusCode}
	}
	return resp, nil
}

// call is send plus JSON decoding of the response into out (when non-nil).
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any, class callClass, probe bool) error {
	resp, err := c.send(ctx, method, path, query, body, class, probe, c.apiKey)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", path, err)
	}
	return nil
}
