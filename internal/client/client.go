// Package client talks to the seeallene daemons over loopback HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/Finithe-Phoenix/seeallene/internal/api"
	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

const (
	defaultUnaryTimeout    = 10 * time.Second
	defaultProbeTimeout    = 1500 * time.Millisecond
	defaultSnapshotTimeout = 5 * time.Second
	// /advance runs the whole capture-inject-verify loop before
	// answering; give it room beyond the unary default.
	advanceTimeout = 60 * time.Second

	// ConfirmHeader must carry "reset" on kill-switch reset requests.
	ConfirmHeader = "X-Seeallene-Confirm"
	// SourceHeader reports whether a snapshot is live or a placeholder.
	SourceHeader = "X-Seeallene-Capture"
)

type Client struct {
	baseURL         string
	client          *http.Client
	unaryTimeout    time.Duration
	snapshotTimeout time.Duration
}

func New(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return NewWithClient(base, &http.Client{})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		client:          client,
		unaryTimeout:    defaultUnaryTimeout,
		snapshotTimeout: defaultSnapshotTimeout,
	}
}

// WithSnapshotTimeout sets the budget for snapshot fetches.
func (c *Client) WithSnapshotTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	if timeout > 0 {
		clone.snapshotTimeout = timeout
	}
	return &clone
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	if code != "" && message != "" {
		return fmt.Sprintf("%s: %s", code, message)
	}
	if code != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, code)
		}
		return code
	}
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// Probe checks that the daemon answers its root status endpoint. A
// short deadline keeps the watchdog loop responsive when the daemon
// is wedged rather than down.
func (c *Client) Probe(ctx context.Context) error {
	probe := c.WithUnaryTimeout(defaultProbeTimeout)
	_, _, err := probe.requestRaw(ctx, http.MethodGet, "/", nil, nil, nil)
	return err
}

// Status fetches the daemon's root status document.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var resp api.StatusResponse
	err := c.getJSON(ctx, "/", nil, &resp)
	return resp, err
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.getJSON(ctx, "/health", nil, &resp)
	return resp, err
}

// Snapshot fetches one JPEG still. source is "live" or "placeholder".
func (c *Client) Snapshot(ctx context.Context) (data []byte, source string, err error) {
	snap := c.WithUnaryTimeout(c.snapshotTimeout)
	payload, header, err := snap.requestRaw(ctx, http.MethodGet, "/snapshot.jpg", nil, nil, nil)
	if err != nil {
		return nil, "", err
	}
	source = header.Get(SourceHeader)
	if source == "" {
		source = "live"
	}
	return payload, source, nil
}

// Frame adapts Snapshot to the navigation controller's frame source.
// Placeholder stills are not evidence of screen content.
func (c *Client) Frame(ctx context.Context) (model.Frame, error) {
	data, source, err := c.Snapshot(ctx)
	if err != nil {
		return model.Frame{}, &model.CodedError{Code: model.ErrCaptureFailed, Message: "fetch snapshot", Err: err}
	}
	if source != "live" {
		return model.Frame{}, &model.CodedError{Code: model.ErrCaptureFailed, Message: "stream daemon is serving placeholder frames"}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.Frame{}, &model.CodedError{Code: model.ErrCaptureFailed, Message: "decode snapshot", Err: err}
	}
	return model.Frame{Data: data, Width: cfg.Width, Height: cfg.Height, CapturedAt: time.Now().UTC()}, nil
}

func (c *Client) Advance(ctx context.Context) (api.AdvanceResponse, error) {
	long := c.WithUnaryTimeout(advanceTimeout)
	var resp api.AdvanceResponse
	payload, _, err := long.requestRaw(ctx, http.MethodPost, "/advance", nil, nil, nil)
	if err != nil {
		return api.AdvanceResponse{}, err
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return api.AdvanceResponse{}, fmt.Errorf("decode advance response: %w", err)
	}
	return resp, nil
}

func (c *Client) Actions(ctx context.Context, limit int) (api.ActionsEnvelope, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var env api.ActionsEnvelope
	err := c.getJSON(ctx, "/actions", query, &env)
	return env, err
}

func (c *Client) Restarts(ctx context.Context, limit int) (api.RestartsEnvelope, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var env api.RestartsEnvelope
	err := c.getJSON(ctx, "/restarts", query, &env)
	return env, err
}

func (c *Client) Arm(ctx context.Context, ttl time.Duration) (api.ArmResponse, error) {
	var req *api.ArmRequest
	if ttl > 0 {
		req = &api.ArmRequest{TTLSeconds: int(ttl / time.Second)}
	}
	var resp api.ArmResponse
	payload, _, err := c.requestRaw(ctx, http.MethodPost, "/hands/arm", nil, req, nil)
	if err != nil {
		return api.ArmResponse{}, err
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return api.ArmResponse{}, fmt.Errorf("decode arm response: %w", err)
	}
	return resp, nil
}

func (c *Client) Disarm(ctx context.Context) error {
	_, _, err := c.requestRaw(ctx, http.MethodPost, "/hands/disarm", nil, nil, nil)
	return err
}

func (c *Client) Kill(ctx context.Context) error {
	_, _, err := c.requestRaw(ctx, http.MethodPost, "/hands/kill", nil, nil, nil)
	return err
}

// ResetKill clears the kill switch. The confirm header is mandatory;
// a reset must never happen by accident.
func (c *Client) ResetKill(ctx context.Context) error {
	headers := http.Header{}
	headers.Set(ConfirmHeader, "reset")
	_, _, err := c.requestRaw(ctx, http.MethodPost, "/hands/reset", nil, nil, headers)
	return err
}

func (c *Client) GuardStatus(ctx context.Context) (api.GuardStatusResponse, error) {
	var resp api.GuardStatusResponse
	err := c.getJSON(ctx, "/hands/status", nil, &resp)
	return resp, err
}

func (c *Client) Click(ctx context.Context, token string, x, y int) error {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	_, _, err := c.requestRaw(ctx, http.MethodPost, "/hands/click", nil, api.ClickRequest{X: x, Y: y}, headers)
	return err
}

func (c *Client) Type(ctx context.Context, token, text string) error {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	_, _, err := c.requestRaw(ctx, http.MethodPost, "/hands/type", nil, api.TypeRequest{Text: text}, headers)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	payload, _, err := c.requestRaw(ctx, http.MethodGet, path, query, nil, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) requestRaw(ctx context.Context, method, path string, query url.Values, body any, headers http.Header) ([]byte, http.Header, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, nil, err
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		return nil, nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, resp.Header, nil
}
