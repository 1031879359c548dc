package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"repodocx/internal/conversion"
	"repodocx/internal/job"
	"repodocx/internal/logging"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 64 << 10
)

var ErrEmptyBaseURL = errors.New("remote: empty base url")

// Client talks to the conversion service. It implements job.Gateway and
// job.StatusSource and streams artifacts for retrieval.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for the service rooted at baseURL, e.g. http://localhost:5000/api.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}, nil
}

// BaseURL returns the service root the client was created with.
func (c *Client) BaseURL() string { return c.base.String() }

// Submit sends exactly one convert request. It never retries.
func (c *Client) Submit(ctx context.Context, req conversion.Request) (job.Handle, error) {
	body, err := json.Marshal(convertRequest{
		URL:        req.SourceURL,
		Token:      req.Credential,
		Extensions: req.Extensions,
	})
	if err != nil {
		return job.Handle{}, &job.SubmissionError{Message: job.MsgSubmissionFailed, Err: err}
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, bytes.NewReader(body), "convert")
	if err != nil {
		return job.Handle{}, &job.SubmissionError{Message: job.MsgSubmissionFailed, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug().
		Str("request_id", httpReq.Header.Get("X-Request-ID")).
		Str("url", req.SourceURL).
		Str("token", logging.Redact(req.Credential)).
		Msg("POST convert")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return job.Handle{}, &job.SubmissionError{Message: job.MsgSubmissionFailed, Err: err}
	}
	defer resp.Body.Close()

	var payload convertResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(payload.Error)
		if msg == "" {
			msg = job.MsgSubmissionFailed
		}
		return job.Handle{}, &job.SubmissionError{
			Message: msg,
			Err:     fmt.Errorf("convert returned status %d", resp.StatusCode),
		}
	}
	if decodeErr != nil {
		return job.Handle{}, &job.SubmissionError{Message: job.MsgSubmissionFailed, Err: fmt.Errorf("decode convert response: %w", decodeErr)}
	}
	if strings.TrimSpace(payload.JobID) == "" {
		return job.Handle{}, &job.SubmissionError{Message: job.MsgSubmissionFailed, Err: errors.New("convert response without job id")}
	}
	return job.Handle{JobID: payload.JobID}, nil
}

// Poll retrieves the status of one job. Any failure to obtain a readable
// status is reported as *job.PollTransportError.
func (c *Client) Poll(ctx context.Context, h job.Handle) (job.PollResult, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, nil, "status", h.JobID)
	if err != nil {
		return job.PollResult{}, &job.PollTransportError{Err: err}
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return job.PollResult{}, &job.PollTransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return job.PollResult{}, &job.PollTransportError{Err: statusError("status", resp)}
	}
	var payload statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return job.PollResult{}, &job.PollTransportError{Err: fmt.Errorf("decode status response: %w", err)}
	}
	if payload.Status == "" {
		return job.PollResult{}, &job.PollTransportError{Err: errors.New("status response without status")}
	}
	return payload.toPollResult(), nil
}

// Download opens the binary payload of one artifact. The caller closes the reader.
func (c *Client) Download(ctx context.Context, h job.Handle, filename string) (io.ReadCloser, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, nil, "download", h.JobID, filename)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", filename, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError("download", resp)
	}
	return resp.Body, nil
}

// Health checks that the service is reachable and returns its message.
func (c *Client) Health(ctx context.Context) (string, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, nil, "health")
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("health", resp)
	}
	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode health response: %w", err)
	}
	if payload.Message != "" {
		return payload.Message, nil
	}
	return payload.Status, nil
}

// Cleanup asks the service to delete a job and its generated files.
func (c *Client) Cleanup(ctx context.Context, h job.Handle) error {
	httpReq, err := c.newRequest(ctx, http.MethodDelete, nil, "cleanup", h.JobID)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("cleanup", resp)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method string, body io.Reader, segments ...string) (*http.Request, error) {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, c.base.EscapedPath())
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	endpoint, err := url.Parse(c.base.Scheme + "://" + c.base.Host + strings.Join(escaped, "/"))
	if err != nil {
		return nil, fmt.Errorf("build endpoint: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// statusError turns a non-2xx response into an error, preferring the server's message.
func statusError(op string, resp *http.Response) error {
	var payload errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&payload)
	msg := strings.TrimSpace(payload.Error)
	if msg == "" {
		msg = strings.TrimSpace(payload.Message)
	}
	if msg == "" {
		return fmt.Errorf("%s returned status %d", op, resp.StatusCode)
	}
	return fmt.Errorf("%s returned status %d: %s", op, resp.StatusCode, msg)
}
