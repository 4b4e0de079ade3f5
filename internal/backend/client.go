// Package backend talks to the privileged Installer Backend over its Unix
// socket HTTP API.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/battlewithbytes/modstore/internal/downloads"
)

// Compile-time check that Client can receive cancellations from the Registry.
var _ downloads.Canceller = (*Client)(nil)

// ErrStreamClosed is returned when the backend ends the event stream.
var ErrStreamClosed = errors.New("event stream closed")

// maxEventLine bounds a single NDJSON event.
const maxEventLine = 1 << 20

// Client connects to the Installer Backend over a Unix socket.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	socketPath   string

	timeout   time.Duration
	reconnect time.Duration
	log       *zap.SugaredLogger

	inflight sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = l }
}

// WithRequestTimeout bounds every request except the event stream.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithReconnectDelay sets how long Stream waits before reconnecting.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnect = d }
}

// NewClient creates a backend client that communicates over the given Unix socket.
func NewClient(socketPath string, opts ...Option) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	c := &Client{
		streamClient: &http.Client{Transport: transport},
		baseURL:      "http://backend",
		socketPath:   socketPath,
		timeout:      10 * time.Second,
		reconnect:    2 * time.Second,
		log:          zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = &http.Client{Transport: transport, Timeout: c.timeout}
	return c
}

// SocketPath returns the path to the Unix socket.
func (c *Client) SocketPath() string {
	return c.socketPath
}

type installRequest struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

type installResponse struct {
	BackendID string `json:"backendId"`
}

type cancelRequest struct {
	BackendID string `json:"backendId"`
}

func (c *Client) post(ctx context.Context, endpoint string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request to %s: %w", endpoint, err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	defer resp.Body.Close()
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("backend returned HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("backend: %s", errResp.Error)
}

// Install asks the backend to download and install url. A non-empty id asks
// the backend to adopt it for its lifecycle events. The backend's id for the
// install is returned.
func (c *Client) Install(ctx context.Context, id, url string) (string, error) {
	resp, err := c.post(ctx, "/v1/install", installRequest{ID: id, URL: url})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", decodeError(resp)
	}
	defer resp.Body.Close()
	var result installResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding install response: %w", err)
	}
	if result.BackendID == "" {
		result.BackendID = id
	}
	return result.BackendID, nil
}

// Cancel asks the backend to abort backendID. It returns immediately;
// failures are only logged.
func (c *Client) Cancel(backendID string) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.cancel(ctx, backendID); err != nil {
			c.log.Warnw("backend cancel failed", "backend_id", backendID, "err", err)
		}
	}()
}

func (c *Client) cancel(ctx context.Context, backendID string) error {
	resp, err := c.post(ctx, "/v1/cancel", cancelRequest{BackendID: backendID})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return decodeError(resp)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Stream delivers backend lifecycle events to fn until ctx is done,
// reconnecting after the reconnect delay whenever the stream drops. Lines
// that cannot be decoded are logged and skipped. fn is called from the
// Stream goroutine only.
func (c *Client) Stream(ctx context.Context, fn func(downloads.Event)) error {
	for {
		err := c.streamOnce(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warnw("backend event stream interrupted", "err", err, "retry_in", c.reconnect)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnect):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, fn func(downloads.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/x-ndjson")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	defer resp.Body.Close()
	c.log.Infow("connected to backend event stream", "socket", c.socketPath)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := downloads.DecodeEvent(line)
		if err != nil {
			c.log.Warnw("skipping backend event", "err", err, "line", string(line))
			continue
		}
		fn(ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return ErrStreamClosed
}

// Health checks if the backend is running and healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend health check: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Close waits for in-flight cancellation requests.
func (c *Client) Close() {
	c.inflight.Wait()
}
