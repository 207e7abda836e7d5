// Package convert talks to a Gotenberg compatible conversion server.
package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// convertPath is the LibreOffice conversion route, relative to the server URL.
const convertPath = "forms/libreoffice/convert"

// ServerError is returned when the conversion server answers with a
// non-success status.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("unexpected response by gotenberg server: %d", e.StatusCode)
}

// Client sends files to the conversion server.
type Client struct {
	httpClient *http.Client
	serverURL  func() string
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient = &http.Client{Timeout: d}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient returns a client. serverURL is called for every conversion so
// configuration changes apply to the next request.
func NewClient(serverURL func() string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		serverURL:  serverURL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert uploads content as a file named filename and returns the rendered
// PDF. The caller must close the returned stream.
func (c *Client) Convert(ctx context.Context, filename string, content io.Reader) (io.ReadCloser, error) {
	endpoint, err := url.JoinPath(c.serverURL(), convertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build conversion url: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("files", filename)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, fmt.Errorf("failed to create conversion request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, fmt.Errorf("failed to send conversion request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		c.logger.Warn("conversion server rejected file", "filename", filename, "status", resp.StatusCode)
		return nil, &ServerError{StatusCode: resp.StatusCode}
	}

	c.logger.Debug("converted file", "filename", filename, "duration", time.Since(start))
	return resp.Body, nil
}
