// Package transport provides the HTTP connection to a statement server.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/queryduck/queryduck-go/pkg/qderr"
)

// DefaultTimeout bounds a single request when no client is supplied.
const DefaultTimeout = 60 * time.Second

// Connection talks JSON to a statement server with basic authentication.
type Connection struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
	// Compression asks the server for zstd-compressed responses.
	Compression bool
}

// NewConnection creates a connection. baseURL is the server root, for
// example http://localhost:5000/api/v0.
func NewConnection(baseURL, username, password string) *Connection {
	return &Connection{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// errorResponse is the body of a failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (c *Connection) Get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

func (c *Connection) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Connection) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Connection) Delete(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodDelete, path, params, nil, out)
}

func (c *Connection) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	target := c.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Compression {
		req.Header.Set("Accept-Encoding", "zstd")
	}
	if c.Username != "" || c.Password != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := responseBody(resp)
	if err != nil {
		return err
	}
	defer respBody.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", qderr.ErrNotFound, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, respBody)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(respBody).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// responseBody undoes zstd content encoding.
func responseBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Encoding") != "zstd" {
		return io.NopCloser(resp.Body), nil
	}
	dec, err := zstd.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	return dec.IOReadCloser(), nil
}

func parseError(status int, body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		if errResp.Message != "" {
			return fmt.Errorf("%w: server error %d: %s: %s", qderr.ErrGeneral, status, errResp.Error, errResp.Message)
		}
		return fmt.Errorf("%w: server error %d: %s", qderr.ErrGeneral, status, errResp.Error)
	}
	return fmt.Errorf("%w: server error %d: %s", qderr.ErrGeneral, status, strings.TrimSpace(string(data)))
}
