// Package remote is the shared HTTP transport for engines served over an API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/tomd/internal/infrastructure/resilience"
)

const maxResponseSize = 256 << 20

type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

// New returns a client for the engine called name. A nil executor disables
// retries and circuit breaking.
func New(name, baseURL string, httpClient *http.Client, executor *resilience.Executor) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		executor:   executor,
	}
}

func (c *Client) Name() string { return c.name }

// Upload is one multipart file submission.
type Upload struct {
	Path     string
	Field    string
	Filename string
	Data     []byte
	Fields   map[string][]string
	Header   http.Header
}

// PostFile submits up and decodes the JSON response into T.
func PostFile[T any](ctx context.Context, c *Client, up Upload) (T, error) {
	out, err := resilience.Do(ctx, c.executor, c.name+".convert", func(ctx context.Context) (T, error) {
		var out T
		err := c.postMultipart(ctx, up, &out)
		return out, err
	}, classifyHTTPError)
	if err != nil {
		var zero T
		return zero, wrapTemporaryIfNeeded(c.name, err)
	}
	return out, nil
}

func (c *Client) postMultipart(ctx context.Context, up Upload, out any) error {
	// The body is rebuilt per attempt because a retry needs a fresh reader.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, values := range up.Fields {
		for _, v := range values {
			if err := mw.WriteField(name, v); err != nil {
				return fmt.Errorf("write %s field %s: %w", c.name, name, err)
			}
		}
	}
	part, err := mw.CreateFormFile(up.Field, up.Filename)
	if err != nil {
		return fmt.Errorf("create %s file part: %w", c.name, err)
	}
	if _, err := part.Write(up.Data); err != nil {
		return fmt.Errorf("write %s file part: %w", c.name, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close %s multipart body: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+up.Path, &body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", c.name, err)
	}
	for key, values := range up.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return newHTTPStatusError(c.name, resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}

func newHTTPStatusError(engine string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Engine:     engine,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
