// Package giteestore is a client for a Gitee-style repository contents API
// used as an ad hoc JSON blob store. Blobs are addressed by path, carry a
// content sha for optimistic-concurrency updates, and are base64-encoded on
// the wire.
package giteestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotFound means no blob exists at the path. Callers treat it as
	// "empty", not as a failure.
	ErrNotFound = errors.New("blob not found")

	// ErrConflict means a create hit an existing blob, or an update's sha
	// no longer matches the store's current revision.
	ErrConflict = errors.New("blob revision conflict")
)

// TransientError wraps network failures, non-2xx responses, and malformed
// bodies. It is reported to callers, never raised as a crash; the poll loop
// degrades to an empty result instead.
type TransientError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func transient(op, path string, err error) error {
	return &TransientError{Op: op, Path: path, Err: err}
}

// Entry is one item of a folder listing.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

type Client struct {
	Token   string
	Repo    string // "owner/name"
	BaseURL string // e.g. https://gitee.com/api/v5
	Branch  string
	HTTP    *http.Client
	Logger  *slog.Logger
}

const defaultTimeout = 15 * time.Second

func (c *Client) client() *http.Client {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: defaultTimeout}
	}
	return c.HTTP
}

func (c *Client) log() *slog.Logger {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c.Logger
}

func (c *Client) contentsURL(path string) string {
	return c.BaseURL + "/repos/" + c.Repo + "/contents/" + path
}

// contentResponse is the API's representation of a single file.
type contentResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

// Get reads the blob at path and returns its decoded content together with
// the revision sha needed for a conditional update.
func (c *Client) Get(ctx context.Context, path string) ([]byte, string, error) {
	body, err := c.freshGet(ctx, c.contentsURL(path), path)
	if err != nil {
		return nil, "", err
	}

	// A folder at this path answers with a JSON array. That is an
	// operational misconfiguration, not a readable blob.
	if len(bytes.TrimSpace(body)) > 0 && bytes.TrimSpace(body)[0] == '[' {
		return nil, "", transient("get", path, errors.New("path is a folder, not a file"))
	}

	var file contentResponse
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, "", transient("get", path, err)
	}
	if file.Content == "" || file.SHA == "" {
		return nil, "", transient("get", path, errors.New("response missing content or sha"))
	}

	decoded, err := decodeBase64(file.Content)
	if err != nil {
		return nil, "", transient("get", path, err)
	}
	return decoded, file.SHA, nil
}

// List returns the entries of a folder-like path, in the order the store
// reports them.
func (c *Client) List(ctx context.Context, folder string) ([]Entry, error) {
	body, err := c.freshGet(ctx, c.contentsURL(folder), folder)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, transient("list", folder, err)
	}
	return entries, nil
}

// Download fetches raw (non-base64) file content from a listing entry's
// download URL, with the same freshness policy as Get.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, transient("download", rawURL, err)
	}
	q := u.Query()
	freshenQuery(q)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, transient("download", rawURL, err)
	}
	freshenHeaders(req.Header)

	res, err := c.client().Do(req)
	if err != nil {
		return nil, transient("download", rawURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.StatusCode != http.StatusOK {
		return nil, transient("download", rawURL, fmt.Errorf("status %d", res.StatusCode))
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, transient("download", rawURL, err)
	}
	return body, nil
}

// Create writes a new blob at path. ErrConflict means a blob already exists
// there.
func (c *Client) Create(ctx context.Context, path string, content []byte, message string) error {
	payload := map[string]string{
		"access_token": c.Token,
		"content":      base64.StdEncoding.EncodeToString(content),
		"message":      message,
		"branch":       c.Branch,
	}
	status, err := c.send(ctx, http.MethodPost, path, payload)
	if err != nil {
		return transient("create", path, err)
	}
	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		return nil
	case status >= 400 && status < 500:
		return ErrConflict
	default:
		return transient("create", path, fmt.Errorf("status %d", status))
	}
}

// Update overwrites the blob at path, but only if sha still names the
// store's current revision. A mismatch surfaces as ErrConflict and the
// caller re-reads and retries or abandons.
func (c *Client) Update(ctx context.Context, path string, content []byte, sha string, message string) error {
	payload := map[string]string{
		"access_token": c.Token,
		"content":      base64.StdEncoding.EncodeToString(content),
		"message":      message,
		"sha":          sha,
		"branch":       c.Branch,
	}
	status, err := c.send(ctx, http.MethodPut, path, payload)
	if err != nil {
		return transient("update", path, err)
	}
	switch {
	case status == http.StatusOK:
		return nil
	case status >= 400 && status < 500:
		return ErrConflict
	default:
		return transient("update", path, fmt.Errorf("status %d", status))
	}
}

// Upsert creates the blob, and on conflict re-reads the current revision
// and updates it. The read-update round is retried once if another writer
// slips in between.
func (c *Client) Upsert(ctx context.Context, path string, content []byte, message string) error {
	err := c.Create(ctx, path, content, message)
	if !errors.Is(err, ErrConflict) {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		_, sha, err := c.Get(ctx, path)
		if err != nil {
			return err
		}
		err = c.Update(ctx, path, content, sha, message)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		c.log().Warn("upsert lost revision race, re-reading", "path", path, "attempt", attempt+1)
	}
	return ErrConflict
}

func (c *Client) freshGet(ctx context.Context, rawURL, path string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, transient("get", path, err)
	}
	q := u.Query()
	q.Set("access_token", c.Token)
	freshenQuery(q)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, transient("get", path, err)
	}
	freshenHeaders(req.Header)

	res, err := c.client().Do(req)
	if err != nil {
		return nil, transient("get", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.StatusCode != http.StatusOK {
		return nil, transient("get", path, fmt.Errorf("status %d", res.StatusCode))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, transient("get", path, err)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload map[string]string) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.contentsURL(path), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client().Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	return res.StatusCode, nil
}

// decodeBase64 strips the whitespace the API folds into long content
// bodies before decoding.
func decodeBase64(encoded string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, encoded)
	return base64.StdEncoding.DecodeString(cleaned)
}
