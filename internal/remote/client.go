package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aidoc/editor/internal/section"

	"github.com/golang/glog"
)

const (
	defaultHTTPTimeout        = 60 * time.Second
	defaultHTTPConnectTimeout = 5 * time.Second
	defaultHTTPTLSTimeout     = 5 * time.Second
	maxErrorBody              = 4 << 10
)

func defaultHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHTTPConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHTTPTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// invalidator is implemented by credentials that cache their token.
type invalidator interface {
	Invalidate()
}

// Client implements Sync over the backend's JSON API.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http = defaultHTTPClient(timeout)
		}
	}
}

func NewClient(baseURL string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    defaultHTTPClient(defaultHTTPTimeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireProject accepts the section list under either "sections" or the
// backend's relationship name "contents".
type wireProject struct {
	ID       int64             `json:"id"`
	Title    string            `json:"title"`
	DocType  section.DocType   `json:"doc_type"`
	Sections []section.Section `json:"sections"`
	Contents []section.Section `json:"contents"`
}

func (c *Client) FetchProject(ctx context.Context, projectID int64) (section.Project, error) {
	var wire wireProject
	if err := c.do(ctx, "fetch project", http.MethodGet, projectPath(projectID), nil, nil, &wire); err != nil {
		return section.Project{}, err
	}
	if !wire.DocType.Valid() {
		return section.Project{}, &TransportError{
			Op:     "fetch project",
			Method: http.MethodGet,
			Path:   projectPath(projectID),
			Status: http.StatusOK,
			Err:    fmt.Errorf("decode response: unknown doc_type %q", wire.DocType),
		}
	}
	sections := wire.Sections
	if sections == nil {
		sections = wire.Contents
	}
	if sections == nil {
		sections = []section.Section{}
	}
	return section.Project{
		ID:       wire.ID,
		Title:    wire.Title,
		DocType:  wire.DocType,
		Sections: sections,
	}, nil
}

func (c *Client) CreateSection(ctx context.Context, projectID int64, req CreateRequest) (section.Section, error) {
	var out section.Section
	err := c.do(ctx, "create section", http.MethodPost, projectPath(projectID)+"/content", nil, req, &out)
	return out, err
}

func (c *Client) DeleteSection(ctx context.Context, projectID, sectionID int64) error {
	return c.do(ctx, "delete section", http.MethodDelete, contentPath(projectID, sectionID), nil, nil, nil)
}

func (c *Client) SetFeedback(ctx context.Context, projectID, sectionID int64, feedback section.Feedback) (section.Section, error) {
	body := struct {
		Feedback section.Feedback `json:"feedback"`
	}{Feedback: feedback}
	return c.sectionCall(ctx, "set feedback", http.MethodPut, contentPath(projectID, sectionID)+"/feedback", nil, body)
}

func (c *Client) SetNotes(ctx context.Context, projectID, sectionID int64, notes string) (section.Section, error) {
	body := struct {
		Notes string `json:"notes"`
	}{Notes: notes}
	return c.sectionCall(ctx, "set notes", http.MethodPut, contentPath(projectID, sectionID)+"/notes", nil, body)
}

func (c *Client) Generate(ctx context.Context, projectID, sectionID int64) (section.Section, error) {
	query := url.Values{}
	query.Set("project_id", strconv.FormatInt(projectID, 10))
	query.Set("content_id", strconv.FormatInt(sectionID, 10))
	return c.sectionCall(ctx, "generate", http.MethodPost, "/generate/content", query, nil)
}

func (c *Client) Refine(ctx context.Context, sectionID int64, prompt string) (section.Section, error) {
	body := struct {
		ContentID int64  `json:"content_id"`
		Prompt    string `json:"prompt"`
	}{ContentID: sectionID, Prompt: prompt}
	return c.sectionCall(ctx, "refine", http.MethodPost, "/generate/refine", nil, body)
}

func (c *Client) PersistOrder(ctx context.Context, projectID int64, orderedIDs []int64) error {
	body := struct {
		OrderedContentIDs []int64 `json:"ordered_content_ids"`
	}{OrderedContentIDs: orderedIDs}
	return c.do(ctx, "persist order", http.MethodPut, projectPath(projectID)+"/reorder", nil, body, nil)
}

// Ping reports whether the backend answers at all. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "ping", Method: http.MethodGet, Path: "/", Err: err}
	}
	resp.Body.Close()
	return nil
}

// sectionCall decodes a section-bearing response. Bodies without an id, such
// as {"ok": true}, come back as a zero Section.
func (c *Client) sectionCall(ctx context.Context, op, method, path string, query url.Values, body any) (section.Section, error) {
	var raw json.RawMessage
	if err := c.do(ctx, op, method, path, query, body, &raw); err != nil {
		return section.Section{}, err
	}
	var probe struct {
		ID *int64 `json:"id"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &probe) != nil || probe.ID == nil {
		return section.Section{}, nil
	}
	var out section.Section
	if err := json.Unmarshal(raw, &out); err != nil {
		return section.Section{}, &TransportError{Op: op, Method: method, Path: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: credentials: %w", op, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		glog.V(2).Infof("remote: %s %s failed after %s: %v", method, path, time.Since(started), err)
		return &TransportError{Op: op, Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()
	glog.V(2).Infof("remote: %s %s -> %d in %s", method, path, resp.StatusCode, time.Since(started))

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.creds.(invalidator); ok {
			inv.Invalidate()
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{
			Op:      op,
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Message: errorMessage(responseBody),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Method: method, Path: path, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], bytes.TrimSpace(responseBody)...)
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return &TransportError{Op: op, Method: method, Path: path, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage pulls "detail" out of a JSON error body and otherwise returns
// the trimmed body text.
func errorMessage(body []byte) string {
	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if detail, ok := payload.Detail.(string); ok && detail != "" {
			return detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func projectPath(projectID int64) string {
	return "/projects/" + strconv.FormatInt(projectID, 10)
}

func contentPath(projectID, sectionID int64) string {
	return projectPath(projectID) + "/content/" + strconv.FormatInt(sectionID, 10)
}
