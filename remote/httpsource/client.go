package httpsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/mutation"
)

const (
	totalCountHeader = "X-Total-Count"
	requestIDHeader  = "X-Request-ID"

	// DefaultTimeout bounds every request made by a Client.
	DefaultTimeout = 10 * time.Second
)

// Client runs queries and writes against the admin REST API.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	pageSize   int
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its Timeout applies.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithPageSize sets the page size the API serves. It drives the full-page
// heuristic when responses carry no total.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, &cache.InvalidParamError{Field: "baseURL", Message: "must be a valid URL", Err: err}
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, &cache.InvalidParamError{Field: "baseURL", Message: "must be absolute"}
	}

	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		pageSize:   cache.DefaultPageSize,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch runs the list or detail query behind key.
func (c *Client) Fetch(ctx context.Context, key cache.Key) (*cache.ResultPage, error) {
	params := key.Params()
	page := strconv.Itoa(key.Page())

	switch key.Kind() {
	case cache.KindUsers:
		q := url.Values{}
		q.Set("searchQuery", params[cache.ParamSearch])
		q.Set("page", page)
		if role := params[cache.ParamRole]; role != "" {
			q.Set("role", role)
		}
		return c.list(ctx, key, c.endpoint(q, "api", "allUsers", "search"))

	case cache.KindCourseMembers:
		courseID := params[cache.ParamCourseID]
		if courseID == "" {
			return nil, &cache.InvalidParamError{Field: cache.ParamCourseID, Message: "cannot be empty"}
		}
		q := url.Values{}
		q.Set("page", page)
		if mt := params[cache.ParamMemberType]; mt != "" {
			q.Set("memberType", mt)
		}
		if search := params[cache.ParamSearch]; search != "" {
			q.Set("searchQuery", search)
		}
		return c.list(ctx, key, c.endpoint(q, "api", "course", courseID, "member"))

	case cache.KindCourse:
		id := params[cache.ParamID]
		if id == "" {
			return nil, &cache.InvalidParamError{Field: cache.ParamID, Message: "cannot be empty"}
		}
		var rec cache.Record
		if _, err := c.do(ctx, http.MethodGet, c.endpoint(nil, "api", "course", id), nil, &rec); err != nil {
			return nil, err
		}
		return &cache.ResultPage{Items: []cache.Record{rec}, Page: 1}, nil
	}
	return nil, fmt.Errorf("httpsource: no route for kind %q", key.Kind())
}

func (c *Client) list(ctx context.Context, key cache.Key, target string) (*cache.ResultPage, error) {
	var items []cache.Record
	header, err := c.do(ctx, http.MethodGet, target, nil, &items)
	if err != nil {
		return nil, err
	}

	out := &cache.ResultPage{
		Items:    items,
		PageSize: c.pageSize,
		Page:     key.Page(),
	}
	if out.Items == nil {
		out.Items = []cache.Record{}
	}
	if raw := header.Get(totalCountHeader); raw != "" {
		if total, err := strconv.Atoi(raw); err == nil && total >= 0 {
			out.Total = total
		} else {
			c.logger.Warn("httpsource: ignoring malformed total", "key", key.String(), "value", raw)
		}
	}
	return out, nil
}

// Mutate performs a write.
func (c *Client) Mutate(ctx context.Context, action mutation.Action, p mutation.Payload) (cache.Record, error) {
	var (
		method string
		target string
		body   any
	)

	switch {
	case action == mutation.ActionEnroll:
		method = http.MethodPost
		target = c.endpoint(nil, "api", "course", p.CourseID, "member")
		body = map[string]any{"memberType": p.MemberType, "userIds": p.UserIDs}

	case p.Kind != cache.KindUsers:
		return cache.Record{}, fmt.Errorf("httpsource: no route for %s %q", action, p.Kind)

	case action == mutation.ActionCreate:
		fields := make(map[string]any, len(p.Fields)+1)
		for k, v := range p.Fields {
			fields[k] = v
		}
		if _, ok := fields["role"]; !ok && p.Category != "" {
			fields["role"] = p.Category
		}
		method, target, body = http.MethodPost, c.endpoint(nil, "api", "allUsers"), fields

	case action == mutation.ActionUpdate:
		method, target, body = http.MethodPatch, c.endpoint(nil, "api", "allUsers", p.ID), p.Fields

	case action == mutation.ActionDelete:
		method, target = http.MethodDelete, c.endpoint(nil, "api", "allUsers", p.ID)

	default:
		return cache.Record{}, fmt.Errorf("httpsource: unsupported action %q", action)
	}

	var rec cache.Record
	if _, err := c.do(ctx, method, target, body, &rec); err != nil {
		return cache.Record{}, err
	}
	return rec, nil
}

func (c *Client) endpoint(q url.Values, segments ...string) string {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = c.base.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.Join(escaped, "/")
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("httpsource: encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("httpsource: build request: %w", err)
	}
	rid := uuid.NewString()
	req.Header.Set(requestIDHeader, rid)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("httpsource: request failed", "request_id", rid, "method", method, "url", target, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.Debug("httpsource: request",
		"request_id", rid,
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp, rid)
	}
	if out == nil {
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("httpsource: decode %s %s: %w", method, target, err)
	}
	return resp.Header, nil
}

// decodeError turns an error response into a *goerrors.Error. Bodies that are
// not the standard envelope fall back to the status text.
func decodeError(resp *http.Response, rid string) error {
	var envelope struct {
		Error struct {
			Category  string `json:"category"`
			TextCode  string `json:"text_code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	category := goerrors.HTTPStatusToCategory(resp.StatusCode)
	message := http.StatusText(resp.StatusCode)
	textCode := goerrors.HTTPStatusToTextCode(resp.StatusCode)
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		if envelope.Error.Category != "" {
			category = goerrors.Category(envelope.Error.Category)
		}
		if envelope.Error.TextCode != "" {
			textCode = envelope.Error.TextCode
		}
		if envelope.Error.RequestID != "" {
			rid = envelope.Error.RequestID
		}
	}

	return goerrors.New(message, category).
		WithCode(resp.StatusCode).
		WithTextCode(textCode).
		WithRequestID(rid)
}
