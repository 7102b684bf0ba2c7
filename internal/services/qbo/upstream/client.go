// Package upstream talks to the QuickBooks Online v3 REST API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/louisbranch/qbo-mcp/internal/platform/id"
	"github.com/louisbranch/qbo-mcp/internal/platform/timeouts"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/criteria"
)

// Base URLs per environment.
const (
	SandboxBaseURL    = "https://sandbox-quickbooks.api.intuit.com"
	ProductionBaseURL = "https://quickbooks.api.intuit.com"

	DefaultMinorVersion = 75
)

const maxResponseBytes = 32 << 20

// API is the set of QBO calls the operation layer makes.
type API interface {
	Create(ctx context.Context, entity Entity, payload map[string]any) (map[string]any, error)
	Read(ctx context.Context, entity Entity, id string) (map[string]any, error)
	Update(ctx context.Context, entity Entity, payload map[string]any) (map[string]any, error)
	Delete(ctx context.Context, entity Entity, id, syncToken string) (map[string]any, error)
	// Query returns the whole response envelope, {"QueryResponse": {...}}.
	Query(ctx context.Context, query criteria.Query) (map[string]any, error)
	// Upload attaches a file to an entity and returns the new Attachable.
	Upload(ctx context.Context, upload Upload) (map[string]any, error)
}

// Upload is one file linked to an entity through the upload endpoint.
type Upload struct {
	FileName    string
	ContentType string
	Content     []byte
	EntityType  string
	EntityID    string
}

// Config locates one QBO company.
type Config struct {
	Environment  string
	RealmID      string
	MinorVersion int
	// BaseURL overrides the environment URL.
	BaseURL string
}

// BaseURLFor returns the API host for environment.
func BaseURLFor(environment string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "", "sandbox":
		return SandboxBaseURL, nil
	case "production":
		return ProductionBaseURL, nil
	default:
		return "", fmt.Errorf("unknown qbo environment %q", environment)
	}
}

// Client is an API over HTTP.
type Client struct {
	http         *http.Client
	baseURL      string
	realmID      string
	minorVersion int
	newRequestID func() (string, error)
	logger       *slog.Logger
	now          func() time.Time
	timeout      time.Duration
}

var _ API = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRequestIDs replaces the request id generator.
func WithRequestIDs(fn func() (string, error)) Option {
	return func(c *Client) {
		if fn != nil {
			c.newRequestID = fn
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestTimeout caps each round trip. Non-positive values keep the
// default.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient builds a client on httpClient, which should already carry
// authentication. Requests are traced through otelhttp.
func NewClient(httpClient *http.Client, cfg Config, opts ...Option) (*Client, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if strings.TrimSpace(cfg.RealmID) == "" {
		return nil, fmt.Errorf("realm id is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		var err error
		if baseURL, err = BaseURLFor(cfg.Environment); err != nil {
			return nil, err
		}
	}
	minorVersion := cfg.MinorVersion
	if minorVersion <= 0 {
		minorVersion = DefaultMinorVersion
	}

	traced := *httpClient
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	traced.Transport = otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "qbo " + r.Method + " " + lastPathSegment(r.URL.Path)
		}),
	)

	client := &Client{
		http:         &traced,
		baseURL:      baseURL,
		realmID:      cfg.RealmID,
		minorVersion: minorVersion,
		newRequestID: id.NewID,
		logger:       slog.Default(),
		now:          time.Now,
		timeout:      timeouts.UpstreamRequest,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func lastPathSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Create posts a new entity.
func (c *Client) Create(ctx context.Context, entity Entity, payload map[string]any) (map[string]any, error) {
	requestID, err := c.newRequestID()
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}
	query := url.Values{"requestid": {requestID}}
	body, err := c.do(ctx, http.MethodPost, entity.Path(), query, payload)
	if err != nil {
		return nil, err
	}
	return unwrapEntity(body, entity)
}

// Read fetches an entity by id.
func (c *Client) Read(ctx context.Context, entity Entity, id string) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, entity.Path()+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return unwrapEntity(body, entity)
}

// Update posts a full or sparse update. The payload must carry Id and
// SyncToken.
func (c *Client) Update(ctx context.Context, entity Entity, payload map[string]any) (map[string]any, error) {
	requestID, err := c.newRequestID()
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}
	query := url.Values{"requestid": {requestID}}
	body, err := c.do(ctx, http.MethodPost, entity.Path(), query, payload)
	if err != nil {
		return nil, err
	}
	return unwrapEntity(body, entity)
}

// Delete hard-deletes a transaction entity.
func (c *Client) Delete(ctx context.Context, entity Entity, id, syncToken string) (map[string]any, error) {
	requestID, err := c.newRequestID()
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}
	query := url.Values{"operation": {"delete"}, "requestid": {requestID}}
	body, err := c.do(ctx, http.MethodPost, entity.Path(), query, map[string]any{
		"Id":        id,
		"SyncToken": syncToken,
	})
	if err != nil {
		return nil, err
	}
	return unwrapEntity(body, entity)
}

// Query runs a query statement. Fetch-all queries page by MaxPageSize until
// a short page and return the merged rows.
func (c *Client) Query(ctx context.Context, q criteria.Query) (map[string]any, error) {
	if !q.FetchAll || q.Count {
		return c.query(ctx, q.String())
	}

	var rows []any
	start := 1
	for {
		page, err := c.query(ctx, q.Page(start, criteria.MaxPageSize))
		if err != nil {
			return nil, err
		}
		batch := criteria.ExtractRows(page, q.Entity)
		rows = append(rows, batch...)
		if len(batch) < criteria.MaxPageSize {
			break
		}
		start += criteria.MaxPageSize
	}
	if rows == nil {
		rows = []any{}
	}
	c.logger.Debug("qbo fetch-all complete", "entity", q.Entity, "rows", len(rows))
	return map[string]any{
		"QueryResponse": map[string]any{
			q.Entity:        rows,
			"startPosition": 1,
			"maxResults":    len(rows),
		},
	}, nil
}

func (c *Client) query(ctx context.Context, statement string) (map[string]any, error) {
	c.logger.Debug("qbo query", "query", statement)
	return c.do(ctx, http.MethodGet, "query", url.Values{"query": {statement}}, nil)
}

// Upload posts file content and its Attachable metadata as one multipart
// request linking the file to upload.EntityType/EntityID.
func (c *Client) Upload(ctx context.Context, upload Upload) (map[string]any, error) {
	metadata, err := json.Marshal(map[string]any{
		"FileName":    upload.FileName,
		"ContentType": upload.ContentType,
		"AttachableRef": []any{
			map[string]any{"EntityRef": map[string]any{"type": upload.EntityType, "value": upload.EntityID}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode attachable metadata: %w", err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	parts := []struct {
		name, fileName, contentType string
		content                     []byte
	}{
		{name: "file_metadata_0", fileName: "attachment.json", contentType: "application/json", content: metadata},
		{name: "file_content_0", fileName: upload.FileName, contentType: upload.ContentType, content: upload.Content},
	}
	for _, part := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, part.name, part.fileName))
		header.Set("Content-Type", part.contentType)
		w, err := form.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("create upload part %s: %w", part.name, err)
		}
		if _, err := w.Write(part.content); err != nil {
			return nil, fmt.Errorf("write upload part %s: %w", part.name, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close upload form: %w", err)
	}

	decoded, err := c.send(ctx, http.MethodPost, "upload", nil, &body, form.FormDataContentType())
	if err != nil {
		return nil, err
	}
	responses, _ := decoded["AttachableResponse"].([]any)
	for _, item := range responses {
		entry, _ := item.(map[string]any)
		if attachable, ok := entry["Attachable"].(map[string]any); ok {
			return attachable, nil
		}
	}
	return nil, fmt.Errorf("qbo upload response missing Attachable")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (map[string]any, error) {
	if payload == nil {
		return c.send(ctx, method, path, query, nil, "")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode qbo request: %w", err)
	}
	return c.send(ctx, method, path, query, bytes.NewReader(encoded), "application/json")
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if query == nil {
		query = url.Values{}
	}
	query.Set("minorversion", strconv.Itoa(c.minorVersion))
	endpoint := c.baseURL + "/v3/company/" + url.PathEscape(c.realmID) + "/" + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build qbo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read qbo response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(resp, raw, c.now())
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode qbo response: %w", err)
	}
	// QBO reports some failures inside a 200 body.
	if fault, ok := decoded["Fault"]; ok && fault != nil {
		return nil, newHTTPError(&http.Response{StatusCode: http.StatusBadRequest, Header: resp.Header}, raw, c.now())
	}
	return decoded, nil
}

func unwrapEntity(body map[string]any, entity Entity) (map[string]any, error) {
	if inner, ok := body[entity.Name].(map[string]any); ok {
		return inner, nil
	}
	return nil, fmt.Errorf("qbo response missing %s", entity.Name)
}
