package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"analytics-console/pkg/console"
	"analytics-console/pkg/console/session"
)

// Ensure Client implements the workspace backend
var _ session.Backend = &Client{}

const errorBodyLimit = 512

// Client talks to the analytics backend over HTTP.
type Client struct {
	BaseURL string
	// Client is used for request/response routes
	Client *http.Client
	// Streams carries query streams; it has no overall timeout since
	// replies have no declared length
	Streams *http.Client
	tracer  trace.Tracer
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
		Streams: &http.Client{},
		tracer:  otel.Tracer("analytics-console/backend"),
	}
}

// --- Request/Response structs (wire shapes of the analytics backend) ---

type queryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

type connectRequest struct {
	SessionID        string `json:"session_id"`
	ConnectionString string `json:"connection_string"`
}

type suggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

type exportMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type exportRequest struct {
	SessionID string          `json:"session_id"`
	Messages  []exportMessage `json:"messages"`
}

type pinRequest struct {
	SessionID   string      `json:"session_id"`
	Title       string      `json:"title"`
	ChartType   string      `json:"chart_type"`
	ChartConfig interface{} `json:"chart_config"`
}

func queryPath(mode console.Mode) string {
	switch mode {
	case console.ModeRelational:
		return "/api/analytics/sql/query"
	case console.ModeDocument:
		return "/api/analytics/rag/query"
	default:
		return "/api/chat/query"
	}
}

// --- Interface Implementation ---

// Query opens the reply stream for mode. The caller owns the returned body.
func (c *Client) Query(ctx context.Context, sessionID string, mode console.Mode, query string) (io.ReadCloser, error) {
	ctx, span := c.tracer.Start(ctx, "backend.Query", trace.WithAttributes(
		attribute.String("console.mode", mode.String()),
		attribute.String("console.session_id", sessionID),
	))
	defer span.End()

	req, err := c.newJSONRequest(ctx, http.MethodPost, queryPath(mode), queryRequest{SessionID: sessionID, Query: query})
	if err != nil {
		return nil, fail(span, console.ErrStream, err)
	}

	resp, err := c.Streams.Do(req)
	if err != nil {
		return nil, fail(span, console.ErrStream, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fail(span, console.ErrStream, statusError(resp))
	}
	return resp.Body, nil
}

func (c *Client) Suggestions(ctx context.Context, sessionID string, mode console.Mode) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "backend.Suggestions", trace.WithAttributes(
		attribute.String("console.mode", mode.String()),
	))
	defer span.End()

	path := fmt.Sprintf("/api/analytics/suggestions/%s/%s", mode.RouteKey(), url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fail(span, console.ErrSuggestionFetch, err)
	}

	var out suggestionsResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, fail(span, console.ErrSuggestionFetch, err)
	}
	if out.Suggestions == nil {
		out.Suggestions = []string{}
	}
	return out.Suggestions, nil
}

// Export sends messages in the given order and returns the rendered document.
func (c *Client) Export(ctx context.Context, sessionID string, messages []console.Message) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "backend.Export", trace.WithAttributes(
		attribute.Int("console.messages", len(messages)),
	))
	defer span.End()

	payload := exportRequest{SessionID: sessionID, Messages: make([]exportMessage, len(messages))}
	for i, m := range messages {
		payload.Messages[i] = exportMessage{Role: string(m.Role), Content: m.Content.PlainText()}
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/analytics/report/chat", payload)
	if err != nil {
		return nil, fail(span, console.ErrExport, err)
	}
	data, err := c.doBytes(req)
	if err != nil {
		return nil, fail(span, console.ErrExport, err)
	}
	return data, nil
}

func (c *Client) UploadDataset(ctx context.Context, filename string, r io.Reader) (*console.DatasetMeta, error) {
	ctx, span := c.tracer.Start(ctx, "backend.UploadDataset", trace.WithAttributes(
		attribute.String("console.filename", filename),
	))
	defer span.End()

	req, err := c.newMultipartRequest(ctx, "/api/data/upload", filename, r)
	if err != nil {
		return nil, fail(span, console.ErrUpload, err)
	}

	var meta console.DatasetMeta
	if err := c.doJSON(req, &meta); err != nil {
		return nil, fail(span, console.ErrUpload, err)
	}
	if meta.Filename == "" {
		meta.Filename = filename
	}
	return &meta, nil
}

func (c *Client) ConnectRelational(ctx context.Context, sessionID, connectionString string) error {
	ctx, span := c.tracer.Start(ctx, "backend.ConnectRelational")
	defer span.End()

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/analytics/sql/connect", connectRequest{
		SessionID:        sessionID,
		ConnectionString: connectionString,
	})
	if err != nil {
		return fail(span, console.ErrConnection, err)
	}
	if _, err := c.doBytes(req); err != nil {
		return fail(span, console.ErrConnection, err)
	}
	return nil
}

func (c *Client) IndexDocument(ctx context.Context, sessionID, filename string, r io.Reader) error {
	ctx, span := c.tracer.Start(ctx, "backend.IndexDocument", trace.WithAttributes(
		attribute.String("console.filename", filename),
	))
	defer span.End()

	path := "/api/analytics/rag/upload?session_id=" + url.QueryEscape(sessionID)
	req, err := c.newMultipartRequest(ctx, path, filename, r)
	if err != nil {
		return fail(span, console.ErrUpload, err)
	}
	if _, err := c.doBytes(req); err != nil {
		return fail(span, console.ErrUpload, err)
	}
	return nil
}

func (c *Client) Pin(ctx context.Context, sessionID string, pin console.Pin) error {
	ctx, span := c.tracer.Start(ctx, "backend.Pin")
	defer span.End()

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/analytics/dashboard/pin", pinRequest{
		SessionID:   sessionID,
		Title:       pin.Title,
		ChartType:   pin.ChartType,
		ChartConfig: pin.ChartConfig,
	})
	if err != nil {
		return fail(span, nil, err)
	}
	if _, err := c.doBytes(req); err != nil {
		return fail(span, nil, err)
	}
	return nil
}

// Report fetches the full data report. source is CSV, SQL or RAG.
func (c *Client) Report(ctx context.Context, source, sourceID string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "backend.Report", trace.WithAttributes(
		attribute.String("console.report_source", source),
	))
	defer span.End()

	path := fmt.Sprintf("/api/analytics/report/%s/%s", source, url.PathEscape(sourceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fail(span, console.ErrExport, err)
	}
	data, err := c.doBytes(req)
	if err != nil {
		return nil, fail(span, console.ErrExport, err)
	}
	return data, nil
}

// --- helpers ---

func (c *Client) newJSONRequest(ctx context.Context, method, path string, payload interface{}) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) newMultipartRequest(ctx context.Context, path, filename string, r io.Reader) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func (c *Client) doBytes(req *http.Request) ([]byte, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	data, err := c.doBytes(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return fmt.Errorf("backend error: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// fail records err on the span and tags it with kind when one applies.
func fail(span trace.Span, kind error, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if kind == nil {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
