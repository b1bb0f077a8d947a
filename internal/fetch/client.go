package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hello-sally/jobwatch/internal/job"
)

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Client reads job state from the report service. Each call is a single
// round trip with no retries; retrying is the poll controller's job.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithToken sends the token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying client. Its Timeout is kept.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client targeting baseURL (e.g. "http://127.0.0.1:8000").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "fetch")
	return c
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// ReportDetail fetches GET /reports/{id}.
func (c *Client) ReportDetail(ctx context.Context, reportID job.ID) (*Report, error) {
	path := "/reports/" + url.PathEscape(reportID.String())
	var p reportPayload
	if err := c.get(ctx, path, &p); err != nil {
		return nil, err
	}
	if p.ID == "" || p.AudioFiles == nil {
		return nil, &MalformedResponseError{Path: path, Err: fmt.Errorf("missing id or audio_files")}
	}
	return p.report(), nil
}

// AudioFiles returns the transcription snapshot for a report.
func (c *Client) AudioFiles(ctx context.Context, reportID job.ID) (job.Snapshot, error) {
	r, err := c.ReportDetail(ctx, reportID)
	if err != nil {
		return job.Snapshot{}, err
	}
	return r.Files, nil
}

// AnalysisStatus fetches GET /reports/{id}/analysis-status.
func (c *Client) AnalysisStatus(ctx context.Context, reportID job.ID) (job.Analysis, error) {
	path := "/reports/" + url.PathEscape(reportID.String()) + "/analysis-status"
	var p analysisStatusPayload
	if err := c.get(ctx, path, &p); err != nil {
		return job.Analysis{}, err
	}
	if p.Error != "" {
		return job.Analysis{}, &MalformedResponseError{Path: path, Err: fmt.Errorf("service error: %s", p.Error)}
	}
	if !p.ReportStatus.Valid() {
		return job.Analysis{}, &MalformedResponseError{Path: path, Err: fmt.Errorf("unknown report_status %q", p.ReportStatus)}
	}
	return job.Analysis{
		Status:           p.ReportStatus,
		HasAnalysis:      p.HasAnalysis,
		AnalysisCount:    p.AnalysisCount,
		LatestAnalysisAt: p.LatestAnalysis.ptr(),
	}, nil
}

// LatestAnalysis fetches GET /reports/{id}/ai-analysis/latest.
func (c *Client) LatestAnalysis(ctx context.Context, reportID job.ID) (*job.LatestResult, error) {
	path := "/reports/" + url.PathEscape(reportID.String()) + "/ai-analysis/latest"
	var p latestPayload
	if err := c.get(ctx, path, &p); err != nil {
		return nil, err
	}
	res := &job.LatestResult{
		ReportID:    p.ReportID,
		HasAnalysis: p.HasAnalysis,
		GeneratedAt: p.GeneratedAt.ptr(),
		PromptID:    p.AIPromptID,
	}
	if len(p.AnalysisData) > 0 && string(p.AnalysisData) != "null" {
		res.Data = append([]byte(nil), p.AnalysisData...)
	}
	return res, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &FetchError{Method: http.MethodGet, Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return &FetchError{Method: http.MethodGet, Path: path, Err: err}
	}
	defer resp.Body.Close()
	c.logger.Debug("request", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &FetchError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &FetchError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &MalformedResponseError{Path: path, Err: err}
	}
	return nil
}
