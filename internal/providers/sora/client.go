package sora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
)

// Options configures the provider client.
type Options struct {
	APIKey     string
	OrgID      string
	ProjectID  string
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client wraps the OpenAI video generation API (create, poll, list, delete,
// remix, download). It performs no retries; transient failures propagate to
// the caller as UpstreamError values.
//
// With no API key configured the client runs in mock mode: jobs are
// simulated in memory with deterministic progress, so a local dashboard demo
// works without credentials.
type Client struct {
	baseURL    string
	apiKey     string
	orgID      string
	projectID  string
	httpClient *http.Client
	logger     zerolog.Logger
	mock       *mockState
}

// CreateRequest carries the generation parameters for Create and Remix.
type CreateRequest struct {
	Prompt  string
	Model   string
	Size    string
	Seconds string
	Quality string
}

// ListResult is one page of upstream videos.
type ListResult struct {
	Videos  []domain.Video
	HasMore bool
	After   string
}

// DownloadResult is a time-limited content URL for a completed video.
type DownloadResult struct {
	URL       string
	ExpiresAt time.Time
}

// NewClient builds a provider client. A 30s request timeout is applied when
// the caller supplies no http.Client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		orgID:      opts.OrgID,
		projectID:  opts.ProjectID,
		httpClient: httpClient,
		logger:     opts.Logger.With().Str("component", "sora").Logger(),
	}
	if c.apiKey == "" {
		c.logger.Warn().Msg("no api key configured, running in mock mode")
		c.mock = newMockState()
	}
	return c
}

// MockMode reports whether the client simulates jobs instead of calling the
// provider.
func (c *Client) MockMode() bool { return c.mock != nil }

// Create submits a new video generation job.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*domain.Video, error) {
	if c.mock != nil {
		return c.mock.create(req, ""), nil
	}

	payload := createPayload(req, "")
	var out videoPayload
	if err := c.doJSON(ctx, http.MethodPost, "/videos", payload, &out); err != nil {
		return nil, err
	}
	c.logger.Debug().Str("video_id", out.ID).Str("status", out.Status).Msg("video created")
	return out.toDomain(), nil
}

// GetStatus fetches the current upstream state of a job.
func (c *Client) GetStatus(ctx context.Context, id string) (*domain.Video, error) {
	if c.mock != nil {
		return c.mock.getStatus(id)
	}

	var out videoPayload
	if err := c.doJSON(ctx, http.MethodGet, "/videos/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

// List returns one page of videos known to the provider.
func (c *Client) List(ctx context.Context, limit int, after string) (*ListResult, error) {
	if c.mock != nil {
		return c.mock.list(limit), nil
	}

	path := "/videos?limit=" + strconv.Itoa(limit)
	if after != "" {
		path += "&after=" + url.QueryEscape(after)
	}

	var out struct {
		Data    []videoPayload `json:"data"`
		HasMore bool           `json:"has_more"`
		After   string         `json:"after"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	res := &ListResult{HasMore: out.HasMore, After: out.After}
	for _, p := range out.Data {
		res.Videos = append(res.Videos, *p.toDomain())
	}
	return res, nil
}

// Delete removes the job upstream.
func (c *Client) Delete(ctx context.Context, id string) error {
	if c.mock != nil {
		return c.mock.delete(id)
	}
	return c.doJSON(ctx, http.MethodDelete, "/videos/"+url.PathEscape(id), nil, nil)
}

// Download resolves the content URL for a completed video. The URL is valid
// for roughly an hour. A job that is not completed yields ErrNotReady.
func (c *Client) Download(ctx context.Context, id string) (*DownloadResult, error) {
	if c.mock != nil {
		return c.mock.download(id)
	}

	var out struct {
		URL         string `json:"url"`
		DownloadURL string `json:"download_url"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/videos/"+url.PathEscape(id)+"/content", nil, &out); err != nil {
		// The provider answers 409 on the content endpoint while the job
		// is unfinished. Other client errors (400 parameter rejections)
		// propagate untranslated.
		if isConflict(err) {
			return nil, domain.ErrNotReady
		}
		return nil, err
	}

	contentURL := out.URL
	if contentURL == "" {
		contentURL = out.DownloadURL
	}
	return &DownloadResult{URL: contentURL, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// Remix submits a new job derived from a completed source video. A source
// that is not completed yields ErrSourceNotCompleted.
func (c *Client) Remix(ctx context.Context, sourceID string, req CreateRequest) (*domain.Video, error) {
	if c.mock != nil {
		return c.mock.remix(sourceID, req)
	}

	payload := createPayload(req, sourceID)
	var out videoPayload
	if err := c.doJSON(ctx, http.MethodPost, "/videos", payload, &out); err != nil {
		if isConflict(err) {
			return nil, domain.ErrSourceNotCompleted
		}
		return nil, err
	}
	c.logger.Debug().Str("video_id", out.ID).Str("source_id", sourceID).Msg("remix created")
	return out.toDomain(), nil
}

// isConflict reports an upstream 409, the status the provider uses for state
// preconditions as opposed to parameter rejections.
func isConflict(err error) bool {
	var ue *domain.UpstreamError
	return errors.As(err, &ue) && ue.Status == http.StatusConflict
}

func createPayload(req CreateRequest, sourceID string) map[string]any {
	model := req.Model
	if model == "" {
		model = "sora-2"
	}
	payload := map[string]any{
		"model":  model,
		"prompt": req.Prompt,
	}
	if req.Size != "" {
		payload["size"] = req.Size
	}
	if req.Seconds != "" {
		payload["seconds"] = req.Seconds
	}
	if req.Quality != "" {
		payload["quality"] = req.Quality
	}
	if sourceID != "" {
		payload["remixed_from_video_id"] = sourceID
	}
	return payload
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.orgID != "" {
		req.Header.Set("OpenAI-Organization", c.orgID)
	}
	if c.projectID != "" {
		req.Header.Set("OpenAI-Project", c.projectID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.UpstreamError{Kind: domain.UpstreamUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.UpstreamError{Kind: domain.UpstreamUnavailable, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	msg := body.Error.Message
	if msg == "" {
		msg = resp.Status
	}

	var kind domain.UpstreamErrorKind
	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict:
		kind = domain.UpstreamInvalidParams
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = domain.UpstreamAuthFailed
	case resp.StatusCode == http.StatusNotFound:
		kind = domain.UpstreamNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = domain.UpstreamRateLimited
	default:
		kind = domain.UpstreamUnavailable
	}

	c.logger.Debug().Int("status", resp.StatusCode).Str("kind", string(kind)).Msg("upstream error")
	return &domain.UpstreamError{Kind: kind, Status: resp.StatusCode, Message: msg}
}

// videoPayload is the upstream wire shape; timestamps are Unix seconds.
type videoPayload struct {
	ID                 string `json:"id"`
	Model              string `json:"model"`
	Status             string `json:"status"`
	Progress           int    `json:"progress"`
	Prompt             string `json:"prompt"`
	Size               string `json:"size"`
	Seconds            string `json:"seconds"`
	Quality            string `json:"quality"`
	RemixedFromVideoID string `json:"remixed_from_video_id"`
	FileURL            string `json:"file_url"`
	ThumbnailURL       string `json:"thumbnail_url"`
	CreatedAt          int64  `json:"created_at"`
	CompletedAt        *int64 `json:"completed_at"`
	ExpiresAt          *int64 `json:"expires_at"`
	Error              *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *videoPayload) toDomain() *domain.Video {
	v := &domain.Video{
		ID:            p.ID,
		Model:         p.Model,
		Status:        domain.Status(p.Status),
		Progress:      p.Progress,
		Prompt:        p.Prompt,
		Size:          p.Size,
		Seconds:       p.Seconds,
		Quality:       p.Quality,
		RemixedFromID: p.RemixedFromVideoID,
		FileURL:       p.FileURL,
		ThumbnailURL:  p.ThumbnailURL,
		CreatedAt:     time.Unix(p.CreatedAt, 0).UTC(),
	}
	if p.CompletedAt != nil {
		t := time.Unix(*p.CompletedAt, 0).UTC()
		v.CompletedAt = &t
	}
	if p.ExpiresAt != nil {
		t := time.Unix(*p.ExpiresAt, 0).UTC()
		v.ExpiresAt = &t
	}
	if p.Error != nil {
		v.ErrorMessage = p.Error.Message
	}
	return v
}
