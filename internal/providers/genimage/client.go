package genimage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"atelier/internal/domain"
	"atelier/internal/infra"
)

const fallbackResolution = 512

// Options configures the generative image provider client.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger

	// Polling knobs. Zero values fall back to the provider defaults:
	// 120s budget, 2s interval for the first 10s, then 5s.
	PollTimeout      time.Duration
	FastPollInterval time.Duration
	SlowPollInterval time.Duration
	FastPollWindow   time.Duration

	// Transient-retry knobs: up to MaxRetries extra attempts with
	// RetryBaseDelay * 2^attempt between them.
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client talks to an asynchronous text-to-image / image-to-image provider
// following the submit-then-poll job pattern.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *infra.Logger

	pollTimeout      time.Duration
	fastPollInterval time.Duration
	slowPollInterval time.Duration
	fastPollWindow   time.Duration

	maxRetries     int
	retryBaseDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// TextToImageRequest captures the inputs for a text-to-image submission.
type TextToImageRequest struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
	Guidance       float64
	Steps          int
	Seed           int
}

// ImageToImageRequest captures the inputs for an image-to-image submission.
type ImageToImageRequest struct {
	Prompt   string
	Model    string
	Steps    int
	Seed     int
	Image    []byte
	Filename string
}

// RequestState is the provider-reported state of an asynchronous request.
type RequestState string

const (
	StateQueued     RequestState = "queued"
	StateProcessing RequestState = "processing"
	StateDone       RequestState = "done"
	StateFailed     RequestState = "failed"
)

// RequestStatus is one poll result.
type RequestStatus struct {
	State     RequestState
	ResultURL string
}

type submitResponse struct {
	Data struct {
		RequestID string `json:"request_id"`
	} `json:"data"`
}

type statusResponse struct {
	Data struct {
		Status    string `json:"status"`
		ResultURL string `json:"result_url"`
	} `json:"data"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	c := &Client{
		baseURL:          strings.TrimRight(opts.BaseURL, "/"),
		apiKey:           strings.TrimSpace(opts.APIKey),
		model:            strings.TrimSpace(opts.Model),
		httpClient:       httpClient,
		logger:           logger,
		pollTimeout:      opts.PollTimeout,
		fastPollInterval: opts.FastPollInterval,
		slowPollInterval: opts.SlowPollInterval,
		fastPollWindow:   opts.FastPollWindow,
		maxRetries:       opts.MaxRetries,
		retryBaseDelay:   opts.RetryBaseDelay,
		sleep:            sleepContext,
		now:              time.Now,
	}
	if c.model == "" {
		c.model = "sdxl-base"
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = 120 * time.Second
	}
	if c.fastPollInterval <= 0 {
		c.fastPollInterval = 2 * time.Second
	}
	if c.slowPollInterval <= 0 {
		c.slowPollInterval = 5 * time.Second
	}
	if c.fastPollWindow <= 0 {
		c.fastPollWindow = 10 * time.Second
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 2
	}
	if c.retryBaseDelay <= 0 {
		c.retryBaseDelay = 500 * time.Millisecond
	}
	return c
}

// Model returns the configured default model identifier.
func (c *Client) Model() string {
	return c.model
}

// SubmitTextToImage submits a text-to-image request and returns the provider
// request id. A 422 rejection at a non-512x512 resolution is retried exactly
// once at 512x512 before failing.
func (c *Client) SubmitTextToImage(ctx context.Context, req TextToImageRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("genimage: %w: prompt is required", domain.ErrValidation)
	}
	id, err := c.submitTextToImage(ctx, req)
	if err == nil {
		return id, nil
	}
	var perr *domain.ProviderError
	if errors.As(err, &perr) && perr.StatusCode == http.StatusUnprocessableEntity &&
		(req.Width != fallbackResolution || req.Height != fallbackResolution) {
		c.logger.Warn().
			Int("width", req.Width).
			Int("height", req.Height).
			Msg("genimage: resolution rejected, retrying at 512x512")
		retry := req
		retry.Width = fallbackResolution
		retry.Height = fallbackResolution
		return c.submitTextToImage(ctx, retry)
	}
	return "", err
}

func (c *Client) submitTextToImage(ctx context.Context, req TextToImageRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	payload := map[string]any{
		"prompt":          req.Prompt,
		"negative_prompt": req.NegativePrompt,
		"model":           model,
		"width":           req.Width,
		"height":          req.Height,
		"guidance":        req.Guidance,
		"steps":           req.Steps,
		"seed":            req.Seed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("genimage: encode request: %w", err)
	}
	raw, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/client/txt2img", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		c.authorize(httpReq)
		return httpReq, nil
	})
	if err != nil {
		return "", err
	}
	return decodeRequestID(raw)
}

// SubmitImageToImage submits an image-to-image request as a multipart form
// and returns the provider request id.
func (c *Client) SubmitImageToImage(ctx context.Context, req ImageToImageRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("genimage: %w: prompt is required", domain.ErrValidation)
	}
	if len(req.Image) == 0 {
		return "", fmt.Errorf("genimage: %w: image is required", domain.ErrValidation)
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	filename := req.Filename
	if filename == "" {
		filename = "source.png"
	}

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	_ = writer.WriteField("prompt", req.Prompt)
	_ = writer.WriteField("model", model)
	_ = writer.WriteField("steps", strconv.Itoa(req.Steps))
	_ = writer.WriteField("seed", strconv.Itoa(req.Seed))
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("genimage: build form: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return "", fmt.Errorf("genimage: write form image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("genimage: close form: %w", err)
	}
	body := form.Bytes()
	contentType := writer.FormDataContentType()

	raw, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/client/img2img", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", contentType)
		c.authorize(httpReq)
		return httpReq, nil
	})
	if err != nil {
		return "", err
	}
	return decodeRequestID(raw)
}

// PollStatus fetches the current state of an asynchronous request.
func (c *Client) PollStatus(ctx context.Context, requestID string) (*RequestStatus, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, fmt.Errorf("genimage: %w: request id is required", domain.ErrValidation)
	}
	raw, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/client/request-status/"+url.PathEscape(requestID), nil)
		if err != nil {
			return nil, err
		}
		c.authorize(httpReq)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("genimage: decode status response: %w", err)
	}
	return &RequestStatus{
		State:     RequestState(strings.ToLower(strings.TrimSpace(decoded.Data.Status))),
		ResultURL: strings.TrimSpace(decoded.Data.ResultURL),
	}, nil
}

// WaitForResult polls until the request reaches a terminal state and returns
// the result URL. The loop polls every 2s for the first 10s, then every 5s,
// and gives up after the 120s budget.
func (c *Client) WaitForResult(ctx context.Context, requestID string) (string, error) {
	start := c.now()
	for {
		status, err := c.PollStatus(ctx, requestID)
		if err != nil {
			return "", err
		}
		switch status.State {
		case StateDone:
			if status.ResultURL == "" {
				return "", fmt.Errorf("genimage: %w: request %s finished without a result url", domain.ErrProviderFailure, requestID)
			}
			return status.ResultURL, nil
		case StateFailed:
			return "", fmt.Errorf("genimage: %w: request %s failed", domain.ErrProviderFailure, requestID)
		}

		elapsed := c.now().Sub(start)
		if elapsed >= c.pollTimeout {
			return "", fmt.Errorf("genimage: %w after %s (request %s)", domain.ErrPollTimeout, c.pollTimeout, requestID)
		}
		interval := c.fastPollInterval
		if elapsed >= c.fastPollWindow {
			interval = c.slowPollInterval
		}
		if err := c.sleep(ctx, interval); err != nil {
			return "", err
		}
	}
}

// FetchImage downloads image bytes from a provider result URL.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("genimage: invalid image url: %s", imageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("genimage: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("genimage: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("genimage: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("genimage: read image: %w", err)
	}
	return data, nil
}

// doWithRetry performs the request, retrying 429/5xx responses up to
// maxRetries extra attempts with exponential backoff. Other error statuses
// fail immediately with the status code and truncated body.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBaseDelay << (attempt - 1)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("genimage: build request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("genimage: http request: %w", err)
		}
		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("genimage: read response: %w", readErr)
		}
		if resp.StatusCode < 300 {
			return raw, nil
		}
		perr := domain.NewProviderError("genimage", resp.StatusCode, strings.TrimSpace(string(raw)))
		if !perr.Retryable() {
			return nil, perr
		}
		lastErr = perr
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Int("attempt", attempt+1).
			Msg("genimage: transient provider error")
	}
	return nil, lastErr
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func decodeRequestID(raw []byte) (string, error) {
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("genimage: decode submit response: %w", err)
	}
	id := strings.TrimSpace(decoded.Data.RequestID)
	if id == "" {
		return "", fmt.Errorf("genimage: %w: submit response missing request id", domain.ErrProviderFailure)
	}
	return id, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
