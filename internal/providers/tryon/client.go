package tryon

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

	"github.com/rs/zerolog"

	"atelier/internal/domain"
	"atelier/internal/infra"
)

// Options configures the virtual try-on provider client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *infra.Logger

	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client talks to the virtual try-on provider. Unlike the generative image
// client it does not poll internally: the upstream exposes status checks as a
// public endpoint, so callers drive the polling themselves.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *infra.Logger

	maxRetries     int
	retryBaseDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// StartRequest carries the person and garment images for a try-on submission.
type StartRequest struct {
	PersonImage     []byte
	PersonFileName  string
	GarmentImage    []byte
	GarmentFileName string
}

// StartResult is the provider's acknowledgment of a submitted try-on job.
type StartResult struct {
	JobID     string
	StatusURL string
}

// StatusResult is one status read for a try-on job.
type StatusResult struct {
	Status      string
	ImageURL    string
	ImageBase64 string
	Message     string
	Error       string
	ErrorCode   string
	Provider    string
}

// Completed reports whether the provider considers the job done.
func (s *StatusResult) Completed() bool {
	switch strings.ToLower(strings.TrimSpace(s.Status)) {
	case "completed", "complete", "done", "succeeded", "success":
		return true
	}
	return false
}

// Failed reports whether the provider considers the job failed.
func (s *StatusResult) Failed() bool {
	switch strings.ToLower(strings.TrimSpace(s.Status)) {
	case "failed", "failure", "error":
		return true
	}
	return false
}

// FailureReason returns the most descriptive failure text available.
func (s *StatusResult) FailureReason() string {
	if s.Error != "" {
		return s.Error
	}
	if s.Message != "" {
		return s.Message
	}
	return "try-on provider reported failure"
}

// NewClient constructs a try-on client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
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
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		apiKey:         strings.TrimSpace(opts.APIKey),
		httpClient:     httpClient,
		logger:         logger,
		maxRetries:     opts.MaxRetries,
		retryBaseDelay: opts.RetryBaseDelay,
		sleep:          sleepContext,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 2
	}
	if c.retryBaseDelay <= 0 {
		c.retryBaseDelay = 500 * time.Millisecond
	}
	return c
}

// StartTryOn submits the person and garment images and returns the provider
// job id plus an optional status URL.
func (c *Client) StartTryOn(ctx context.Context, req StartRequest) (*StartResult, error) {
	if len(req.PersonImage) == 0 {
		return nil, fmt.Errorf("tryon: %w: person image is required", domain.ErrValidation)
	}
	if len(req.GarmentImage) == 0 {
		return nil, fmt.Errorf("tryon: %w: garment image is required", domain.ErrValidation)
	}
	personName := req.PersonFileName
	if personName == "" {
		personName = "person.png"
	}
	garmentName := req.GarmentFileName
	if garmentName == "" {
		garmentName = "garment.png"
	}

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	if err := writeFilePart(writer, "person_images", personName, req.PersonImage); err != nil {
		return nil, err
	}
	if err := writeFilePart(writer, "garment_images", garmentName, req.GarmentImage); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("tryon: close form: %w", err)
	}
	body := form.Bytes()
	contentType := writer.FormDataContentType()

	raw, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/tryon", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", contentType)
		c.authorize(httpReq)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}

	// Providers disagree on the job id property name, so the response is
	// scanned for known aliases case-insensitively.
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	jobID := fields.lookup("jobId", "job_id", "id")
	if jobID == "" {
		return nil, fmt.Errorf("tryon: %w: submit response missing job id", domain.ErrProviderFailure)
	}
	return &StartResult{
		JobID:     jobID,
		StatusURL: fields.lookup("statusUrl", "status_url"),
	}, nil
}

// GetStatus reads the current state of a try-on job. Single request-response,
// no internal polling.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*StatusResult, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("tryon: %w: job id is required", domain.ErrValidation)
	}
	raw, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/tryon/status/"+url.PathEscape(jobID), nil)
		if err != nil {
			return nil, err
		}
		c.authorize(httpReq)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		Status:      fields.lookup("status"),
		ImageURL:    fields.lookup("imageUrl", "image_url"),
		ImageBase64: fields.lookup("imageBase64", "image_base64"),
		Message:     fields.lookup("message"),
		Error:       fields.lookup("error"),
		ErrorCode:   fields.lookup("errorCode", "error_code"),
		Provider:    fields.lookup("provider"),
	}, nil
}

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
			return nil, fmt.Errorf("tryon: build request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tryon: http request: %w", err)
		}
		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("tryon: read response: %w", readErr)
		}
		if resp.StatusCode < 300 {
			return raw, nil
		}
		perr := domain.NewProviderError("tryon", resp.StatusCode, strings.TrimSpace(string(raw)))
		if !perr.Retryable() {
			return nil, perr
		}
		lastErr = perr
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Int("attempt", attempt+1).
			Msg("tryon: transient provider error")
	}
	return nil, lastErr
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func writeFilePart(writer *multipart.Writer, field, filename string, data []byte) error {
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("tryon: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("tryon: write form file: %w", err)
	}
	return nil
}

// fieldMap is a flattened, lower-cased view of a provider JSON response.
type fieldMap map[string]string

func decodeFields(raw []byte) (fieldMap, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("tryon: decode response: %w", err)
	}
	fields := make(fieldMap, len(decoded))
	flattenInto(fields, decoded)
	return fields, nil
}

// flattenInto lowers keys and lifts nested objects one level so responses
// wrapped in a "data" envelope still resolve.
func flattenInto(dst fieldMap, src map[string]any) {
	for k, v := range src {
		key := strings.ToLower(k)
		switch val := v.(type) {
		case string:
			if _, ok := dst[key]; !ok {
				dst[key] = val
			}
		case float64:
			if _, ok := dst[key]; !ok {
				dst[key] = strings.TrimSuffix(fmt.Sprintf("%v", val), ".0")
			}
		case map[string]any:
			flattenInto(dst, val)
		}
	}
}

func (f fieldMap) lookup(aliases ...string) string {
	for _, alias := range aliases {
		if v := strings.TrimSpace(f[strings.ToLower(alias)]); v != "" {
			return v
		}
	}
	return ""
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
