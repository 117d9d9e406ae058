package genimage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"atelier/internal/domain"
)

func submitBody(id string) string {
	return `{"data":{"request_id":"` + id + `"}}`
}

func TestSubmitTextToImageRetriesTransientErrors(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(submitBody("req-1")))
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL, APIKey: "k"})
	var delays []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	id, err := client.SubmitTextToImage(context.Background(), TextToImageRequest{Prompt: "dragon", Width: 512, Height: 512})
	if err != nil {
		t.Fatalf("SubmitTextToImage: %v", err)
	}
	if id != "req-1" {
		t.Fatalf("unexpected request id: %s", id)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Fatalf("backoff delays = %v, want %v", delays, want)
	}
}

func TestSubmitTextToImageExhaustsRetries(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	client.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := client.SubmitTextToImage(context.Background(), TextToImageRequest{Prompt: "dragon", Width: 512, Height: 512})
	var perr *domain.ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected provider error with 503, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestSubmitTextToImageNonTransientFailsImmediately(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad prompt"))
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	_, err := client.SubmitTextToImage(context.Background(), TextToImageRequest{Prompt: "p", Width: 512, Height: 512})
	var perr *domain.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if perr.StatusCode != http.StatusBadRequest || !strings.Contains(perr.Body, "bad prompt") {
		t.Fatalf("unexpected provider error: %+v", perr)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestSubmitTextToImageResolutionFallback(t *testing.T) {
	var widths []float64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		width := payload["width"].(float64)
		widths = append(widths, width)
		if width != 512 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte("unsupported resolution"))
			return
		}
		_, _ = w.Write([]byte(submitBody("req-512")))
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	id, err := client.SubmitTextToImage(context.Background(), TextToImageRequest{Prompt: "dragon", Width: 1024, Height: 1024})
	if err != nil {
		t.Fatalf("SubmitTextToImage: %v", err)
	}
	if id != "req-512" {
		t.Fatalf("unexpected request id: %s", id)
	}
	if len(widths) != 2 || widths[0] != 1024 || widths[1] != 512 {
		t.Fatalf("unexpected submission widths: %v", widths)
	}
}

func TestSubmitTextToImageNoFallbackAt512(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	if _, err := client.SubmitTextToImage(context.Background(), TextToImageRequest{Prompt: "p", Width: 512, Height: 512}); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestSubmitImageToImageSendsMultipart(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("prompt"); got != "apply design" {
			t.Fatalf("prompt = %q", got)
		}
		if got := r.FormValue("steps"); got != "30" {
			t.Fatalf("steps = %q", got)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "garment.png" {
			t.Fatalf("filename = %q", header.Filename)
		}
		_, _ = w.Write([]byte(submitBody("req-i2i")))
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	id, err := client.SubmitImageToImage(context.Background(), ImageToImageRequest{
		Prompt:   "apply design",
		Steps:    30,
		Image:    []byte{0x89, 0x50, 0x4e, 0x47},
		Filename: "garment.png",
	})
	if err != nil {
		t.Fatalf("SubmitImageToImage: %v", err)
	}
	if id != "req-i2i" {
		t.Fatalf("unexpected request id: %s", id)
	}
}

func TestWaitForResultPollsUntilDone(t *testing.T) {
	var polls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		switch {
		case n == 1:
			_, _ = w.Write([]byte(`{"data":{"status":"queued"}}`))
		case n == 2:
			_, _ = w.Write([]byte(`{"data":{"status":"processing"}}`))
		default:
			_, _ = w.Write([]byte(`{"data":{"status":"done","result_url":"http://x/design.png"}}`))
		}
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	now := time.Unix(0, 0)
	client.now = func() time.Time { return now }
	var intervals []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		intervals = append(intervals, d)
		now = now.Add(d)
		return nil
	}

	url, err := client.WaitForResult(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("WaitForResult: %v", err)
	}
	if url != "http://x/design.png" {
		t.Fatalf("unexpected result url: %s", url)
	}
	if len(intervals) != 2 || intervals[0] != 2*time.Second || intervals[1] != 2*time.Second {
		t.Fatalf("unexpected poll intervals: %v", intervals)
	}
}

func TestWaitForResultSlowsDownAfterTenSeconds(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"status":"processing"}}`))
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	now := time.Unix(0, 0)
	client.now = func() time.Time { return now }
	var intervals []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		intervals = append(intervals, d)
		now = now.Add(d)
		return nil
	}

	_, err := client.WaitForResult(context.Background(), "req-1")
	if !errors.Is(err, domain.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	// 2s x5 covers the 10s fast window, then 5s until the 120s budget.
	if intervals[0] != 2*time.Second || intervals[4] != 2*time.Second {
		t.Fatalf("expected 2s intervals at the start, got %v", intervals[:5])
	}
	if intervals[5] != 5*time.Second {
		t.Fatalf("expected 5s interval after fast window, got %v", intervals[5])
	}
	var total time.Duration
	for _, d := range intervals {
		total += d
	}
	if total < 120*time.Second {
		t.Fatalf("gave up before the polling budget: %s", total)
	}
}

func TestWaitForResultDoneWithoutURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"status":"done"}}`))
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	if _, err := client.WaitForResult(context.Background(), "req-1"); !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected provider failure, got %v", err)
	}
}

func TestWaitForResultFailedState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"status":"failed"}}`))
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})
	if _, err := client.WaitForResult(context.Background(), "req-1"); !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected provider failure, got %v", err)
	}
}

func TestPollStatusSendsAuthHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		if !strings.HasSuffix(r.URL.Path, "/client/request-status/req-9") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"status":"queued"}}`))
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL, APIKey: "test-key"})
	status, err := client.PollStatus(context.Background(), "req-9")
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if status.State != StateQueued {
		t.Fatalf("unexpected state: %s", status.State)
	}
}
