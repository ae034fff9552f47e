package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/voice-agent/gateway/internal/audio"
	"github.com/hubenschmidt/voice-agent/gateway/internal/metrics"
)

// Transcriber produces a transcription from mono float samples.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (*ASRResult, error)
}

// ASRResult holds the transcription output.
type ASRResult struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// WhisperClient sends audio as multipart WAV to a whisper-compatible HTTP
// endpoint (/inference on whisper.cpp server).
type WhisperClient struct {
	url      string
	endpoint string
	client   *http.Client
}

// NewWhisperClient creates a client for whisper.cpp server.
func NewWhisperClient(url string, client *http.Client) *WhisperClient {
	return &WhisperClient{url: strings.TrimRight(url, "/"), endpoint: "/inference", client: client}
}

// Warmup sends one second of silence to verify the server is responsive.
func (c *WhisperClient) Warmup(ctx context.Context, sampleRate int) error {
	_, err := c.Transcribe(ctx, make([]float32, sampleRate), sampleRate)
	if err != nil {
		return fmt.Errorf("whisper warmup: %w", err)
	}
	return nil
}

// Transcribe posts the samples and returns the trimmed transcript.
func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32, sampleRate int) (*ASRResult, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples, sampleRate)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create whisper request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("whisper", "http").Inc()
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.BackendErrors.WithLabelValues("whisper", "status").Inc()
		return nil, fmt.Errorf("whisper status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}

	latency := time.Since(start)
	metrics.BackendDuration.WithLabelValues("whisper").Observe(latency.Seconds())

	return &ASRResult{
		Text:      strings.TrimSpace(result.Text),
		LatencyMs: float64(latency.Milliseconds()),
	}, nil
}

func buildMultipartAudio(samples []float32, sampleRate int) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(audio.SamplesToWAV(samples, sampleRate)); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err = writer.WriteField("response_format", "json"); err != nil {
		return nil, "", fmt.Errorf("write form field: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}
