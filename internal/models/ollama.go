// Package models manages the lifecycle of language models served by Ollama.
package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Ollama talks to Ollama's model management endpoints.
type Ollama struct {
	url          string
	client       *http.Client
	pollInterval time.Duration
}

// NewOllama creates a manager for the Ollama server at url.
func NewOllama(url string, client *http.Client) *Ollama {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Ollama{url: strings.TrimRight(url, "/"), client: client, pollInterval: 500 * time.Millisecond}
}

// Installed returns the names of the chat models pulled on the server.
func (o *Ollama) Installed(ctx context.Context) ([]string, error) {
	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := o.get(ctx, "/api/tags", &result); err != nil {
		return nil, fmt.Errorf("ollama tags: %w", err)
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		if !strings.Contains(m.Name, "embed") {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// Loaded returns the models currently resident in memory.
func (o *Ollama) Loaded(ctx context.Context) ([]string, error) {
	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := o.get(ctx, "/api/ps", &result); err != nil {
		return nil, fmt.Errorf("ollama ps: %w", err)
	}
	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Preload loads model and keeps it resident so the first turn is not slow.
func (o *Ollama) Preload(ctx context.Context, model string) error {
	if err := o.generate(ctx, map[string]any{"model": model, "keep_alive": -1}); err != nil {
		return fmt.Errorf("ollama preload %s: %w", model, err)
	}
	return nil
}

// Unload evicts model and waits until Ollama no longer reports it loaded
// or ctx ends.
func (o *Ollama) Unload(ctx context.Context, model string) error {
	if err := o.generate(ctx, map[string]any{"model": model, "keep_alive": 0, "stream": false}); err != nil {
		return fmt.Errorf("ollama unload %s: %w", model, err)
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		loaded, err := o.Loaded(ctx)
		if err != nil || !slices.Contains(loaded, model) {
			return nil // best-effort
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("model %s still loaded: %w", model, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (o *Ollama) generate(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (o *Ollama) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url+path, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
