package models

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllama_Installed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = io.WriteString(w, `{"models":[{"name":"llama3.2:3b"},{"name":"nomic-embed-text"},{"name":"qwen2.5:7b"}]}`)
	}))
	defer srv.Close()

	got, err := NewOllama(srv.URL, srv.Client()).Installed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2:3b", "qwen2.5:7b"}, got)
}

func TestOllama_PreloadSendsKeepAlive(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"done":true}`)
	}))
	defer srv.Close()

	require.NoError(t, NewOllama(srv.URL, srv.Client()).Preload(context.Background(), "llama3.2:3b"))
	assert.Equal(t, "llama3.2:3b", body["model"])
	assert.EqualValues(t, -1, body["keep_alive"])
}

func TestOllama_UnloadWaitsUntilGone(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = io.WriteString(w, `{"models":[{"name":"llama3.2:3b"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"models":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := NewOllama(srv.URL, srv.Client())
	o.pollInterval = time.Millisecond
	require.NoError(t, o.Unload(context.Background(), "llama3.2:3b"))
	assert.EqualValues(t, 3, polls.Load())
}

func TestOllama_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewOllama(srv.URL, srv.Client()).Preload(context.Background(), "missing")
	assert.ErrorContains(t, err, "status 404")
}
