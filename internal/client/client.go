// Package client is a small HTTP client for a running mnemo server. It
// is what lightweight callers use instead of opening the database
// directly, so writes flow through the server's classify queue.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/fathomlabs/mnemo/internal/engine"
	"github.com/fathomlabs/mnemo/internal/store"
)

const (
	defaultServerURL = "http://127.0.0.1:38380"
	httpTimeout      = 30 * time.Second
)

// Client talks to the mnemo server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for the given server URL. An empty URL falls back
// to the MNEMO_URL env var, then the default local address.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("MNEMO_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: serverURL,
	}
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Remember stores a memory via the server. Classification happens in the
// server's background queue.
func (c *Client) Remember(content, memoryType, container string) (*store.Memory, error) {
	body, err := json.Marshal(map[string]string{
		"content":       content,
		"memory_type":   memoryType,
		"container_tag": container,
	})
	if err != nil {
		return nil, err
	}
	data, err := c.post("/api/memories", body)
	if err != nil {
		return nil, err
	}
	var out struct {
		Memory *store.Memory `json:"memory"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode memory: %w", err)
	}
	return out.Memory, nil
}

// Recall runs a search via the server.
func (c *Client) Recall(query, container, mode string, limit int) ([]engine.Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("container", container)
	if mode != "" {
		q.Set("mode", mode)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	data, err := c.get("/api/search?" + q.Encode())
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []engine.Result `json:"results"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return out.Results, nil
}

func (c *Client) post(path string, body []byte) ([]byte, error) {
	resp, err := c.http.Post(c.serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) get(path string) ([]byte, error) {
	resp, err := c.http.Get(c.serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, data)
	}
	return data, nil
}
