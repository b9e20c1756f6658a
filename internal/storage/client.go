// Package storage implements the streaming storage proxy (C7): a shared
// HTTP client to the external blob-store worker, bucket/file registry
// CRUD, and streaming upload/download handlers. Metadata lives in
// Postgres; blob bytes never touch this process's memory beyond a
// single chunk buffer, per spec.md §4.5.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ClientConfig tunes the shared HTTP client to the storage worker, the
// Go analogue of the original's httpx.Limits/httpx.Timeout pair.
type ClientConfig struct {
	BaseURL           string
	MaxConnections    int
	MaxKeepaliveConns int
	ConnectTimeout    time.Duration
	ChunkTimeout      time.Duration
}

// Client is the gateway's single outbound connection to the storage
// worker, reused across every request (never created per-call).
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds the shared client. Connect timeout bounds the TCP
// handshake; ChunkTimeout is the transport's ResponseHeaderTimeout, so
// it bounds the wait for the worker's response headers after the request
// has been written. Individual body reads and writes have no timeout of
// their own, and no whole-request timeout is set, so multi-gigabyte
// uploads don't time out.
func NewClient(cfg ClientConfig) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxKeepaliveConns,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ChunkTimeout,
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Transport: transport},
	}
}

// workerUploadResponse mirrors the storage worker's JSON response shape for a
// successful upload.
type workerUploadResponse struct {
	Success bool `json:"success"`
	File    struct {
		Size int64 `json:"size"`
	} `json:"file"`
}

// UploadStream proxies body directly to the storage worker without
// buffering it in the gateway's memory.
func (c *Client) UploadStream(ctx context.Context, bucket, path string, body io.Reader, filename, contentType string, contentLength int64) (int64, error) {
	url := fmt.Sprintf("%s/files/%s/%s", c.baseURL, bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Filename", filename)
	if contentLength > 0 {
		req.ContentLength = contentLength
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("storage upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("storage upload failed: %s", resp.Status)
	}

	var result workerUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	return result.File.Size, nil
}

// Download opens a streaming GET against the storage worker. The
// caller must close the returned ReadCloser.
func (c *Client) Download(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/files/%s/%s", c.baseURL, bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage download: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("storage download failed: %s", resp.Status)
	}
	return resp.Body, nil
}

// Delete removes a blob; the caller treats any failure as best-effort.
func (c *Client) Delete(ctx context.Context, bucket, path string) error {
	url := fmt.Sprintf("%s/files/%s/%s", c.baseURL, bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("storage delete failed: %s", resp.Status)
	}
	return nil
}

// CreateBucket asks the storage worker to create the bucket's backing
// directory.
func (c *Client) CreateBucket(ctx context.Context, name string, public bool) error {
	url := fmt.Sprintf("%s/buckets", c.baseURL)
	body := fmt.Sprintf(`{"name":%q,"public":%t}`, name, public)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storage create bucket: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("storage create bucket failed: %s", resp.Status)
	}
	return nil
}

// DeleteBucket removes the bucket's backing directory. Best-effort —
// callers proceed with the metadata delete regardless of the outcome.
func (c *Client) DeleteBucket(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/buckets/%s", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("storage delete bucket failed: %s", resp.Status)
	}
	return nil
}

// HealthCheck reports whether the storage worker is reachable.
func (c *Client) HealthCheck(ctx context.Context, healthURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("storage unhealthy: %s", resp.Status)
	}
	return nil
}
