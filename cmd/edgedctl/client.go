package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient is a minimal client for edged's loopback control API — no
// retry, no TLS, no auth: it only ever talks to localhost.
type apiClient struct {
	addr string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{addr: addr, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) get(path string, out interface{}) error {
	resp, err := c.http.Get(c.addr + path)
	if err != nil {
		return fmt.Errorf("edgedctl: contacting edged: %w", err)
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func (c *apiClient) post(path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	resp, err := c.http.Post(c.addr+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("edgedctl: contacting edged: %w", err)
	}
	defer resp.Body.Close()
	return decode(resp, nil)
}

func decode(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("edged: %s", apiErr.Error)
		}
		return fmt.Errorf("edged: unexpected status %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
