package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext carries the HTTP session of one scenario against a running
// server.
type TestContext struct {
	BaseURL string
	client  *http.Client

	lastStatus  int
	lastBody    []byte
	lastHeaders http.Header

	accessToken string
	saved       map[string]string
}

func NewTestContext(baseURL string) *TestContext {
	return &TestContext{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		saved:   make(map[string]string),
	}
}

// Reset clears scenario state so scenarios stay independent.
func (tc *TestContext) Reset() {
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastHeaders = nil
	tc.accessToken = ""
	tc.saved = make(map[string]string)
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.BaseURL+tc.Expand(path), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.accessToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	return nil
}

// GetResponseField reads a top-level field of the last JSON object response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response: %s", field, tc.lastBody)
	}
	return v, nil
}

func (tc *TestContext) GetLastResponseStatus() int      { return tc.lastStatus }
func (tc *TestContext) GetLastResponseBody() []byte     { return tc.lastBody }
func (tc *TestContext) GetLastHeader(key string) string { return tc.lastHeaders.Get(key) }
func (tc *TestContext) GetAccessToken() string          { return tc.accessToken }
func (tc *TestContext) SetAccessToken(token string)     { tc.accessToken = token }

// Save stores a value for later steps; paths may reference it as {name}.
func (tc *TestContext) Save(name, value string) { tc.saved[name] = value }

func (tc *TestContext) Saved(name string) string { return tc.saved[name] }

// Expand replaces {name} placeholders with saved values.
func (tc *TestContext) Expand(path string) string {
	for k, v := range tc.saved {
		path = strings.ReplaceAll(path, "{"+k+"}", v)
	}
	return path
}
