package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

type apiClient struct {
	endpoint string
	token    string
}

type apiProblem struct {
	Error struct {
		Code      string `json:"code"`
		Class     string `json:"class"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func newAPIClient(endpoint, token string) *apiClient {
	return &apiClient{endpoint: endpoint, token: token}
}

// do sends body as JSON and returns the raw response on 2xx. Error bodies
// are decoded into the daemon's problem envelope.
func (c *apiClient) do(method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var problem apiProblem
		if json.Unmarshal(data, &problem) == nil && problem.Error.Code != "" {
			return nil, fmt.Errorf("%s (%d): %s", problem.Error.Code, resp.StatusCode, problem.Error.Message)
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

func printJSON(w io.Writer, raw json.RawMessage) {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		fmt.Fprintln(w, string(bytes.TrimSpace(raw)))
		return
	}
	fmt.Fprintln(w, out.String())
}
