package printer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const httpTimeout = 10 * time.Second

// JSONService issues GET requests against a printer's HTTP API and
// decodes the JSON responses.
type JSONService struct {
	base   string
	creds  Credentials
	client *http.Client
}

// NewJSONService creates a service for host:port. No I/O is performed.
func NewJSONService(host string, port int, creds Credentials) *JSONService {
	return &JSONService{
		base:   "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		creds:  creds,
		client: &http.Client{Timeout: httpTimeout},
	}
}

// BaseURL returns the scheme and authority requests are sent to.
func (s *JSONService) BaseURL() string {
	return s.base
}

// Fetch sends GET path?params and decodes the JSON body into out.
func (s *JSONService) Fetch(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := s.base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if s.creds.APIKey != "" {
		req.Header.Set("X-Api-Key", s.creds.APIKey)
	}
	if s.creds.User != "" {
		req.SetBasicAuth(s.creds.User, s.creds.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Path: path, Code: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// StatusError is returned by Fetch for non-200 responses.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed (HTTP %d): %s", e.Path, e.Code, e.Body)
}
