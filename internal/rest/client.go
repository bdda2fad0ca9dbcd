// Package rest is the hosted taxonomy backend: a PostgREST client.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lthms/taxon/internal/taxonomy"
)

// Config holds client parameters.
type Config struct {
	URL         string // base REST URL, e.g. https://project.example.co/rest/v1
	APIKey      string
	AccessToken string // user JWT; falls back to APIKey
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client implements taxonomy.Gateway against a PostgREST endpoint.
// Row-level security on the server restricts every query to the token's
// user; user_id filters are still sent so that queries stay explicit.
type Client struct {
	base   *url.URL
	apiKey string
	token  string
	http   *http.Client
	log    *slog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rest: URL must not be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("rest: APIKey must not be empty")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: parse URL: %w", err)
	}
	c := &Client{
		base:   base,
		apiKey: cfg.APIKey,
		token:  cfg.AccessToken,
		http:   cfg.HTTPClient,
		log:    cfg.Logger,
	}
	if c.token == "" {
		c.token = cfg.APIKey
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

// APIError is a PostgREST error body.
type APIError struct {
	Status  int     `json:"-"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details"`
	Hint    *string `json:"hint"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	if e.Details != nil && *e.Details != "" {
		msg += " (" + *e.Details + ")"
	}
	return msg
}

// Unwrap maps Postgres and PostgREST codes to the taxonomy error classes.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "23505":
		return taxonomy.ErrConflict
	case "23503", "PGRST116":
		return taxonomy.ErrNotFound
	case "23502", "23514", "22001", "22P02":
		return taxonomy.ErrInvalid
	}
	switch e.Status {
	case http.StatusNotFound:
		return taxonomy.ErrNotFound
	case http.StatusConflict:
		return taxonomy.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return taxonomy.ErrInvalid
	}
	return nil
}

type request struct {
	method string
	table  string
	query  url.Values
	body   any
	prefer []string
}

// do sends a request and decodes the JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, r request, out any) error {
	u := *c.base
	u.Path = u.Path + "/" + r.table
	if r.query != nil {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", r.table, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(r.prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(r.prefer, ","))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.table, err)
	}
	defer resp.Body.Close()
	c.log.Debug("rest: request", "method", r.method, "table", r.table, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return fmt.Errorf("%s %s: %w", r.method, r.table, apiErr)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", r.table, err)
	}
	return nil
}

// isConflict reports whether err is a unique violation.
func isConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "23505"
}

func eq(v string) string { return "eq." + v }

// in builds an in.(...) filter, double-quoting every value.
func in(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `"`, `\"`)
		quoted[i] = `"` + v + `"`
	}
	return "in.(" + strings.Join(quoted, ",") + ")"
}

// ilike builds a case-insensitive substring filter. PostgREST turns every
// '*' into '%', so a literal '*' can only be matched by '_'; callers must
// re-check the returned names with containsFold.
func ilike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `_`)
	return "ilike.*" + r.Replace(q) + "*"
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

var _ taxonomy.Gateway = (*Client)(nil)
