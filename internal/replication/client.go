package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/hearth/internal/common"
)

// Client speaks the CouchDB replication endpoints of one server.
type Client struct {
	base *url.URL
	http *http.Client
	// timeout bounds each request; zero means no bound beyond ctx.
	timeout time.Duration
}

// NewClient creates a client for endpoint using the given HTTP client.
// Every request gives up after timeout.
func NewClient(endpoint *Endpoint, httpClient *http.Client, timeout time.Duration) *Client {
	return &Client{base: endpoint.URL, http: httpClient, timeout: timeout}
}

// revisions is CouchDB's compact revision history.
type revisions struct {
	IDs   []string `json:"ids"`
	Start int      `json:"start"`
}

type change struct {
	ID      string `json:"id"`
	Changes []struct {
		Rev string `json:"rev"`
	} `json:"changes"`
	Deleted bool `json:"deleted,omitempty"`
}

type changesResponse struct {
	LastSeq json.RawMessage `json:"last_seq"`
	Results []change        `json:"results"`
}

type revsDiffEntry struct {
	Missing []string `json:"missing"`
}

type bulkGetRef struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

type bulkGetResponse struct {
	Results []struct {
		ID   string `json:"id"`
		Docs []struct {
			OK    map[string]any `json:"ok,omitempty"`
			Error *struct {
				Error  string `json:"error"`
				Reason string `json:"reason"`
			} `json:"error,omitempty"`
		} `json:"docs"`
	} `json:"results"`
}

// statusError is a non-2xx response.
type statusError struct {
	Method string
	Path   string
	Body   string
	Code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: %d - %s", e.Method, e.Path, e.Code, e.Body)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and decodes a JSON response into out. Transport
// failures and requests running past the client timeout are reported as
// ErrConnectivity.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", common.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if reqCtx.Err() != nil {
			return fmt.Errorf("%w: %s %s: %w", common.ErrConnectivity, method, path, reqCtx.Err())
		}
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// Ping makes an authenticated GET of the server root.
func (c *Client) Ping(ctx context.Context) error {
	var info map[string]any
	if err := c.do(ctx, http.MethodGet, "/", nil, nil, &info); err != nil {
		if errors.Is(err, common.ErrConnectivity) {
			return err
		}
		return fmt.Errorf("%w: %w", common.ErrConnectivity, err)
	}
	return nil
}

// EnsureDB creates a database; one that already exists is fine.
func (c *Client) EnsureDB(ctx context.Context, db string) error {
	err := c.do(ctx, http.MethodPut, "/"+db, nil, nil, nil)
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusPreconditionFailed {
		return nil
	}
	return err
}

// Changes reads the change feed of db after since, returning the entries
// and the sequence to resume from.
func (c *Client) Changes(ctx context.Context, db, since string, limit int) ([]change, string, error) {
	query := url.Values{}
	query.Set("style", "all_docs")
	query.Set("limit", strconv.Itoa(limit))
	if since != "" {
		query.Set("since", since)
	}

	var resp changesResponse
	if err := c.do(ctx, http.MethodGet, "/"+db+"/_changes", query, nil, &resp); err != nil {
		return nil, "", err
	}
	return resp.Results, seqString(resp.LastSeq), nil
}

// RevsDiff returns, per document, the revisions the server does not have.
func (c *Client) RevsDiff(ctx context.Context, db string, revs map[string][]string) (map[string][]string, error) {
	var resp map[string]revsDiffEntry
	if err := c.do(ctx, http.MethodPost, "/"+db+"/_revs_diff", nil, revs, &resp); err != nil {
		return nil, err
	}
	missing := make(map[string][]string, len(resp))
	for id, entry := range resp {
		if len(entry.Missing) > 0 {
			missing[id] = entry.Missing
		}
	}
	return missing, nil
}

// BulkDocs stores revisions as-is, keeping their history.
func (c *Client) BulkDocs(ctx context.Context, db string, docs []map[string]any) error {
	payload := map[string]any{"docs": docs, "new_edits": false}
	return c.do(ctx, http.MethodPost, "/"+db+"/_bulk_docs", nil, payload, nil)
}

// BulkGet fetches specific revisions with their history.
func (c *Client) BulkGet(ctx context.Context, db string, refs []bulkGetRef) ([]map[string]any, error) {
	query := url.Values{}
	query.Set("revs", "true")

	var resp bulkGetResponse
	if err := c.do(ctx, http.MethodPost, "/"+db+"/_bulk_get", query, map[string]any{"docs": refs}, &resp); err != nil {
		return nil, err
	}

	var docs []map[string]any
	for _, result := range resp.Results {
		for _, d := range result.Docs {
			if d.Error != nil {
				return nil, fmt.Errorf("bulk get %s/%s: %s: %s", db, result.ID, d.Error.Error, d.Error.Reason)
			}
			if d.OK != nil {
				docs = append(docs, d.OK)
			}
		}
	}
	return docs, nil
}

// seqString normalizes a sequence that may be a JSON string or number.
func seqString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}
