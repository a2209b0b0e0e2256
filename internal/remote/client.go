// Package remote is the HTTP client for the remote authority: reachability
// probes, record CRUD used by the sync engine, and pass-through proxying
// for the gateway. The authority is treated as opaque; only its REST shape
// is assumed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bjpl/offlinekit/internal/common"
	"github.com/bjpl/offlinekit/internal/models"
)

// Record is the wire form of a document on the remote authority: the field
// map flattened into the object alongside the envelope attributes.
type Record struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func decodeWireRecord(b []byte) (*Record, error) {
	var envelope struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	delete(fields, "id")
	delete(fields, "createdAt")
	delete(fields, "updatedAt")
	return &Record{ID: envelope.ID, Fields: fields, CreatedAt: envelope.CreatedAt, UpdatedAt: envelope.UpdatedAt}, nil
}

// Client talks to the remote authority. All calls use bounded timeouts so
// a hung remote never stalls the local application indefinitely.
type Client struct {
	baseURL        string
	http           *http.Client
	probeTimeout   time.Duration
	requestTimeout time.Duration

	// tokenFn supplies the current bearer token, when a session is active.
	tokenFn func() string
}

func NewClient(baseURL string, probeTimeout, requestTimeout time.Duration, tokenFn func() string) *Client {
	if tokenFn == nil {
		tokenFn = func() string { return "" }
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		probeTimeout:   probeTimeout,
		requestTimeout: requestTimeout,
		tokenFn:        tokenFn,
	}
}

// ResourcePath maps a collection to its REST resource prefix.
func ResourcePath(collection string) string {
	if collection == models.CollectionMedia {
		return "/files"
	}
	return "/" + collection
}

// Ping performs the bounded-latency health check used by the reachability
// policy.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %s", common.ErrNetworkUnavailable, resp.Status)
	}
	return nil
}

// GetRecord fetches the authority's current version of a record.
func (c *Client) GetRecord(ctx context.Context, collection, id string) (*Record, error) {
	status, body, err := c.do(ctx, http.MethodGet, ResourcePath(collection)+"/"+id, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: remote %s/%s", common.ErrNotFound, collection, id)
	case status >= 300:
		return nil, fmt.Errorf("remote get %s/%s: status %d", collection, id, status)
	}
	return decodeWireRecord(body)
}

// CreateRecord pushes a locally created record, keeping its local id so
// both sides agree on identity.
func (c *Client) CreateRecord(ctx context.Context, collection, id string, fields map[string]any) (*Record, error) {
	payload := wirePayload(id, fields)
	status, body, err := c.do(ctx, http.MethodPost, ResourcePath(collection), payload)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("remote create %s: status %d", collection, status)
	}
	return decodeWireRecord(body)
}

// UpdateRecord overwrites the remote record's fields.
func (c *Client) UpdateRecord(ctx context.Context, collection, id string, fields map[string]any) (*Record, error) {
	status, body, err := c.do(ctx, http.MethodPut, ResourcePath(collection)+"/"+id, wirePayload("", fields))
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: remote %s/%s", common.ErrNotFound, collection, id)
	case status >= 300:
		return nil, fmt.Errorf("remote update %s/%s: status %d", collection, id, status)
	}
	return decodeWireRecord(body)
}

// DeleteRecord removes the remote record. Deleting an absent record is not
// an error; the authority's delete is idempotent like the local store's.
func (c *Client) DeleteRecord(ctx context.Context, collection, id string) error {
	status, _, err := c.do(ctx, http.MethodDelete, ResourcePath(collection)+"/"+id, nil)
	if err != nil {
		return err
	}
	if status >= 300 && status != http.StatusNotFound {
		return fmt.Errorf("remote delete %s/%s: status %d", collection, id, status)
	}
	return nil
}

// Proxy forwards an application-level request unmodified and returns the
// authority's status and body.
func (c *Client) Proxy(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	return c.doRaw(ctx, method, path, body)
}

func wirePayload(id string, fields map[string]any) map[string]any {
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	if id != "" {
		payload["id"] = id
	}
	return payload
}

func (c *Client) do(ctx context.Context, method, path string, payload map[string]any) (int, []byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
	}
	return c.doRaw(ctx, method, path, body)
}

func (c *Client) doRaw(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokenFn(); token != "" {
		req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", common.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", common.ErrNetworkUnavailable, err)
	}
	return resp.StatusCode, respBody, nil
}
