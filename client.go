package offlinekit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bjpl/offlinekit/internal/gateway"
	"github.com/bjpl/offlinekit/internal/models"
	"github.com/bjpl/offlinekit/internal/session"
)

// Object is the flattened record shape served by the gateway: the field map
// plus id, createdAt and updatedAt.
type Object = map[string]any

// ContentFilter narrows and orders GetContent results.
type ContentFilter struct {
	Published *bool
	AuthorID  string
	Search    string
	SortBy    string
	Desc      bool
	Offset    int
	Limit     int
}

func (f ContentFilter) encode() string {
	params := url.Values{}
	if f.Published != nil {
		params.Set("published", strconv.FormatBool(*f.Published))
	}
	if f.AuthorID != "" {
		params.Set("authorId", f.AuthorID)
	}
	if f.Search != "" {
		params.Set("search", f.Search)
	}
	if f.SortBy != "" {
		params.Set("sortBy", f.SortBy)
		if f.Desc {
			params.Set("order", "desc")
		}
	}
	if f.Offset > 0 {
		params.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Limit > 0 {
		params.Set("limit", strconv.Itoa(f.Limit))
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

// Request sends an API-shaped request through the interception layer: it is
// answered locally while the authority is unreachable and proxied through
// when policy allows.
func (c *Client) Request(ctx context.Context, method, path string, body []byte) (*gateway.Response, error) {
	return c.gateway.Do(ctx, method, path, body)
}

func (c *Client) request(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	resp, err := c.gateway.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(out)
}

type listEnvelope struct {
	Items []Object `json:"items"`
	Total int      `json:"total"`
}

// Login authenticates against the local user collection and establishes
// the session.
func (c *Client) Login(ctx context.Context, username, password string) (*session.Session, error) {
	err := c.request(ctx, http.MethodPost, "/auth/login", map[string]string{
		"username": username, "password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	return c.sessions.Current(), nil
}

// Register creates a user account. Role defaults to the lowest tier.
func (c *Client) Register(ctx context.Context, username, password, email, role string) error {
	return c.request(ctx, http.MethodPost, "/auth/register", map[string]string{
		"username": username, "password": password, "email": email, "role": role,
	}, nil)
}

// Logout tears the session down.
func (c *Client) Logout(ctx context.Context) error {
	return c.request(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// GetContent lists content records.
func (c *Client) GetContent(ctx context.Context, filter ContentFilter) ([]Object, error) {
	var list listEnvelope
	if err := c.request(ctx, http.MethodGet, "/content"+filter.encode(), nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// GetContentByID fetches one content record.
func (c *Client) GetContentByID(ctx context.Context, id string) (Object, error) {
	var obj Object
	if err := c.request(ctx, http.MethodGet, "/content/"+id, nil, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// CreateContent commits a content record locally and queues it for sync.
func (c *Client) CreateContent(ctx context.Context, content models.Content) (Object, error) {
	fields, err := models.Fields(content)
	if err != nil {
		return nil, err
	}
	var obj Object
	if err := c.request(ctx, http.MethodPost, "/content", fields, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// UpdateContent merges a partial patch into a content record.
func (c *Client) UpdateContent(ctx context.Context, id string, patch map[string]any) (Object, error) {
	var obj Object
	if err := c.request(ctx, http.MethodPut, "/content/"+id, patch, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// DeleteContent removes a content record.
func (c *Client) DeleteContent(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/content/"+id, nil, nil)
}

// UploadFile stores a media file. The raw bytes are kept inline until they
// can be pushed to the authority's object storage.
func (c *Client) UploadFile(ctx context.Context, name, contentType string, data []byte) (Object, error) {
	var obj Object
	err := c.request(ctx, http.MethodPost, "/files", map[string]string{
		"name":        name,
		"contentType": contentType,
		"data":        base64.StdEncoding.EncodeToString(data),
	}, &obj)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// GetFiles lists media metadata. File payloads are omitted from listings.
func (c *Client) GetFiles(ctx context.Context) ([]Object, error) {
	var list listEnvelope
	if err := c.request(ctx, http.MethodGet, "/files", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// DeleteFile removes a media record.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/files/"+id, nil, nil)
}

// GetSettings returns the settings singleton.
func (c *Client) GetSettings(ctx context.Context) (Object, error) {
	var obj Object
	if err := c.request(ctx, http.MethodGet, "/settings", nil, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// UpdateSettings merges a partial patch into the settings singleton.
func (c *Client) UpdateSettings(ctx context.Context, patch map[string]any) (Object, error) {
	var obj Object
	if err := c.request(ctx, http.MethodPut, "/settings", patch, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// GetDashboardStats aggregates counts across the local collections.
func (c *Client) GetDashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	if err := c.request(ctx, http.MethodGet, "/dashboard", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// HasPermission reports whether the active session's role grants the named
// permission.
func (c *Client) HasPermission(name string) bool {
	return c.sessions.HasPermission(name)
}
