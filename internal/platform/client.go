package platform

import (
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
)

// DefaultBaseURL is the public Autopilot API root.
const DefaultBaseURL = "https://autopilot.twilio.com/v1"

// Client is a minimal HTTP implementation of Remote.
type Client struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	HTTPClient *http.Client
	Timeout    time.Duration
	PageSize   int
}

// New creates a client with sane defaults.
func New(accountSID, authToken string) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		AccountSID: accountSID,
		AuthToken:  authToken,
		Timeout:    30 * time.Second,
		PageSize:   50,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

func (c *Client) List(ctx context.Context, col Collection) ([]Resource, error) {
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	endpoint := fmt.Sprintf("%s?PageSize=%d", col.Path(), pageSize)
	var out []Resource
	for endpoint != "" {
		var raw map[string]json.RawMessage
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
			return nil, err
		}
		var items []map[string]any
		if data, ok := raw[col.Kind.ListKey()]; ok {
			if err := json.Unmarshal(data, &items); err != nil {
				return nil, fmt.Errorf("decode %s page: %w", col.Kind, err)
			}
		}
		for _, item := range items {
			out = append(out, toResource(col, item))
		}
		var meta struct {
			NextPageURL string `json:"next_page_url"`
		}
		if data, ok := raw["meta"]; ok {
			if err := json.Unmarshal(data, &meta); err != nil {
				return nil, fmt.Errorf("decode %s page meta: %w", col.Kind, err)
			}
		}
		endpoint = meta.NextPageURL
	}
	return out, nil
}

func (c *Client) Find(ctx context.Context, col Collection, id string) (Resource, bool, error) {
	if id == "" {
		return Resource{}, false, nil
	}
	var item map[string]any
	err := c.do(ctx, http.MethodGet, col.Path()+"/"+url.PathEscape(id), nil, &item)
	if errors.Is(err, ErrNotFound) {
		return Resource{}, false, nil
	}
	if err != nil {
		return Resource{}, false, err
	}
	return toResource(col, item), true, nil
}

func (c *Client) Create(ctx context.Context, col Collection, attrs Attributes) (Resource, error) {
	var item map[string]any
	if err := c.do(ctx, http.MethodPost, col.Path(), form(attrs), &item); err != nil {
		return Resource{}, err
	}
	return toResource(col, item), nil
}

func (c *Client) Update(ctx context.Context, r Resource, attrs Attributes) (Resource, error) {
	col, _, ok := SplitPath(r.Path)
	if !ok {
		return Resource{}, fmt.Errorf("invalid resource path %q", r.Path)
	}
	var item map[string]any
	if err := c.do(ctx, http.MethodPost, r.Path, form(attrs), &item); err != nil {
		return Resource{}, err
	}
	return toResource(col, item), nil
}

func (c *Client) Delete(ctx context.Context, r Resource) error {
	return c.do(ctx, http.MethodDelete, r.Path, nil, nil)
}

func form(attrs Attributes) url.Values {
	v := url.Values{}
	for k, val := range attrs {
		v.Set(k, val)
	}
	return v
}

func toResource(col Collection, item map[string]any) Resource {
	r := Resource{Kind: col.Kind, Properties: item}
	r.SID, _ = item["sid"].(string)
	r.UniqueName, _ = item["unique_name"].(string)
	r.Path = col.Path() + "/" + r.SID
	return r
}

func (c *Client) do(ctx context.Context, method, endpoint string, body url.Values, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		target = c.base() + "/" + strings.TrimLeft(endpoint, "/")
	}
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(body.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var payload struct {
			Code    json.Number `json:"code"`
			Message string      `json:"message"`
		}
		if json.Unmarshal(b, &payload) == nil {
			apiErr.Message = payload.Message
			if n, err := strconv.Atoi(payload.Code.String()); err == nil {
				apiErr.Code = n
			}
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}
