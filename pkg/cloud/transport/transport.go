package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/vision-uploader/pkg/cloud/httpclient"
	"github.com/synaptica-ai/vision-uploader/pkg/cloud/signer"
	"github.com/synaptica-ai/vision-uploader/pkg/common/config"
	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
	"github.com/synaptica-ai/vision-uploader/pkg/observability/metrics"
)

const (
	HeaderSignature     = "x-annalise-ai-signature"
	HeaderSignedHeaders = "x-annalise-ai-signed-headers"
	HeaderAppVersion    = "x-annalise-ai-app-version"

	ContentTypeJSON   = "application/json; charset=UTF-8"
	DefaultAppVersion = "0.0.0.not-specified"
)

type Config struct {
	Host         string
	ClientID     string
	ClientSecret string
	AppVersion   string
	Timeout      time.Duration
	MaxConns     int
}

// ConfigFrom takes the service settings from the application config. The
// connection pool is sized to the worker count.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Host:         cfg.APIHost,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AppVersion:   cfg.AppVersion,
		Timeout:      cfg.HTTPTimeout,
		MaxConns:     cfg.MaxWorkers,
	}
}

// Response is a fully read reply. Non-2xx statuses are returned as responses,
// not errors; callers decide what a status means.
type Response struct {
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte
}

func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

func (r *Response) OK() bool {
	return r != nil && r.StatusCode == http.StatusOK
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

type Option func(*Client)

// WithClock replaces the timestamp source, e.g. with a fixed time in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client sends signed requests to the classification service.
type Client struct {
	base *url.URL
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parsing api host %q: %w", cfg.Host, err)
	}
	if cfg.AppVersion == "" {
		cfg.AppVersion = DefaultAppVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}

	c := &Client{
		base: base,
		cfg:  cfg,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New(cfg.Timeout, cfg.MaxConns)
	}
	return c, nil
}

// Post serializes payload once; the same bytes are signed and sent.
func (c *Client) Post(ctx context.Context, path string, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload for %s: %w", path, err)
	}

	target := c.resolve(path)
	headers := c.Headers(http.MethodPost, target.Path, nil, string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	setHeaders(req, headers)
	return c.do(req)
}

// Get signs params as the canonical query and sends them in the URL.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) (*Response, error) {
	target := c.resolve(path)
	headers := c.Headers(http.MethodGet, target.Path, params, "")
	target.RawQuery = signer.CanonicalQuery(params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	setHeaders(req, headers)
	return c.do(req)
}

// Fetch issues an unsigned GET against an absolute URL such as a
// pre-signed storage link.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	return c.do(req)
}

// Headers computes the full header set, signature included, for one request.
func (c *Client) Headers(method, path string, params map[string]string, body string) map[string]string {
	headers := map[string]string{
		signer.HeaderContentType: ContentTypeJSON,
		signer.HeaderClientID:    c.cfg.ClientID,
		signer.HeaderTimestamp:   strconv.FormatInt(c.now().UnixMilli(), 10),
		HeaderSignedHeaders:      signer.SignedHeaderList(),
		HeaderAppVersion:         c.cfg.AppVersion,
	}
	canonical := signer.CanonicalRequest(method, path, params, headers, body)
	headers[HeaderSignature] = signer.Sign(c.cfg.ClientSecret, canonical)
	return headers
}

func (c *Client) resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	return c.base.ResolveReference(ref)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRequest(req.Method, 0, time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	metrics.ObserveRequest(req.Method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("reading %s %s response: %w", req.Method, req.URL.Path, err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"method":  req.Method,
		"path":    req.URL.Path,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("classification service call")

	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     reason(resp.Status),
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func setHeaders(req *http.Request, headers map[string]string) {
	for name, value := range headers {
		req.Header.Set(name, value)
	}
}

// reason strips the numeric code from a status line such as "200 OK".
func reason(status string) string {
	if _, rest, ok := strings.Cut(status, " "); ok {
		return rest
	}
	return status
}
