// Package acquisition retrieves classification results for uploaded
// studies: it polls until the service reports a terminal state, then pulls
// the segmentation masks the classification refers to.
package acquisition

import (
	"context"
	"time"

	"github.com/synaptica-ai/vision-uploader/pkg/cloud/transport"
	"github.com/synaptica-ai/vision-uploader/pkg/retry"
)

const (
	FilterPath         = "/v1/studies/filter"
	SegmentsStatusPath = "/v1/segments/status"
	StudiesPath        = "/v1/studies"

	DefaultTimeout  = 300 * time.Second
	DefaultAttempts = 3
)

// Client is the subset of the transport the acquirer needs.
type Client interface {
	Post(ctx context.Context, path string, payload interface{}) (*transport.Response, error)
	Get(ctx context.Context, path string, params map[string]string) (*transport.Response, error)
	Fetch(ctx context.Context, rawURL string) (*transport.Response, error)
}

// Cache keeps complete results so repeated requests skip the service.
type Cache interface {
	Get(ctx context.Context, accession string) (*Result, bool, error)
	Set(ctx context.Context, result *Result) error
}

type Option func(*Acquirer)

func WithClock(now func() time.Time) Option {
	return func(a *Acquirer) { a.now = now }
}

// WithTimeout bounds how long a study may stay pending within one attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(a *Acquirer) { a.timeout = timeout }
}

// WithRetryInterval sets the pause between polls and between retries of
// every stage.
func WithRetryInterval(interval time.Duration) Option {
	return func(a *Acquirer) {
		a.statusPolicy = a.statusPolicy.WithInterval(interval)
		a.segmentPolicy = a.segmentPolicy.WithInterval(interval)
		a.maskPolicy = a.maskPolicy.WithInterval(interval)
		a.listPolicy = a.listPolicy.WithInterval(interval)
	}
}

func WithAttempts(attempts int) Option {
	return func(a *Acquirer) { a.attempts = attempts }
}

func WithCache(cache Cache) Option {
	return func(a *Acquirer) { a.cache = cache }
}

type Acquirer struct {
	client   Client
	cache    Cache
	now      func() time.Time
	timeout  time.Duration
	attempts int

	statusPolicy  retry.Policy
	segmentPolicy retry.Policy
	maskPolicy    retry.Policy
	listPolicy    retry.Policy
}

func NewAcquirer(client Client, opts ...Option) *Acquirer {
	a := &Acquirer{
		client:        client,
		now:           time.Now,
		timeout:       DefaultTimeout,
		attempts:      DefaultAttempts,
		statusPolicy:  retry.New("fetch classification", 10),
		segmentPolicy: retry.New("fetch segment refs", 100),
		maskPolicy:    retry.New("fetch segment mask", 10),
		listPolicy:    retry.New("list studies", 3),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.attempts < 1 {
		a.attempts = 1
	}
	return a
}
