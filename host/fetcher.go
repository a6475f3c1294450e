package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jonwraymond/offlinecache/agent"
	"github.com/jonwraymond/offlinecache/cache"
)

// DefaultMaxBodySize caps response bodies read by HTTPFetcher.
const DefaultMaxBodySize int64 = 32 << 20

// HTTPFetcher is the network fetch primitive backed by net/http.
// HTTP error statuses are returned as responses; only transport failures
// are errors.
type HTTPFetcher struct {
	client      *http.Client
	headers     http.Header
	maxBodySize int64
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client = client
	}
}

// WithHeader sets a header on every outbound request unless the request
// already carries it.
func WithHeader(key, value string) FetcherOption {
	return func(f *HTTPFetcher) {
		if f.headers == nil {
			f.headers = make(http.Header)
		}
		f.headers.Set(key, value)
	}
}

// WithMaxBodySize caps how many body bytes are read per response.
func WithMaxBodySize(n int64) FetcherOption {
	return func(f *HTTPFetcher) {
		f.maxBodySize = n
	}
}

// NewHTTPFetcher creates a fetcher. Default client: http.DefaultClient.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:      http.DefaultClient,
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	if f.maxBodySize <= 0 {
		f.maxBodySize = DefaultMaxBodySize
	}
	return f
}

// Fetch performs req and reads the whole body.
func (f *HTTPFetcher) Fetch(ctx context.Context, req cache.Request) (*cache.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	out, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrNetwork, err)
	}
	if req.Header != nil {
		out.Header = req.Header.Clone()
	}
	for key, values := range f.headers {
		if out.Header.Get(key) == "" {
			out.Header[key] = append([]string(nil), values...)
		}
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrNetwork, req.URL, err)
	}
	if int64(len(data)) > f.maxBodySize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, req.URL, f.maxBodySize)
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &cache.Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   data,
		URL:    finalURL,
	}, nil
}

var _ agent.Fetcher = (*HTTPFetcher)(nil)
