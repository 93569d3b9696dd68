// Package http provides a Fetcher backed by HTTP range requests.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/meigma/transfer"
)

// Fetcher retrieves asset bytes over HTTP. Bounded ranges are issued as
// Range requests; whole-file fetches from offset zero omit the Range header,
// and whole-file ranges from a later offset are sent as an open-ended range.
type Fetcher struct {
	client  *nethttp.Client
	headers nethttp.Header
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(f *Fetcher) {
		if headers == nil {
			return
		}
		f.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		if f.headers == nil {
			f.headers = make(nethttp.Header)
		}
		f.headers.Set(key, value)
	}
}

// NewFetcher creates an HTTP range-request Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(f)
	}
	return f
}

// Fetch retrieves the requested byte range of the asset at uri.
func (f *Fetcher) Fetch(ctx context.Context, uri transfer.URI, r transfer.Range) (*transfer.DenseData, error) {
	req, err := f.newRequest(ctx, uri.String())
	if err != nil {
		return nil, err
	}

	wholeFromZero := r.IsWholeFile() && r.Start() == 0
	switch {
	case wholeFromZero:
		// No Range header: plain GET for the complete body.
	case r.IsWholeFile():
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", r.Start()))
	default:
		if r.IsEmpty() {
			return transfer.NewDenseData(r.Start(), nil), nil
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start(), r.End()-1))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case nethttp.StatusOK:
		if !wholeFromZero {
			return nil, errors.New("range requests not supported")
		}
	case nethttp.StatusPartialContent:
		if wholeFromZero {
			return nil, fmt.Errorf("unexpected partial response: %s", resp.Status)
		}
	default:
		return nil, fmt.Errorf("fetch failed: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if wholeFromZero {
		return transfer.NewWholeFileData(0, body), nil
	}

	// A partial response reaching the end of the asset covers EOF; the
	// Content-Range total says where the asset ends.
	if total, err := parseContentRange(resp.Header.Get("Content-Range")); err == nil {
		if r.Start()+int64(len(body)) >= total {
			return transfer.NewWholeFileData(r.Start(), body), nil
		}
	} else if r.IsWholeFile() {
		// An open-ended range request always reads through EOF.
		return transfer.NewWholeFileData(r.Start(), body), nil
	}
	return transfer.NewDenseData(r.Start(), body), nil
}

func (f *Fetcher) newRequest(ctx context.Context, url string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range f.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	if parts[1] == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
