package ipchttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/c2h5oh/datasize"
)

// Client is a wrapper around http.Client.
type Client struct {
	http      *http.Client
	userAgent string
}

// ClientConfig is the configuration structure for Client.
type ClientConfig struct {
	// Timeout is the timeout for all requests.
	Timeout time.Duration
}

// NewClient returns a new client.  c must not be nil.
func NewClient(c *ClientConfig) (cli *Client) {
	return &Client{
		http: &http.Client{
			Timeout: c.Timeout,
		},
		userAgent: UserAgent(),
	}
}

// Get is a wrapper around http.Client.Get.  hdr is an optional set of extra
// request headers.
//
// When err is nil, resp always contains a non-nil resp.Body.  Caller should
// close resp.Body when done reading from it.
func (c *Client) Get(ctx context.Context, u *url.URL, hdr http.Header) (resp *http.Response, err error) {
	return c.do(ctx, http.MethodGet, u, hdr, "", nil)
}

// Post is a wrapper around http.Client.Post.  hdr is an optional set of
// extra request headers.
//
// When err is nil, resp always contains a non-nil resp.Body.  Caller should
// close resp.Body when done reading from it.
func (c *Client) Post(
	ctx context.Context,
	u *url.URL,
	hdr http.Header,
	contentType string,
	body io.Reader,
) (resp *http.Response, err error) {
	return c.do(ctx, http.MethodPost, u, hdr, contentType, body)
}

// do is a wrapper around http.Client.Do.
func (c *Client) do(
	ctx context.Context,
	method string,
	u *url.URL,
	hdr http.Header,
	contentType string,
	body io.Reader,
) (resp *http.Response, err error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", method, err)
	}

	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if contentType != "" {
		req.Header.Set(httphdr.ContentType, contentType)
	}

	req.Header.Set(httphdr.UserAgent, c.userAgent)

	return c.http.Do(req)
}

// ReadLimited reads the whole body of resp up to maxSize and closes it.
func ReadLimited(resp *http.Response, maxSize datasize.ByteSize) (body []byte, err error) {
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	r := ioutil.LimitReader(resp.Body, maxSize.Bytes())
	body, err = io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return body, nil
}
