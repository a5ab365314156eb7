package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/pompierapp/firequiz/config"
	"github.com/pompierapp/firequiz/log"
)

const (
	restPrefix   = "/rest/v1"
	rpcPrefix    = "/rest/v1/rpc"
	healthPath   = "/auth/v1/health"
	healthTimeout = 3 * time.Second
)

// Client talks to the hosted backend: table-style reads and writes under
// /rest/v1 and RPC-style stored procedures under /rest/v1/rpc. It is safe for
// concurrent use.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	tokens     TokenStore
}

type clientOpts struct {
	httpClient *http.Client
	tokens     TokenStore
}

type Option interface {
	apply(*clientOpts)
}

type withHTTPClient struct{ c *http.Client }

func (o withHTTPClient) apply(opts *clientOpts) { opts.httpClient = o.c }

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option { return withHTTPClient{c} }

type withTokenStore struct{ ts TokenStore }

func (o withTokenStore) apply(opts *clientOpts) { opts.tokens = o.ts }

// WithTokenStore sets the store the user session token is read from on every
// request and persisted to across restarts.
func WithTokenStore(ts TokenStore) Option { return withTokenStore{ts} }

// NewClient builds a Client from validated API settings.
func NewClient(api *config.API, options ...Option) (*Client, error) {
	if err := api.Validate(); err != nil {
		return nil, err
	}
	u, err := url.Parse(api.URL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse base URL %q: %w", api.URL, err)
	}

	opts := &clientOpts{}
	for _, o := range options {
		o.apply(opts)
	}
	if opts.httpClient == nil {
		opts.httpClient = http.DefaultClient
	}
	if opts.tokens == nil {
		opts.tokens = NewMemoryTokenStore()
	}

	return &Client{
		baseURL:    u,
		apiKey:     api.Key,
		httpClient: opts.httpClient,
		tokens:     opts.tokens,
	}, nil
}

// Tokens exposes the token store so the auth flow can persist refreshed
// session tokens.
func (c *Client) Tokens() TokenStore { return c.tokens }

// From starts a query against the given table.
func (c *Client) From(table string) *Query {
	return &Query{
		client: c,
		table:  table,
		params: url.Values{},
	}
}

// RPC invokes the named stored procedure with the given arguments. The
// procedure is opaque to the client: it either returns a result decoded into
// out (which may be nil) or a structured error.
func (c *Client) RPC(ctx context.Context, name string, args interface{}, out interface{}) error {
	var body io.Reader
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("cannot encode args for rpc %q: %w", name, err)
		}
		body = bytes.NewReader(b)
	}

	return c.do(ctx, http.MethodPost, rpcPrefix+"/"+name, nil, nil, body, out)
}

// Health probes the backend health endpoint. Used by the connectivity
// watcher; a nil error means the store is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(healthPath, nil), nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach remote store: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote store unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := *c.baseURL
	u.Path = singleJoiningSlash(u.Path, path)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, headers http.Header, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, params), body)
	if err != nil {
		return err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer(ctx))
	req.Header.Set("Accept-Encoding", "gzip")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to remote store failed: %w", err)
	}
	defer resp.Body.Close()

	r, err := responseReader(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, r)
	}

	if out == nil {
		io.Copy(io.Discard, r)
		return nil
	}
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("cannot decode remote store response: %w", err)
	}
	return nil
}

// bearer returns the persisted user session token when present, falling back
// to the public API key.
func (c *Client) bearer(ctx context.Context) string {
	token, err := c.tokens.Load(ctx)
	if err != nil {
		log.Errorf("cannot load session token, falling back to api key: %s", err)
		return c.apiKey
	}
	if token == "" {
		return c.apiKey
	}
	return token
}

func responseReader(resp *http.Response) (io.Reader, error) {
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return resp.Body, nil
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read gzipped response: %w", err)
	}
	return zr, nil
}

func decodeError(statusCode int, r io.Reader) error {
	se := &Error{StatusCode: statusCode}
	raw, err := io.ReadAll(r)
	if err != nil {
		se.Message = fmt.Sprintf("unreadable error body: %s", err)
		return se
	}
	if err := json.Unmarshal(raw, se); err != nil || se.Message == "" {
		// Not every failure carries the structured body.
		if se.Message == "" {
			se.Message = strings.TrimSpace(string(raw))
		}
		if se.Message == "" {
			se.Message = http.StatusText(statusCode)
		}
	}
	return se
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
