package upstream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/terraform-svchost"
	"golang.org/x/net/http/httpproxy"

	"github.com/tfproviders/provider-mirror/pkg/core"
	"github.com/tfproviders/provider-mirror/pkg/credentials"
)

const (
	providerPayloadMaxLen = 8 * 1024 * 1024

	connectTimeout = 10 * time.Second
	overallTimeout = 60 * time.Second
)

// Client is the upstream registry client (C2).
type Client struct {
	httpClient *http.Client
	transport  *http.Transport // underlying dial transport; WithProxy mutates this directly
	creds      credentials.Store
	port       int // overridden in tests to target a local mock; 0 means default 443
	cache      discoveryCache
}

// Option configures a Client.
type Option func(*Client)

// WithPort overrides the upstream port, defaulting to 443. Tests use this
// to target a local mock server.
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// WithHTTPClient overrides the underlying transport, e.g. to inject a
// proxy or a custom CA pool from the composition root.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// ProxyConfig mirrors the composition root's --upstream-proxy-url and
// --upstream-no-proxy flags into the transport's dialing decision.
type ProxyConfig struct {
	ProxyURL *url.URL
	NoProxy  string
}

// WithProxy routes outbound requests through proxy unless the target
// host matches one of the comma-separated suffixes in NoProxy, following
// httpproxy.Config's own NO_PROXY semantics. A zero ProxyConfig leaves
// the transport without a proxy: requests connect directly and the proxy
// environment variables are not consulted.
func WithProxy(cfg ProxyConfig) Option {
	return func(c *Client) {
		if cfg.ProxyURL == nil || c.transport == nil {
			return
		}
		proxyFunc := httpproxy.Config{
			HTTPProxy:  cfg.ProxyURL.String(),
			HTTPSProxy: cfg.ProxyURL.String(),
			NoProxy:    cfg.NoProxy,
		}.ProxyFunc()
		c.transport.Proxy = func(req *http.Request) (*url.URL, error) {
			return proxyFunc(req.URL)
		}
	}
}

// NewClient builds a Client with the teacher's connect/overall timeout
// discipline and a bounded retry policy for idempotent GETs, limited to
// transport-level failures only (spec.md ADDED §4.2). The default
// transport verifies TLS against the system root CA pool; WithHTTPClient
// replaces the whole client, including its transport and retry policy.
func NewClient(creds credentials.Store, opts ...Option) *Client {
	retryable := retryablehttp.NewClient()
	retryable.RetryMax = 2
	retryable.Logger = nil
	retryable.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			// Only transport-level failures (dial, reset, timeout) are
			// retried; a non-2xx response is a single-shot domain error.
			return true, nil
		}
		return false, nil
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	retryable.HTTPClient.Transport = transport
	retryable.HTTPClient.Timeout = overallTimeout

	c := &Client{
		httpClient: retryable.StandardClient(),
		transport:  transport,
		creds:      creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// normalizeHostname case-folds and IDNA-normalizes a hostname. The
// client's upstream requests and credential lookups use the normalized
// form, so "ACME.example.com" and "acme.example.com" reach the same
// upstream host and look up the same credential entry (spec.md ADDED
// §4.2). The metadata store and the credentials admin API key on the
// hostname exactly as given.
func normalizeHostname(hostname string) (string, error) {
	h, err := svchost.ForComparison(hostname)
	if err != nil {
		return "", core.NewError(core.KindInvalidRequest, "invalid hostname "+hostname, err)
	}
	return string(h), nil
}

func (c *Client) hostPort(hostname string) string {
	port := c.port
	if port == 0 {
		port = 443
	}
	if port == 443 {
		return hostname
	}
	return fmt.Sprintf("%s:%d", hostname, port)
}

// doBounded executes req and reads at most limit+1 bytes of the body,
// failing with ProviderResponseTooLarge if more was available. It never
// reads beyond limit plus the chunk that revealed the overflow.
func (c *Client) doBounded(req *http.Request, limit int64) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, core.NewError(core.KindProviderResponseFailure, "upstream request failed", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, nil, core.NewError(core.KindProviderResponseFailure, "read upstream body", err)
	}
	if int64(len(body)) > limit {
		return nil, nil, core.NewError(core.KindProviderResponseTooLarge, fmt.Sprintf("response too large (limit %d)", limit), nil)
	}
	return resp, body, nil
}

// ListVersions performs discovery then fetches the versions document for
// a provider, returning the upstream-reported versions and platforms.
func (c *Client) ListVersions(ctx context.Context, key core.ProviderKey) ([]core.UpstreamVersion, error) {
	hostname, err := normalizeHostname(key.Hostname)
	if err != nil {
		return nil, err
	}

	discovered, err := c.discover(ctx, hostname)
	if err != nil {
		return nil, err
	}

	u, err := joinProviderPath(discovered.baseURL, discovered.providersV1, key.Namespace, key.Kind, "versions")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, core.NewError(core.KindInternal, "build versions request", err)
	}
	req, err = credentials.Decorate(ctx, c.creds, hostname, req)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "decorate request with credentials", err)
	}

	resp, body, err := c.doBounded(req, providerPayloadMaxLen)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewError(core.KindProviderResponseFailure, fmt.Sprintf("versions call returned %d", resp.StatusCode), nil)
	}

	var payload struct {
		Versions []struct {
			Version   string `json:"version"`
			Platforms []struct {
				OS   string `json:"os"`
				Arch string `json:"arch"`
			} `json:"platforms"`
		} `json:"versions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, core.NewError(core.KindProviderDeserializationError, "decode versions response", err)
	}

	out := make([]core.UpstreamVersion, 0, len(payload.Versions))
	for _, v := range payload.Versions {
		uv := core.UpstreamVersion{Version: v.Version}
		for _, p := range v.Platforms {
			uv.Platforms = append(uv.Platforms, core.Platform{OS: p.OS, Arch: p.Arch})
		}
		out = append(out, uv)
	}
	return out, nil
}

// downloadMetadata is the upstream "download" endpoint's response: it
// carries the authoritative download URL, which per spec.md §9(c) is
// used as-is rather than re-derived from a path join.
type downloadMetadata struct {
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
}

// OpenArchive resolves the authoritative download URL for a provider
// version+platform and opens a streaming GET against it, returning the
// response body for the artifact pipeline to copy from. The caller owns
// closing the returned io.ReadCloser.
func (c *Client) OpenArchive(ctx context.Context, key core.ProviderKey, version string, platform core.Platform) (io.ReadCloser, error) {
	hostname, err := normalizeHostname(key.Hostname)
	if err != nil {
		return nil, err
	}

	discovered, err := c.discover(ctx, hostname)
	if err != nil {
		return nil, err
	}

	metaURL, err := joinProviderPath(discovered.baseURL, discovered.providersV1, key.Namespace, key.Kind, version, "download", platform.OS, platform.Arch)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, core.NewError(core.KindInternal, "build download-metadata request", err)
	}
	req, err = credentials.Decorate(ctx, c.creds, hostname, req)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "decorate request with credentials", err)
	}

	resp, body, err := c.doBounded(req, providerPayloadMaxLen)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewError(core.KindProviderResponseFailure, fmt.Sprintf("download metadata call returned %d", resp.StatusCode), nil)
	}

	var meta downloadMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, core.NewError(core.KindProviderDeserializationError, "decode download metadata", err)
	}
	if meta.DownloadURL == "" {
		return nil, core.NewError(core.KindProviderGetBuildUrlFailure, "download metadata lacked download_url", nil)
	}

	archiveReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.DownloadURL, nil)
	if err != nil {
		return nil, core.NewError(core.KindProviderGetBuildUrlFailure, "build archive request", err)
	}
	archiveReq, err = credentials.Decorate(ctx, c.creds, hostname, archiveReq)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "decorate archive request with credentials", err)
	}

	archiveResp, err := c.httpClient.Do(archiveReq)
	if err != nil {
		return nil, core.NewError(core.KindProviderResponseFailure, "archive request failed", err)
	}
	if archiveResp.StatusCode < 200 || archiveResp.StatusCode >= 300 {
		archiveResp.Body.Close()
		return nil, core.NewError(core.KindProviderResponseFailure, fmt.Sprintf("archive download returned %d", archiveResp.StatusCode), nil)
	}
	return archiveResp.Body, nil
}

// joinProviderPath builds https://base/providersV1/namespace/kind/segments...
// using net/url.JoinPath, never the buggy missing-slash string
// concatenation spec.md §9(c) flags.
func joinProviderPath(base url.URL, providersV1 string, namespace, kind string, segments ...string) (string, error) {
	parts := append([]string{strings.TrimSuffix(providersV1, "/"), namespace, kind}, segments...)
	full, err := url.JoinPath(base.String(), parts...)
	if err != nil {
		return "", core.NewError(core.KindProviderGetBuildUrlFailure, "join provider path", err)
	}
	return full, nil
}
