// Package upstream implements C2: the two-step upstream registry
// protocol — service discovery followed by a typed, size-bounded
// provider call — with credential injection and hostname normalization.
//
// Grounded on boring-registry's pkg/discovery/remote_service_discovery.go
// (the sync.Map-cached well-known-endpoint resolver), extended with the
// bounded-reader and typed-error contract spec.md §4.2 requires.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tfproviders/provider-mirror/pkg/core"
)

const (
	wellKnownPath   = ".well-known/terraform.json"
	discoveryMaxLen = 16 * 1024

	contentTypeHeader = "Content-Type"
	contentTypeJSON   = "application/json"
)

// discoveryDocument is the subset of the well-known document the mirror
// cares about.
type discoveryDocument struct {
	ProvidersV1 string `json:"providers.v1,omitempty"`
}

// discoveredService is a cached discovery result: the base URL to join
// relative provider paths against, plus the discovered providers.v1
// path.
type discoveredService struct {
	baseURL     url.URL
	providersV1 string
}

// discoveryCache wraps sync.Map to keep the stored type honest, matching
// the teacher's discoveredRemoteServiceMap.
type discoveryCache struct {
	m sync.Map
}

func (c *discoveryCache) load(host string) (discoveredService, bool) {
	v, ok := c.m.Load(host)
	if !ok {
		return discoveredService{}, false
	}
	return v.(discoveredService), true
}

func (c *discoveryCache) store(host string, d discoveredService) {
	c.m.Store(host, d)
}

// discover resolves host's providers.v1 base, using the cache when
// present. Port, when non-zero, overrides the default 443 so tests can
// target a local mock (spec.md §4.2).
func (c *Client) discover(ctx context.Context, hostname string) (discoveredService, error) {
	if cached, ok := c.cache.load(hostname); ok {
		return cached, nil
	}

	u := url.URL{
		Scheme: "https",
		Host:   c.hostPort(hostname),
		Path:   wellKnownPath,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return discoveredService{}, core.NewError(core.KindInternal, "build discovery request", err)
	}

	resp, body, err := c.doBounded(req, discoveryMaxLen)
	if err != nil {
		return discoveredService{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return discoveredService{}, core.NewError(core.KindProviderResponseFailure,
			"discovery returned non-2xx", fmt.Errorf("status %d", resp.StatusCode))
	}
	if ct := resp.Header.Get(contentTypeHeader); !strings.HasPrefix(ct, contentTypeJSON) {
		return discoveredService{}, core.NewError(core.KindProviderDeserializationError,
			"discovery response has unsupported content-type "+ct, nil)
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return discoveredService{}, core.NewError(core.KindProviderDeserializationError, "decode discovery document", err)
	}
	if doc.ProvidersV1 == "" {
		return discoveredService{}, core.NewError(core.KindTerraformServiceNotSupported, "discovery lacked providers.v1", nil)
	}

	discovered := discoveredService{
		baseURL:     url.URL{Scheme: "https", Host: c.hostPort(hostname)},
		providersV1: doc.ProvidersV1,
	}

	// The protocol allows providers.v1 to be an absolute URL; when it is,
	// the discovered host (which may differ from the requested one) wins.
	if strings.HasPrefix(doc.ProvidersV1, "https://") || strings.HasPrefix(doc.ProvidersV1, "http://") {
		abs, err := url.Parse(doc.ProvidersV1)
		if err != nil {
			return discoveredService{}, core.NewError(core.KindProviderGetBuildUrlFailure, "parse absolute providers.v1 url", err)
		}
		discovered.baseURL = url.URL{Scheme: abs.Scheme, Host: abs.Host}
		discovered.providersV1 = abs.Path
	}

	c.cache.store(hostname, discovered)
	return discovered, nil
}
