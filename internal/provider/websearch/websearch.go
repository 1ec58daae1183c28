// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package websearch is a search provider over a JSON HTTP endpoint.
//
// The endpoint answers GET {endpoint}/search?q=...&limit=N with
//
//	{"results": [{"id", "title", "url", "snippet", "score"}]}
//
// and GET {endpoint}/health with any 2xx status while it is serving.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sigil-dev/quill/internal/provider"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

const (
	defaultMaxResults = 10
	maxBodyBytes      = 4 << 20
)

// Config holds web search provider configuration.
type Config struct {
	Name       string // registry name, defaults to "websearch"
	Endpoint   string
	APIKey     string // optional bearer token
	HealthPath string // defaults to "/health"
	Client     *http.Client
}

// Provider implements provider.SearchProvider.
type Provider struct {
	config Config
	base   *url.URL
}

type searchResponse struct {
	Results []struct {
		ID      string  `json:"id"`
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Snippet string  `json:"snippet"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// New creates a web search provider. The endpoint must be an absolute http(s) URL.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "websearch"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}

	base, err := url.Parse(cfg.Endpoint)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, quillerr.New(quillerr.CodeProviderRequestInvalid,
			fmt.Sprintf("%s: endpoint must be an absolute http(s) URL, got %q", cfg.Name, cfg.Endpoint),
			quillerr.FieldProvider(cfg.Name))
	}

	return &Provider{config: cfg, base: base}, nil
}

func (p *Provider) Name() string { return p.config.Name }

// Search runs one query. Results keep the endpoint's order; scores are
// clamped to [0,1].
func (p *Provider) Search(ctx context.Context, q provider.SearchQuery) ([]provider.SearchResultItem, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, quillerr.New(quillerr.CodeProviderRequestInvalid, "search query is empty",
			quillerr.FieldProvider(p.config.Name))
	}
	limit := q.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}

	params := url.Values{}
	params.Set("q", q.Query)
	params.Set("limit", strconv.Itoa(limit))

	resp, err := p.get(ctx, "/search", params)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, quillerr.Wrap(err, quillerr.CodeProviderResponseInvalid,
			p.config.Name+": decoding search response", quillerr.FieldProvider(p.config.Name))
	}

	items := make([]provider.SearchResultItem, 0, min(len(body.Results), limit))
	for i, r := range body.Results {
		if i == limit {
			break
		}
		id := r.ID
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		items = append(items, provider.SearchResultItem{
			ID:             id,
			Title:          r.Title,
			URL:            r.URL,
			Snippet:        r.Snippet,
			RelevanceScore: max(0, min(1, r.Score)),
			Source:         p.config.Name,
		})
	}
	return items, nil
}

// CheckHealth checks the endpoint's health path.
func (p *Provider) CheckHealth(ctx context.Context) error {
	resp, err := p.get(ctx, p.config.HealthPath, nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (p *Provider) Close() error {
	p.config.Client.CloseIdleConnections()
	return nil
}

// get issues a GET and turns transport failures and non-2xx statuses into
// provider errors. The caller closes the body on success.
func (p *Provider) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	u := p.base.JoinPath(path)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, quillerr.Wrap(err, quillerr.CodeProviderRequestInvalid,
			p.config.Name+": building request", quillerr.FieldProvider(p.config.Name))
	}
	req.Header.Set("Accept", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.config.Client.Do(req)
	if err != nil {
		return nil, provider.UpstreamError(p.config.Name, 0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, provider.UpstreamError(p.config.Name, resp.StatusCode,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	return resp, nil
}
