// Package maintainers resolves Nixpkgs maintainer handles to the packages
// they maintain by streaming the channel's packages.json index.
//
// The index is tens of megabytes once decompressed, so it is never
// unmarshaled as a whole: the compressed body is decoded on the fly and
// walked token by token, keeping only the github handles found under
// packages.<name>.meta.maintainers[*].github.
package maintainers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultIndexURL is the package index of the nixpkgs-unstable channel.
const DefaultIndexURL = "https://channels.nixos.org/nixpkgs-unstable/packages.json.br"

// IndexTimeout bounds the whole index download, body included.
const IndexTimeout = 5 * time.Minute

// githubPath is where maintainer handles live inside a package entry.
var githubPath = []step{member("meta"), member("maintainers"), anyElement, member("github")}

// Resolver maps maintainer handles to package names.
type Resolver struct {
	httpClient *http.Client
	indexURL   string
	userAgent  string
	logger     *zap.SugaredLogger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithIndexURL overrides the package index location. The extension picks
// the decompressor: .br, .zst, .gz or plain JSON.
func WithIndexURL(url string) Option {
	return func(r *Resolver) {
		if url != "" {
			r.indexURL = url
		}
	}
}

// WithUserAgent sets the User-Agent header of the index request.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) { r.userAgent = ua }
}

// WithLogger sets the resolver logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.logger = log
		}
	}
}

// NewResolver creates a Resolver that downloads the index with hc.
func NewResolver(hc *http.Client, opts ...Option) *Resolver {
	if hc == nil {
		hc = &http.Client{Timeout: IndexTimeout}
	}
	r := &Resolver{
		httpClient: hc,
		indexURL:   DefaultIndexURL,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PackagesOf returns the names of packages that list any of maintainers
// (github handles) in meta.maintainers. An empty maintainers list returns
// immediately without touching the network. The order of the result is
// the order of the index.
func (r *Resolver) PackagesOf(ctx context.Context, maintainers []string) ([]string, error) {
	if len(maintainers) == 0 {
		return []string{}, nil
	}

	r.logger.Infow("maintainers: fetching package index",
		"url", r.indexURL,
		"maintainers", maintainers)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create index request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch package index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch package index %s: status %d", r.indexURL, resp.StatusCode)
	}

	body, err := decompress(r.indexURL, resp.Body)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	packages, err := Extract(body, maintainers)
	if err != nil {
		return nil, err
	}

	r.logger.Infow("maintainers: resolved packages",
		"maintainers", maintainers,
		"count", len(packages))
	return packages, nil
}

// Extract reads an uncompressed package index from src and returns the
// packages maintained by any of maintainers.
func Extract(src io.Reader, maintainers []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(maintainers))
	for _, m := range maintainers {
		wanted[m] = struct{}{}
	}

	dec := json.NewDecoder(src)
	packages := []string{}
	found := false

	if err := expectDelim(dec, '{', "$"); err != nil {
		return nil, err
	}
	for dec.More() {
		key, err := readKey(dec, "$")
		if err != nil {
			return nil, err
		}
		if key != "packages" {
			if err := skipValue(dec, "$."+key); err != nil {
				return nil, err
			}
			continue
		}

		found = true
		if err := expectDelim(dec, '{', "$.packages"); err != nil {
			return nil, err
		}
		for dec.More() {
			name, err := readKey(dec, "$.packages")
			if err != nil {
				return nil, err
			}
			match, err := maintainedBy(dec, "$.packages."+name, wanted)
			if err != nil {
				return nil, err
			}
			if match {
				packages = append(packages, name)
			}
		}
		if err := expectDelim(dec, '}', "$.packages"); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}', "$"); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, parseErr("$", errors.New("trailing data after package index"))
	}

	if !found {
		return nil, parseErr("$", errors.New(`missing "packages" object`))
	}
	return packages, nil
}

// maintainedBy consumes one package entry and reports whether any github
// handle under it is in wanted. The whole entry is always consumed, even
// after a match, to keep the decoder aligned.
func maintainedBy(dec *json.Decoder, loc string, wanted map[string]struct{}) (bool, error) {
	match := false
	err := seek(dec, githubPath, loc, func(dec *json.Decoder, loc string) error {
		tok, err := dec.Token()
		if err != nil {
			return parseErr(loc, err)
		}
		switch v := tok.(type) {
		case string:
			if _, ok := wanted[v]; ok {
				match = true
			}
			return nil
		case nil:
			return parseErr(loc, errors.New("expected string, got null"))
		default:
			if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
				return parseErr(loc, fmt.Errorf("expected string, got %s", containerName(d)))
			}
			return parseErr(loc, fmt.Errorf("expected string, got %v", v))
		}
	})
	return match, err
}

func containerName(d json.Delim) string {
	if d == '{' {
		return "object"
	}
	return "array"
}
