// Package metadata resolves ERC-1155 token display metadata over HTTP.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avasile/sharescan/internal/domain"
)

const maxMetadataBytes = 1 << 20 // 1 MiB cap on metadata documents

// Config holds settings for the HTTP metadata resolver.
type Config struct {
	// IPFSGateway rewrites ipfs:// URIs to an HTTP gateway. Defaults to
	// https://ipfs.io/ipfs/ when empty.
	IPFSGateway string
	HTTPTimeout time.Duration
}

// Resolver fetches token metadata documents from HTTP or IPFS-gateway URIs.
// Failures are surfaced to the caller, which treats them as best-effort.
type Resolver struct {
	gateway string
	client  *http.Client
	logger  *slog.Logger
}

// NewResolver creates a Resolver with the given configuration.
func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	gateway := cfg.IPFSGateway
	if gateway == "" {
		gateway = "https://ipfs.io/ipfs/"
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		gateway: gateway,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "metadata_resolver")),
	}
}

// metadataDoc mirrors the JSON document served at a token URI. Attributes
// follow the OpenSea trait convention.
type metadataDoc struct {
	Name       string `json:"name"`
	Image      string `json:"image"`
	Attributes []struct {
		TraitType string `json:"trait_type"`
		Value     any    `json:"value"`
	} `json:"attributes"`
}

// Resolve fetches and parses the metadata document for tokenID. The uri may
// contain an {id} placeholder per the ERC-1155 metadata URI convention.
func (r *Resolver) Resolve(ctx context.Context, uri string, tokenID string) (*domain.TokenMetadata, error) {
	url := r.expandURI(uri, tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata: fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("metadata: read body: %w", err)
	}

	var doc metadataDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("metadata: parse %s: %w", url, err)
	}

	md := &domain.TokenMetadata{
		Name:  doc.Name,
		Image: doc.Image,
	}
	for _, attr := range doc.Attributes {
		val, ok := attr.Value.(string)
		if !ok {
			continue
		}
		switch strings.ToLower(attr.TraitType) {
		case "position":
			md.Position = val
		case "club", "team":
			md.Club = val
		}
	}
	return md, nil
}

// expandURI substitutes the {id} placeholder and rewrites ipfs:// URIs to
// the configured gateway.
func (r *Resolver) expandURI(uri, tokenID string) string {
	uri = strings.ReplaceAll(uri, "{id}", tokenID)
	if after, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		return r.gateway + strings.TrimPrefix(after, "ipfs/")
	}
	return uri
}

// Compile-time interface check.
var _ domain.MetadataResolver = (*Resolver)(nil)
