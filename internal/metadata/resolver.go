package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const cacheSize = 2048

var ErrUnsupportedURI = errors.New("unsupported metadata uri")

type TokenMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// URIReader reads a token's metadata URI from the NFT contract.
type URIReader interface {
	TokenURI(ctx context.Context, tokenID *big.Int) (string, error)
}

type Resolver struct {
	uris    URIReader
	http    HTTPClient
	gateway string
	cache   *lru.Cache[string, TokenMetadata]
}

func NewResolver(uris URIReader, httpClient HTTPClient, gateway string) *Resolver {
	cache, _ := lru.New[string, TokenMetadata](cacheSize)
	return &Resolver{
		uris:    uris,
		http:    httpClient,
		gateway: strings.TrimRight(gateway, "/"),
		cache:   cache,
	}
}

func PlaceholderName(tokenID string) string {
	return "NFT #" + tokenID
}

// Name never fails: any lookup problem yields the placeholder name.
func (r *Resolver) Name(ctx context.Context, tokenID *big.Int) string {
	if tokenID == nil {
		return PlaceholderName("0")
	}
	md, err := r.Resolve(ctx, tokenID)
	if err != nil || strings.TrimSpace(md.Name) == "" {
		if err != nil {
			zap.L().Debug("Metadata lookup failed", zap.String("tokenId", tokenID.String()), zap.Error(err))
		}
		return PlaceholderName(tokenID.String())
	}
	return md.Name
}

func (r *Resolver) Resolve(ctx context.Context, tokenID *big.Int) (TokenMetadata, error) {
	key := tokenID.String()
	if md, ok := r.cache.Get(key); ok {
		return md, nil
	}
	uri, err := r.uris.TokenURI(ctx, tokenID)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("token uri: %w", err)
	}
	md, err := r.fetch(ctx, uri)
	if err != nil {
		return TokenMetadata{}, err
	}
	r.cache.Add(key, md)
	return md, nil
}

func (r *Resolver) fetch(ctx context.Context, uri string) (TokenMetadata, error) {
	var md TokenMetadata
	if strings.HasPrefix(uri, "data:application/json") {
		raw, err := decodeDataURI(uri)
		if err != nil {
			return md, err
		}
		if err := json.Unmarshal(raw, &md); err != nil {
			return md, fmt.Errorf("failed to decode inline metadata: %w", err)
		}
		return md, nil
	}
	url, err := GatewayURL(r.gateway, uri)
	if err != nil {
		return md, err
	}
	if err := r.http.Get(ctx, url, &md); err != nil {
		return md, err
	}
	return md, nil
}

// GatewayURL rewrites ipfs:// URIs onto the gateway and passes http(s) through.
func GatewayURL(gateway, uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		path := strings.TrimPrefix(uri, "ipfs://")
		path = strings.TrimPrefix(path, "ipfs/")
		if path == "" {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
		}
		return strings.TrimRight(gateway, "/") + "/ipfs/" + path, nil
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"):
		return uri, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
}

func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: malformed data uri", ErrUnsupportedURI)
	}
	header, payload := uri[:comma], uri[comma+1:]
	if strings.HasSuffix(header, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	return []byte(payload), nil
}
