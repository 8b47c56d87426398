package resolve

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const lookupCacheKeyPrefix = "go-dynsync::entity_lookup::v1"

// CachedResolver decorates a Lookuper with a read-through cache. Vendor
// lookups repeat for every invoice of the same supplier, so hits are common
// within a run.
type CachedResolver struct {
	base  Lookuper
	cache repositorycache.CacheService
}

func NewCachedResolver(base Lookuper, cacheService repositorycache.CacheService) (*CachedResolver, error) {
	if base == nil {
		return nil, fmt.Errorf("resolve: base resolver is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("resolve: cache service is required")
	}
	return &CachedResolver{base: base, cache: cacheService}, nil
}

// LookupCacheKey returns the deterministic cache key contract for entity
// lookups: go-dynsync::entity_lookup::v1::<endpoint>::<k=v>... with each
// segment URL-path escaped and filter keys sorted.
func LookupCacheKey(endpoint string, filter map[string]string) string {
	segments := []string{url.PathEscape(strings.TrimSpace(endpoint))}
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		segments = append(segments, url.PathEscape(key+"="+filter[key]))
	}
	return strings.Join(append([]string{lookupCacheKeyPrefix}, segments...), "::")
}

func (r *CachedResolver) Lookup(ctx context.Context, endpoint string, filter map[string]string) (map[string]any, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return nil, fmt.Errorf("resolve: cached resolver is not configured")
	}
	cacheKey := LookupCacheKey(endpoint, filter)
	entity, err := repositorycache.GetOrFetch(ctx, r.cache, cacheKey, func(ctx context.Context) (map[string]any, error) {
		return r.base.Lookup(ctx, endpoint, filter)
	})
	if err != nil {
		return nil, err
	}
	if len(entity) == 0 {
		return nil, nil
	}
	cloned := make(map[string]any, len(entity))
	for key, value := range entity {
		cloned[key] = value
	}
	return cloned, nil
}

var _ Lookuper = (*CachedResolver)(nil)
