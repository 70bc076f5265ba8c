// Package targets resolves display names for monitored targets against the
// inventory service.
package targets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/patrickmn/go-cache"

	"github.com/hydrowatch/alertengine/internal/conf"
	"github.com/hydrowatch/alertengine/internal/errors"
	"github.com/hydrowatch/alertengine/internal/logger"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultCacheTTL = 10 * time.Minute
	maxBodyBytes    = 64 << 10
)

// Resolver looks up target names over HTTP and caches hits. Misses are
// cached too so an unknown target is not queried on every scan.
type Resolver struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache
	log     logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// NewResolver creates a Resolver for the inventory at settings.BaseURL.
func NewResolver(settings conf.TargetSettings, log logger.Logger, opts ...Option) (*Resolver, error) {
	base := strings.TrimRight(settings.BaseURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, errors.Newf("invalid targets.base_url %q", settings.BaseURL).
			Component("targets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.Discard()
	}
	timeout := settings.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := settings.CacheTTL.Std()
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	r := &Resolver{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		cache:   cache.New(ttl, 2*ttl),
		log:     log.Module("targets"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func cacheKey(targetType, targetID string) string {
	return targetType + "|" + targetID
}

// ResolveName returns the display name of a target. An unknown target yields
// a NotFound error.
func (r *Resolver) ResolveName(ctx context.Context, targetType, targetID string) (string, error) {
	key := cacheKey(targetType, targetID)
	if v, ok := r.cache.Get(key); ok {
		name := v.(string)
		if name == "" {
			return "", r.notFound(targetType, targetID)
		}
		return name, nil
	}

	name, err := r.fetch(ctx, targetType, targetID)
	switch {
	case err == nil:
		r.cache.SetDefault(key, name)
		return name, nil
	case errors.CategoryOf(err) == errors.CategoryNotFound:
		r.cache.SetDefault(key, "")
		return "", err
	default:
		return "", err
	}
}

// Flush drops all cached names.
func (r *Resolver) Flush() {
	r.cache.Flush()
}

// Cached reports how many entries are cached.
func (r *Resolver) Cached() int {
	return r.cache.ItemCount()
}

func (r *Resolver) notFound(targetType, targetID string) error {
	return errors.Newf("target %s/%s not found", targetType, targetID).
		Component("targets").
		Category(errors.CategoryNotFound).
		Context("target_type", targetType).
		Context("target_id", targetID).
		Build()
}

func (r *Resolver) fetch(ctx context.Context, targetType, targetID string) (string, error) {
	u := fmt.Sprintf("%s/api/targets/%s/%s", r.baseURL, url.PathEscape(targetType), url.PathEscape(targetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return "", errors.New(err).Component("targets").Category(errors.CategoryValidation).Build()
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errors.New(fmt.Errorf("inventory lookup: %w", err)).
			Component("targets").
			Category(errors.CategoryCollector).
			Context("target_id", targetID).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", errors.New(fmt.Errorf("read inventory response: %w", err)).
			Component("targets").
			Category(errors.CategoryCollector).
			Build()
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", r.notFound(targetType, targetID)
	case resp.StatusCode != http.StatusOK:
		return "", errors.Newf("inventory returned status %d", resp.StatusCode).
			Component("targets").
			Category(errors.CategoryCollector).
			Context("target_id", targetID).
			Build()
	}

	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return "", errors.New(fmt.Errorf("decode inventory response: %w", err)).
			Component("targets").
			Category(errors.CategoryCollector).
			Build()
	}
	name, err := obj.GetString("name")
	if err != nil || name == "" {
		return "", r.notFound(targetType, targetID)
	}

	r.log.Debug("resolved target name",
		logger.String("target_type", targetType),
		logger.String("target_id", targetID),
		logger.String("name", name))
	return name, nil
}
