// Package sources wraps the upstream attribute providers the cascade draws
// from: the offline GeoIP databases, the bulk origin-lookup service and the
// reputation API.
//
// A source that cannot be configured (missing credential, missing database)
// is replaced at construction time with the unavailable stand-in, so the
// cascade never distinguishes "never configured" from "temporarily down" at
// call sites.
package sources

import (
	"context"
	"time"

	"threat-enricher/internal/common/errors"
	"threat-enricher/internal/models"
)

// Source names used as payload keys and cache namespaces.
const (
	SourceGeoIP      = "geoip"
	SourceOrigin     = "origin"
	SourceReputation = "reputation"
)

// Source is one upstream provider of attribute data for an IP.
type Source interface {
	Name() string
	// Available reports whether the source can currently serve lookups.
	// The unavailable stand-in always reports false.
	Available() bool
	Lookup(ctx context.Context, ip string) (*models.SourceResult, error)
}

// OfflineSource is a source backed by a periodically-rebuilt local database.
// It carries no network cost but exposes the build time of its database as
// its own staleness signal.
type OfflineSource interface {
	Source
	// BuildTime reports when the backing database was built, queried at
	// freshness-decision time.
	BuildTime() time.Time
}

// BulkSource is a source that punishes per-item calls and must be driven
// through batched lookups whenever more than one lookup is pending.
type BulkSource interface {
	Source
	// LookupBatch resolves up to MaxBatchSize addresses in one upstream
	// call. Addresses the upstream does not know are absent from the map.
	LookupBatch(ctx context.Context, ips []string) (map[string]*models.SourceResult, error)
	MaxBatchSize() int
}

// unavailableSource is the stand-in for a source that could not be
// constructed. Every lookup reports unavailable.
type unavailableSource struct {
	name string
}

// NewUnavailable returns the stand-in for an unconfigured source.
func NewUnavailable(name string) Source {
	return &unavailableSource{name: name}
}

func (s *unavailableSource) Name() string { return s.name }

func (s *unavailableSource) Available() bool { return false }

func (s *unavailableSource) Lookup(ctx context.Context, ip string) (*models.SourceResult, error) {
	return nil, errors.UnavailableError(s.name, nil)
}

var _ Source = (*unavailableSource)(nil)
