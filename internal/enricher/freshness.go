package enricher

import (
	"fmt"
	"time"

	"threat-enricher/internal/models"
)

// Policy decides whether an identifier's stored payload is usable as-is or
// requires a full cascade re-run. One source is mandatory: its entry must be
// present no matter how fresh the other entries look, because its absence
// signals a record that was never fully processed. Which source is mandatory
// is configuration, not a constant.
type Policy struct {
	// MandatorySource is the payload key whose entry must always be present.
	MandatorySource string
	// MaxDatabaseAge bounds how old the mandatory offline entry may be
	// relative to its backing database build.
	MaxDatabaseAge time.Duration
	// TTLs maps optional source names to their per-entry lifetimes. A source
	// absent from the payload does not force a refresh; a present entry past
	// its TTL does.
	TTLs map[string]time.Duration
}

// Evaluate applies the policy to a payload. The offline database build time
// is queried from the source at decision time, not stored on the record. A
// non-empty reason is returned for stale payloads so callers can log why a
// cascade re-run was triggered.
func (p *Policy) Evaluate(payload models.Payload, databaseBuild time.Time, now time.Time) (fresh bool, reason string) {
	mandatory, ok := payload.Entry(p.MandatorySource)
	if !ok {
		// An empty payload lands here too: missing the mandatory entry is
		// stale regardless of anything else.
		return false, fmt.Sprintf("mandatory source %s absent", p.MandatorySource)
	}

	if mandatory.UpdatedAt.Before(databaseBuild) {
		return false, fmt.Sprintf("%s entry predates database build", p.MandatorySource)
	}
	if p.MaxDatabaseAge > 0 && now.Sub(mandatory.UpdatedAt) > p.MaxDatabaseAge {
		return false, fmt.Sprintf("%s entry older than %s", p.MandatorySource, p.MaxDatabaseAge)
	}

	for source, ttl := range p.TTLs {
		if source == p.MandatorySource || ttl <= 0 {
			continue
		}
		entry, ok := payload.Entry(source)
		if !ok {
			// Optional source never applied; "never configured" and "quota
			// exhausted" must not force a refresh on their own.
			continue
		}
		if now.Sub(entry.UpdatedAt) > ttl {
			return false, fmt.Sprintf("%s entry older than %s", source, ttl)
		}
	}

	return true, ""
}

// IsFresh reports whether the payload passes every freshness rule.
func (p *Policy) IsFresh(payload models.Payload, databaseBuild time.Time, now time.Time) bool {
	fresh, _ := p.Evaluate(payload, databaseBuild, now)
	return fresh
}
