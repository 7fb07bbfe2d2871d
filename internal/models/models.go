// Package models defines the persistent records and source result types
// shared across the enrichment engine.
package models

import (
	"time"
)

// SourceEntry is one source's last-known contribution to an IP's enrichment
// payload. An entry is replaced as a whole when its source is re-applied;
// it is never partially updated.
type SourceEntry struct {
	Data      map[string]interface{} `json:"data"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Payload maps a source name to that source's entry. Keeping the payload
// keyed by source preserves per-source provenance and timestamps instead of
// flattening everything into one record.
type Payload map[string]SourceEntry

// Entry returns the entry for a source, or false when the source has never
// contributed to this payload.
func (p Payload) Entry(source string) (SourceEntry, bool) {
	if p == nil {
		return SourceEntry{}, false
	}
	entry, ok := p[source]
	return entry, ok
}

// IPRecord is the persistent record for one observed IP address.
type IPRecord struct {
	IP         string    `json:"ip"`
	ASN        *int64    `json:"asn,omitempty"` // owning group, nil until attributed
	Enrichment Payload   `json:"enrichment"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	SeenCount  int64     `json:"seen_count"`
}

// SetEntry replaces a source's entry in the record's payload.
func (r *IPRecord) SetEntry(source string, data map[string]interface{}, at time.Time) {
	if r.Enrichment == nil {
		r.Enrichment = make(Payload)
	}
	r.Enrichment[source] = SourceEntry{Data: data, UpdatedAt: at}
}

// ASNGroup is the network-owner record an IP is attributed to. Its two
// counters are only ever mutated through the storage layer's group update
// boundary; no other code path may write them.
type ASNGroup struct {
	ASN             int64     `json:"asn"`
	Organization    string    `json:"organization"`
	Country         string    `json:"country"`
	Registry        string    `json:"registry"`
	UniqueIPCount   int64     `json:"unique_ip_count"`
	TotalEventCount int64     `json:"total_event_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// GroupChange is one append-only audit row recording that an IP's group
// reference moved. Rows are never updated or deleted.
type GroupChange struct {
	ID          int64     `json:"id"`
	IP          string    `json:"ip"`
	PreviousASN *int64    `json:"previous_asn,omitempty"` // nil on first attribution
	NewASN      int64     `json:"new_asn"`
	ChangedAt   time.Time `json:"changed_at"`
}

// GroupMeta carries descriptive group metadata discovered during enrichment.
type GroupMeta struct {
	Organization string `json:"organization"`
	Country      string `json:"country"`
	Registry     string `json:"registry"`
}

// GroupAttribution is a source's opinion on which group an IP belongs to.
type GroupAttribution struct {
	ASN          int64  `json:"asn"`
	Organization string `json:"organization"`
	Country      string `json:"country"`
	Registry     string `json:"registry"`
}

// Meta converts an attribution into group metadata.
func (g *GroupAttribution) Meta() *GroupMeta {
	return &GroupMeta{
		Organization: g.Organization,
		Country:      g.Country,
		Registry:     g.Registry,
	}
}

// SourceResult is the outcome of one source lookup for one IP.
type SourceResult struct {
	Source string                 `json:"source"`
	Data   map[string]interface{} `json:"data"`
	Group  *GroupAttribution      `json:"group,omitempty"`
}
