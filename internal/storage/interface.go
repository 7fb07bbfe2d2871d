// Package storage defines the persistent store for identifier records, group
// records, the group-change audit trail and the durable cache tier, with
// adapters for SQLite and PostgreSQL selected through a factory registry.
package storage

import (
	"time"

	"threat-enricher/internal/models"
)

type Storage interface {
	// Connection management
	Close() error
	Health() error

	// Identifier records. Records are created on first observation and
	// updated in place; they are never deleted.
	GetIP(ip string) (*models.IPRecord, error)
	SaveIP(record *models.IPRecord) error
	// SaveIPs writes a commit group of records in one transaction.
	SaveIPs(records []*models.IPRecord) error
	// RecordObservation creates the record on first sight, or bumps
	// last-seen and the observation counter, and returns the record.
	RecordObservation(ip string, seenAt time.Time) (*models.IPRecord, error)
	// ListIPs returns up to limit IPs ordered by most recent sighting,
	// used as the candidate set for scheduled re-enrichment runs.
	ListIPs(limit int) ([]string, error)

	// Group records and the inventory update boundary.
	GetGroup(asn int64) (*models.ASNGroup, error)
	// ApplyGroupUpdate is the single lock-then-read-then-write boundary for
	// group counters: in one transaction it locks the involved group rows in
	// ascending ASN order, creates missing groups, adjusts unique-IP counts,
	// always increments the new group's event counter and appends the
	// group-change audit row when the reference moved. It is the only writer
	// of group counters.
	ApplyGroupUpdate(ip string, previous *int64, next int64, meta *models.GroupMeta) error
	ListGroupChanges(ip string, limit int) ([]*models.GroupChange, error)
	CountIPsForGroup(asn int64) (int64, error)

	// Durable cache tier. Expiry is enforced lazily on read; Sweep reclaims
	// expired rows eagerly.
	CacheGet(source, key string) ([]byte, bool, error)
	CachePut(source, key string, payload []byte, ttl time.Duration) error
	CacheSweep(now time.Time) (int64, error)

	// Stats reports table counts for the statistics endpoint.
	Stats() (*Stats, error)
}

// Stats summarizes the persistent inventory.
type Stats struct {
	IPCount         int64 `json:"ip_count"`
	GroupCount      int64 `json:"group_count"`
	ChangeCount     int64 `json:"change_count"`
	CacheEntryCount int64 `json:"cache_entry_count"`
}

// StorageConfig is implemented by each adapter's configuration type.
type StorageConfig interface {
	Validate() error
	GetType() string
}

// StorageFactory creates a storage adapter from its configuration.
type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}

// GenericConfig is a map-based StorageConfig used by the top-level factory
// so it does not need to import the adapter packages.
type GenericConfig map[string]string

func (c GenericConfig) Validate() error { return nil }

func (c GenericConfig) GetType() string { return c["type"] }
