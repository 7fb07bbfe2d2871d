// Package postgres implements the storage interface over PostgreSQL using
// the pgx stdlib driver. The group update boundary takes row-level locks
// (SELECT ... FOR UPDATE) in ascending ASN order so concurrent workers
// resolving to the same groups cannot deadlock or lose counter updates.
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib"

	"threat-enricher/internal/common/errors"
	"threat-enricher/internal/models"
	"threat-enricher/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	db, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{db: db, config: config}
	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ip_addresses (
			ip TEXT PRIMARY KEY,
			asn BIGINT,
			enrichment JSONB NOT NULL DEFAULT '{}',
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			seen_count BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS asn_groups (
			asn BIGINT PRIMARY KEY,
			organization TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			registry TEXT NOT NULL DEFAULT '',
			unique_ip_count BIGINT NOT NULL DEFAULT 0,
			total_event_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS asn_changes (
			id BIGSERIAL PRIMARY KEY,
			ip TEXT NOT NULL,
			previous_asn BIGINT,
			new_asn BIGINT NOT NULL,
			changed_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS enrichment_cache (
			source TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			accessed_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			hit_count BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (source, cache_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ip_addresses_asn ON ip_addresses(asn)`,
		`CREATE INDEX IF NOT EXISTS idx_asn_changes_ip ON asn_changes(ip)`,
		`CREATE INDEX IF NOT EXISTS idx_enrichment_cache_expires ON enrichment_cache(expires_at)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

func (a *Adapter) GetIP(ip string) (*models.IPRecord, error) {
	query := `SELECT ip, asn, enrichment, first_seen, last_seen, seen_count
			  FROM ip_addresses WHERE ip = $1`

	record := &models.IPRecord{}
	var asn sql.NullInt64
	var enrichment []byte

	err := a.db.QueryRow(query, ip).Scan(&record.IP, &asn, &enrichment,
		&record.FirstSeen, &record.LastSeen, &record.SeenCount)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("ip record")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ip record: %w", err)
	}

	if asn.Valid {
		record.ASN = &asn.Int64
	}
	if err := json.Unmarshal(enrichment, &record.Enrichment); err != nil {
		return nil, fmt.Errorf("failed to decode enrichment payload: %w", err)
	}

	return record, nil
}

func (a *Adapter) SaveIP(record *models.IPRecord) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveIPTx(tx, record); err != nil {
		return err
	}

	return tx.Commit()
}

func (a *Adapter) SaveIPs(records []*models.IPRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		if err := saveIPTx(tx, record); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func saveIPTx(tx *sql.Tx, record *models.IPRecord) error {
	payload, err := json.Marshal(record.Enrichment)
	if err != nil {
		return fmt.Errorf("failed to encode enrichment payload: %w", err)
	}

	var asn interface{}
	if record.ASN != nil {
		asn = *record.ASN
	}

	query := `INSERT INTO ip_addresses (ip, asn, enrichment, first_seen, last_seen, seen_count)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (ip) DO UPDATE SET
				asn = EXCLUDED.asn,
				enrichment = EXCLUDED.enrichment,
				last_seen = EXCLUDED.last_seen,
				seen_count = EXCLUDED.seen_count`

	if _, err := tx.Exec(query, record.IP, asn, payload,
		record.FirstSeen.UTC(), record.LastSeen.UTC(), record.SeenCount); err != nil {
		return fmt.Errorf("failed to save ip record: %w", err)
	}

	return nil
}

func (a *Adapter) RecordObservation(ip string, seenAt time.Time) (*models.IPRecord, error) {
	query := `INSERT INTO ip_addresses (ip, enrichment, first_seen, last_seen, seen_count)
			  VALUES ($1, '{}', $2, $2, 1)
			  ON CONFLICT (ip) DO UPDATE SET
				last_seen = EXCLUDED.last_seen,
				seen_count = ip_addresses.seen_count + 1`

	if _, err := a.db.Exec(query, ip, seenAt.UTC()); err != nil {
		return nil, fmt.Errorf("failed to record observation: %w", err)
	}

	return a.GetIP(ip)
}

func (a *Adapter) ListIPs(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := a.db.Query(`SELECT ip FROM ip_addresses ORDER BY last_seen DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ips: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("failed to scan ip: %w", err)
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

func (a *Adapter) GetGroup(asn int64) (*models.ASNGroup, error) {
	query := `SELECT asn, organization, country, registry, unique_ip_count, total_event_count, created_at, updated_at
			  FROM asn_groups WHERE asn = $1`

	group := &models.ASNGroup{}
	err := a.db.QueryRow(query, asn).Scan(&group.ASN, &group.Organization, &group.Country,
		&group.Registry, &group.UniqueIPCount, &group.TotalEventCount,
		&group.CreatedAt, &group.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("asn group")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asn group: %w", err)
	}

	return group, nil
}

func (a *Adapter) ApplyGroupUpdate(ip string, previous *int64, next int64, meta *models.GroupMeta) error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	changed := previous != nil && *previous != next
	first := previous == nil

	// Create missing groups first, then lock every involved row in
	// ascending ASN order. The fixed order is what prevents deadlock when
	// two workers move identifiers between the same pair of groups.
	involved := []int64{next}
	if changed {
		involved = append(involved, *previous)
		if involved[0] > involved[1] {
			involved[0], involved[1] = involved[1], involved[0]
		}
	}
	for _, asn := range involved {
		if _, err := tx.Exec(`INSERT INTO asn_groups (asn) VALUES ($1) ON CONFLICT (asn) DO NOTHING`, asn); err != nil {
			return fmt.Errorf("failed to create asn group: %w", err)
		}
	}
	for _, asn := range involved {
		var locked int64
		if err := tx.QueryRow(`SELECT asn FROM asn_groups WHERE asn = $1 FOR UPDATE`, asn).Scan(&locked); err != nil {
			return fmt.Errorf("failed to lock asn group: %w", err)
		}
	}

	if changed {
		query := `UPDATE asn_groups
				  SET unique_ip_count = GREATEST(unique_ip_count - 1, 0), updated_at = CURRENT_TIMESTAMP
				  WHERE asn = $1`
		if _, err := tx.Exec(query, *previous); err != nil {
			return fmt.Errorf("failed to decrement unique count: %w", err)
		}
	}

	if first || changed {
		query := `UPDATE asn_groups
				  SET unique_ip_count = unique_ip_count + 1, updated_at = CURRENT_TIMESTAMP
				  WHERE asn = $1`
		if _, err := tx.Exec(query, next); err != nil {
			return fmt.Errorf("failed to increment unique count: %w", err)
		}

		var prevValue interface{}
		if previous != nil {
			prevValue = *previous
		}
		change := `INSERT INTO asn_changes (ip, previous_asn, new_asn, changed_at)
				   VALUES ($1, $2, $3, CURRENT_TIMESTAMP)`
		if _, err := tx.Exec(change, ip, prevValue, next); err != nil {
			return fmt.Errorf("failed to append group change: %w", err)
		}
	}

	// The event counter always advances, group change or not.
	query := `UPDATE asn_groups
			  SET total_event_count = total_event_count + 1,
				  organization = CASE WHEN $1 != '' THEN $1 ELSE organization END,
				  country = CASE WHEN $2 != '' THEN $2 ELSE country END,
				  registry = CASE WHEN $3 != '' THEN $3 ELSE registry END,
				  updated_at = CURRENT_TIMESTAMP
			  WHERE asn = $4`
	var org, country, registry string
	if meta != nil {
		org, country, registry = meta.Organization, meta.Country, meta.Registry
	}
	if _, err := tx.Exec(query, org, country, registry, next); err != nil {
		return fmt.Errorf("failed to update group counters: %w", err)
	}

	return tx.Commit()
}

func (a *Adapter) ListGroupChanges(ip string, limit int) ([]*models.GroupChange, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, ip, previous_asn, new_asn, changed_at
			  FROM asn_changes WHERE ip = $1 ORDER BY id DESC LIMIT $2`

	rows, err := a.db.Query(query, ip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list group changes: %w", err)
	}
	defer rows.Close()

	var changes []*models.GroupChange
	for rows.Next() {
		change := &models.GroupChange{}
		var prev sql.NullInt64
		if err := rows.Scan(&change.ID, &change.IP, &prev, &change.NewASN, &change.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group change: %w", err)
		}
		if prev.Valid {
			change.PreviousASN = &prev.Int64
		}
		changes = append(changes, change)
	}

	return changes, rows.Err()
}

func (a *Adapter) CountIPsForGroup(asn int64) (int64, error) {
	var count int64
	err := a.db.QueryRow(`SELECT COUNT(*) FROM ip_addresses WHERE asn = $1`, asn).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ips for group: %w", err)
	}
	return count, nil
}

func (a *Adapter) CacheGet(source, key string) ([]byte, bool, error) {
	query := `SELECT payload, expires_at FROM enrichment_cache
			  WHERE source = $1 AND cache_key = $2`

	var payload []byte
	var expiresAt time.Time
	err := a.db.QueryRow(query, source, key).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	// Lazy expiry: the row stays in place for the sweep to reclaim.
	if time.Now().After(expiresAt) {
		return nil, false, nil
	}

	touch := `UPDATE enrichment_cache SET accessed_at = CURRENT_TIMESTAMP, hit_count = hit_count + 1
			  WHERE source = $1 AND cache_key = $2`
	if _, err := a.db.Exec(touch, source, key); err != nil {
		return nil, false, fmt.Errorf("failed to touch cache entry: %w", err)
	}

	return payload, true, nil
}

func (a *Adapter) CachePut(source, key string, payload []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	query := `INSERT INTO enrichment_cache (source, cache_key, payload, created_at, accessed_at, expires_at, hit_count)
			  VALUES ($1, $2, $3, $4, $4, $5, 0)
			  ON CONFLICT (source, cache_key) DO UPDATE SET
				payload = EXCLUDED.payload,
				created_at = EXCLUDED.created_at,
				accessed_at = EXCLUDED.accessed_at,
				expires_at = EXCLUDED.expires_at`

	if _, err := a.db.Exec(query, source, key, payload, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (a *Adapter) CacheSweep(now time.Time) (int64, error) {
	result, err := a.db.Exec(`DELETE FROM enrichment_cache WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache: %w", err)
	}
	return result.RowsAffected()
}

func (a *Adapter) Stats() (*storage.Stats, error) {
	stats := &storage.Stats{}
	queries := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM ip_addresses`, &stats.IPCount},
		{`SELECT COUNT(*) FROM asn_groups`, &stats.GroupCount},
		{`SELECT COUNT(*) FROM asn_changes`, &stats.ChangeCount},
		{`SELECT COUNT(*) FROM enrichment_cache`, &stats.CacheEntryCount},
	}

	for _, q := range queries {
		if err := a.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to collect storage stats: %w", err)
		}
	}

	return stats, nil
}

var _ storage.Storage = (*Adapter)(nil)
