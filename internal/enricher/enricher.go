// Package enricher orchestrates the enrichment cascade: the freshness policy
// deciding which identifiers need work, the three upstream sources, the
// tiered lookup cache, the rate limiter and the persistent inventory.
package enricher

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"threat-enricher/internal/cache"
	"threat-enricher/internal/common/errors"
	"threat-enricher/internal/common/logging"
	"threat-enricher/internal/models"
	"threat-enricher/internal/ratelimit"
	"threat-enricher/internal/sources"
	"threat-enricher/internal/storage"
)

// Config holds the enricher's tunables.
type Config struct {
	Policy Policy
	// CommitSize bounds how many identifier records share one write
	// transaction in a batch run.
	CommitSize int
}

// Enricher runs the cascade for single identifiers and batches. A source
// that could not be constructed is the unavailable stand-in; the cascade
// only ever consults Available and degrades per source.
type Enricher struct {
	store      storage.Storage
	offline    sources.Source
	origin     sources.Source
	reputation sources.Source
	limiter    *ratelimit.Limiter
	cache      *cache.TieredCache
	policy     Policy
	commitSize int
	counters   *Counters
	logger     logging.Logger
	now        func() time.Time
}

// BatchResult summarizes one EnrichBatch run. The run always completes;
// Errored counts identifiers whose persistent write failed after retry.
type BatchResult struct {
	Examined     int           `json:"examined"`
	Fresh        int           `json:"fresh"`
	Processed    int           `json:"processed"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Errored      int           `json:"errored"`
	BulkCalls    int           `json:"bulk_calls"`
	BulkFailures int           `json:"bulk_failures"`
	Elapsed      time.Duration `json:"elapsed"`
}

// NewEnricher wires the cascade together.
func NewEnricher(
	store storage.Storage,
	offline, origin, reputation sources.Source,
	limiter *ratelimit.Limiter,
	tiered *cache.TieredCache,
	cfg Config,
	logger logging.Logger,
) *Enricher {
	if cfg.CommitSize <= 0 {
		cfg.CommitSize = 50
	}
	if logger == nil {
		logger = logging.Global()
	}

	return &Enricher{
		store:      store,
		offline:    offline,
		origin:     origin,
		reputation: reputation,
		limiter:    limiter,
		cache:      tiered,
		policy:     cfg.Policy,
		commitSize: cfg.CommitSize,
		counters:   NewCounters(),
		logger:     logger,
		now:        time.Now,
	}
}

// Stats returns a point-in-time snapshot of the enricher's counters.
func (e *Enricher) Stats() Snapshot {
	return e.counters.Snapshot()
}

// RecordObservation notes one sighting of an IP: the record is created on
// first sight, otherwise last-seen and the observation counter are bumped.
// Enrichment is not triggered here; the ingestion pipeline calls this per
// event and schedules enrichment separately.
func (e *Enricher) RecordObservation(ip string) (*models.IPRecord, error) {
	return e.store.RecordObservation(ip, e.now())
}

// EnrichOne runs the cascade for a single identifier. A fresh record is
// returned unchanged without touching any source. Individual source failures
// are logged and their contribution omitted; only a failed persistent write
// fails the call.
func (e *Enricher) EnrichOne(ctx context.Context, ip string) (*models.IPRecord, error) {
	record, created, err := e.loadRecord(ip)
	if err != nil {
		e.counters.errored.Add(1)
		return nil, err
	}

	now := e.now()
	fresh, reason := e.policy.Evaluate(record.Enrichment, e.databaseBuild(), now)
	if fresh {
		e.counters.fresh.Add(1)
		return record, nil
	}
	e.logger.Debug("record stale, running cascade",
		logging.Field{Key: "ip", Value: ip}, logging.Field{Key: "reason", Value: reason})

	results := make(map[string]*models.SourceResult)
	e.applyOffline(ctx, ip, results)

	// The bulk source is only consulted when the offline pass produced no
	// group attribution; for a single identifier that is a one-item call.
	if groupFromResults(results) == nil && e.origin.Available() {
		if res, err := e.cachedLookup(ctx, e.origin, ip); err != nil {
			e.logSourceFailure(e.origin.Name(), ip, err)
		} else {
			results[res.Source] = res
		}
	}

	e.applyReputation(ctx, ip, results)

	for _, res := range results {
		record.SetEntry(res.Source, res.Data, now)
	}

	previous := record.ASN
	attribution := groupFromResults(results)
	if attribution != nil {
		asn := attribution.ASN
		record.ASN = &asn
	}

	if err := e.saveRecords([]*models.IPRecord{record}); err != nil {
		e.counters.errored.Add(1)
		return nil, err
	}

	e.counters.processed.Add(1)
	if created {
		e.counters.created.Add(1)
	} else {
		e.counters.updated.Add(1)
	}

	if attribution != nil {
		if err := e.applyGroupUpdate(ip, previous, attribution); err != nil {
			e.counters.errored.Add(1)
			return nil, err
		}
	}

	return record, nil
}

// EnrichBatch runs the three-pass pipeline over the given identifiers. A
// limit of zero processes every currently-stale identifier; a negative limit
// disables enrichment entirely. The run completes through partial failures;
// cancellation is honored between bulk chunks and between commit groups,
// never mid-chunk.
func (e *Enricher) EnrichBatch(ctx context.Context, ips []string, limit int) (*BatchResult, error) {
	started := e.now()
	result := &BatchResult{}

	if limit < 0 {
		e.logger.Info("enrichment disabled by negative limit")
		return result, nil
	}

	build := e.databaseBuild()

	type item struct {
		record      *models.IPRecord
		created     bool
		previous    *int64
		results     map[string]*models.SourceResult
		attribution *models.GroupAttribution
	}

	var stale []*item
	for _, ip := range ips {
		result.Examined++
		record, created, err := e.loadRecord(ip)
		if err != nil {
			e.counters.errored.Add(1)
			result.Errored++
			e.logger.Error("failed to load record", err, logging.Field{Key: "ip", Value: ip})
			continue
		}

		if fresh, _ := e.policy.Evaluate(record.Enrichment, build, e.now()); fresh {
			e.counters.fresh.Add(1)
			result.Fresh++
			continue
		}

		stale = append(stale, &item{
			record:   record,
			created:  created,
			previous: record.ASN,
			results:  make(map[string]*models.SourceResult),
		})
		if limit > 0 && len(stale) == limit {
			break
		}
	}

	// Pass 1: offline source over every stale identifier. Identifiers still
	// lacking a group attribution are served from the lookup cache when the
	// origin payload is already there; the rest go to the bulk pass.
	var pending []*item
	for _, it := range stale {
		e.applyOffline(ctx, it.record.IP, it.results)
		if groupFromResults(it.results) != nil {
			continue
		}
		if res := e.cachedResult(ctx, sources.SourceOrigin, it.record.IP); res != nil {
			it.results[res.Source] = res
			continue
		}
		pending = append(pending, it)
	}

	// Pass 2: fixed-size bulk chunks. A failed chunk is logged and skipped;
	// its identifiers stay stale for the next run.
	if bulk, ok := e.origin.(sources.BulkSource); ok && e.origin.Available() && len(pending) > 0 {
		byIP := make(map[string]*item, len(pending))
		for _, it := range pending {
			byIP[it.record.IP] = it
		}

		size := bulk.MaxBatchSize()
		for start := 0; start < len(pending); start += size {
			if err := ctx.Err(); err != nil {
				result.Elapsed = e.now().Sub(started)
				return result, err
			}

			end := min(start+size, len(pending))
			chunk := make([]string, 0, end-start)
			for _, it := range pending[start:end] {
				chunk = append(chunk, it.record.IP)
			}

			e.counters.bulkCalls.Add(1)
			result.BulkCalls++
			lookups, err := bulk.LookupBatch(ctx, chunk)
			if err != nil {
				e.counters.bulkFailures.Add(1)
				result.BulkFailures++
				e.logger.Warn("bulk chunk failed, continuing",
					logging.Field{Key: "chunk_size", Value: len(chunk)}, logging.Err(err))
				continue
			}

			for ip, res := range lookups {
				// Result keys are upstream-controlled; an address that was not
				// in this run's request is dropped.
				it, ok := byIP[ip]
				if !ok {
					e.logger.Warn("dropping bulk result for unrequested address",
						logging.Field{Key: "source", Value: res.Source}, logging.Field{Key: "ip", Value: ip})
					continue
				}
				it.results[res.Source] = res
				e.cachePut(ctx, res.Source, ip, res)
			}
		}
	}

	// Pass 3: reputation, merge and commit in fixed-size groups. A group
	// whose write fails after retry is surfaced in the counts only.
	for start := 0; start < len(stale); start += e.commitSize {
		if err := ctx.Err(); err != nil {
			result.Elapsed = e.now().Sub(started)
			return result, err
		}

		end := min(start+e.commitSize, len(stale))
		group := stale[start:end]
		records := make([]*models.IPRecord, 0, len(group))
		now := e.now()

		for _, it := range group {
			e.applyReputation(ctx, it.record.IP, it.results)

			for _, res := range it.results {
				it.record.SetEntry(res.Source, res.Data, now)
			}
			if attribution := groupFromResults(it.results); attribution != nil {
				asn := attribution.ASN
				it.record.ASN = &asn
				it.attribution = attribution
			}
			records = append(records, it.record)
		}

		if err := e.saveRecords(records); err != nil {
			e.counters.errored.Add(int64(len(group)))
			result.Errored += len(group)
			e.logger.Error("commit group failed", err,
				logging.Field{Key: "group_size", Value: len(group)})
			continue
		}

		for _, it := range group {
			e.counters.processed.Add(1)
			result.Processed++
			if it.created {
				e.counters.created.Add(1)
				result.Created++
			} else {
				e.counters.updated.Add(1)
				result.Updated++
			}

			if it.attribution == nil {
				continue
			}
			if err := e.applyGroupUpdate(it.record.IP, it.previous, it.attribution); err != nil {
				e.counters.errored.Add(1)
				result.Errored++
				e.logger.Error("group update failed", err,
					logging.Field{Key: "ip", Value: it.record.IP})
			}
		}
	}

	result.Elapsed = e.now().Sub(started)
	e.logger.Info("batch run complete",
		logging.Field{Key: "examined", Value: result.Examined},
		logging.Field{Key: "processed", Value: result.Processed},
		logging.Field{Key: "errored", Value: result.Errored},
		logging.Field{Key: "bulk_calls", Value: result.BulkCalls},
		logging.Field{Key: "elapsed", Value: result.Elapsed.String()})

	return result, nil
}

// applyOffline runs the offline source for one identifier, recording its
// contribution. The offline databases are local and free, so the lookup
// cache is not consulted for them.
func (e *Enricher) applyOffline(ctx context.Context, ip string, results map[string]*models.SourceResult) {
	if !e.offline.Available() {
		return
	}
	e.counters.addSourceCall(e.offline.Name())
	res, err := e.offline.Lookup(ctx, ip)
	if err != nil {
		e.logSourceFailure(e.offline.Name(), ip, err)
		return
	}
	results[res.Source] = res
}

// applyReputation runs the reputation source when it is configured and the
// limiter admits the call. A denial leaves the reputation entry absent,
// which the freshness policy treats as optional.
func (e *Enricher) applyReputation(ctx context.Context, ip string, results map[string]*models.SourceResult) {
	if !e.reputation.Available() {
		return
	}
	res, err := e.cachedLookup(ctx, e.reputation, ip)
	if err != nil {
		e.logSourceFailure(e.reputation.Name(), ip, err)
		return
	}
	results[res.Source] = res
}

// cachedLookup consults the tiered cache before calling the upstream source,
// charging the rate limiter only for actual upstream calls.
func (e *Enricher) cachedLookup(ctx context.Context, src sources.Source, ip string) (*models.SourceResult, error) {
	name := src.Name()

	if res := e.cachedResult(ctx, name, ip); res != nil {
		return res, nil
	}

	if e.limiter != nil && !e.limiter.Acquire(ctx, name) {
		return nil, errors.RateLimitError(name)
	}

	e.counters.addSourceCall(name)
	res, err := src.Lookup(ctx, ip)
	if err != nil {
		return nil, err
	}

	e.cachePut(ctx, name, ip, res)
	return res, nil
}

// cachedResult reads one source's cached payload, treating an undecodable
// entry as a miss to be overwritten by the next upstream result.
func (e *Enricher) cachedResult(ctx context.Context, source, ip string) *models.SourceResult {
	payload, ok := e.cache.Get(ctx, source, ip)
	if !ok {
		return nil
	}
	var res models.SourceResult
	if err := json.Unmarshal(payload, &res); err != nil {
		e.logger.Warn("discarding corrupt cache entry",
			logging.Field{Key: "source", Value: source}, logging.Field{Key: "key", Value: ip})
		return nil
	}
	return &res
}

func (e *Enricher) cachePut(ctx context.Context, source, ip string, res *models.SourceResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	e.cache.Put(ctx, source, ip, payload)
}

// saveRecords writes a commit group, retrying once before surfacing the
// failure for that group.
func (e *Enricher) saveRecords(records []*models.IPRecord) error {
	err := e.store.SaveIPs(records)
	if err == nil {
		return nil
	}
	e.logger.Warn("record write failed, retrying", logging.Err(err))
	if err = e.store.SaveIPs(records); err != nil {
		return errors.InternalError("record write failed after retry", err)
	}
	return nil
}

// applyGroupUpdate runs the inventory update boundary with a single retry.
func (e *Enricher) applyGroupUpdate(ip string, previous *int64, attribution *models.GroupAttribution) error {
	err := e.store.ApplyGroupUpdate(ip, previous, attribution.ASN, attribution.Meta())
	if err == nil {
		return nil
	}
	e.logger.Warn("group update failed, retrying",
		logging.Field{Key: "ip", Value: ip}, logging.Err(err))
	if err = e.store.ApplyGroupUpdate(ip, previous, attribution.ASN, attribution.Meta()); err != nil {
		return errors.InternalError("group update failed after retry", err)
	}
	return nil
}

// loadRecord fetches the identifier's record, creating an in-memory one for
// identifiers never observed before.
func (e *Enricher) loadRecord(ip string) (*models.IPRecord, bool, error) {
	record, err := e.store.GetIP(ip)
	if err == nil {
		return record, false, nil
	}
	if errors.IsType(err, errors.ErrTypeNotFound) {
		now := e.now()
		return &models.IPRecord{
			IP:         ip,
			Enrichment: make(models.Payload),
			FirstSeen:  now,
			LastSeen:   now,
			SeenCount:  1,
		}, true, nil
	}
	return nil, false, err
}

// databaseBuild queries the offline source's build time at decision time.
// Without a capable offline source the zero time disables the build check.
func (e *Enricher) databaseBuild() time.Time {
	if offline, ok := e.offline.(sources.OfflineSource); ok && offline.Available() {
		return offline.BuildTime()
	}
	return time.Time{}
}

func (e *Enricher) logSourceFailure(source, ip string, err error) {
	switch errors.GetType(err) {
	case errors.ErrTypeRateLimit, errors.ErrTypeNotFound:
		e.logger.Debug("source skipped",
			logging.Field{Key: "source", Value: source}, logging.Field{Key: "ip", Value: ip}, logging.Err(err))
	default:
		e.logger.Warn("source failed",
			logging.Field{Key: "source", Value: source}, logging.Field{Key: "ip", Value: ip}, logging.Err(err))
	}
}

// groupFromResults picks the group attribution to trust, preferring the
// origin lookup over the offline databases since it carries registry data.
func groupFromResults(results map[string]*models.SourceResult) *models.GroupAttribution {
	if res, ok := results[sources.SourceOrigin]; ok && res.Group != nil {
		return res.Group
	}
	if res, ok := results[sources.SourceGeoIP]; ok && res.Group != nil {
		return res.Group
	}
	for _, res := range results {
		if res.Group != nil {
			return res.Group
		}
	}
	return nil
}
