package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"threat-enricher/internal/common/errors"
	"threat-enricher/internal/common/logging"
	"threat-enricher/internal/models"
)

// OriginConfig holds the bulk origin-lookup source settings.
type OriginConfig struct {
	Endpoint  string
	BatchSize int
	Timeout   time.Duration
}

// OriginSource resolves network ownership (ASN, prefix, registry) through a
// bulk lookup API. Per-item calls against this upstream risk multi-second
// latency, so batch lookups are the primary interface; Lookup exists only
// for the single-identifier cascade.
type OriginSource struct {
	config OriginConfig
	client *http.Client
	logger logging.Logger
}

type originRequest struct {
	Addresses []string `json:"addresses"`
}

type originResponse struct {
	Origins []originRecord `json:"origins"`
}

type originRecord struct {
	Address  string `json:"address"`
	ASN      int64  `json:"asn"`
	ASName   string `json:"as_name"`
	Prefix   string `json:"prefix"`
	Country  string `json:"country"`
	Registry string `json:"registry"`
}

// NewOriginSource creates the bulk origin source.
func NewOriginSource(cfg OriginConfig, logger logging.Logger) (*OriginSource, error) {
	if cfg.Endpoint == "" {
		return nil, errors.ConfigError("origin endpoint is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Global()
	}

	return &OriginSource{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.WithFields(logging.Field{Key: "source", Value: SourceOrigin}),
	}, nil
}

func (s *OriginSource) Name() string { return SourceOrigin }

func (s *OriginSource) Available() bool { return true }

func (s *OriginSource) MaxBatchSize() int { return s.config.BatchSize }

func (s *OriginSource) Lookup(ctx context.Context, ip string) (*models.SourceResult, error) {
	results, err := s.LookupBatch(ctx, []string{ip})
	if err != nil {
		return nil, err
	}
	result, ok := results[ip]
	if !ok {
		return nil, errors.NotFoundError("origin record")
	}
	return result, nil
}

// LookupBatch issues one bulk call for up to MaxBatchSize addresses.
func (s *OriginSource) LookupBatch(ctx context.Context, ips []string) (map[string]*models.SourceResult, error) {
	if len(ips) == 0 {
		return map[string]*models.SourceResult{}, nil
	}
	if len(ips) > s.config.BatchSize {
		return nil, errors.ValidationError(
			fmt.Sprintf("batch of %d exceeds maximum batch size %d", len(ips), s.config.BatchSize))
	}

	body, err := json.Marshal(originRequest{Addresses: ips})
	if err != nil {
		return nil, errors.InternalError("failed to encode origin request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint+"/v1/origins", bytes.NewReader(body))
	if err != nil {
		return nil, errors.InternalError("failed to build origin request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.UnavailableError(SourceOrigin, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.UnavailableError(SourceOrigin,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var decoded originResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.UnavailableError(SourceOrigin, err)
	}

	results := make(map[string]*models.SourceResult, len(decoded.Origins))
	for _, record := range decoded.Origins {
		if record.ASN == 0 {
			// Unrouted address; the upstream knows it but has no owner.
			continue
		}
		results[record.Address] = &models.SourceResult{
			Source: SourceOrigin,
			Data: map[string]interface{}{
				"asn":      record.ASN,
				"as_name":  record.ASName,
				"prefix":   record.Prefix,
				"country":  record.Country,
				"registry": record.Registry,
			},
			Group: &models.GroupAttribution{
				ASN:          record.ASN,
				Organization: record.ASName,
				Country:      record.Country,
				Registry:     record.Registry,
			},
		}
	}

	return results, nil
}

var _ BulkSource = (*OriginSource)(nil)
