package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	"threat-enricher/internal/common/errors"
	"threat-enricher/internal/common/logging"
	"threat-enricher/internal/models"
	"threat-enricher/internal/secrets"
)

// ReputationConfig holds the reputation API settings. KeyURI is resolved
// through the secrets resolver at construction time; when the secret is
// absent the constructor returns the unavailable stand-in instead of a
// working source.
type ReputationConfig struct {
	Endpoint string
	KeyURI   string
	Timeout  time.Duration
}

// ReputationSource wraps the rate-limited reputation REST API. The caller
// is responsible for consulting the rate limiter before each lookup; the
// source itself only performs the HTTP call.
type ReputationSource struct {
	config ReputationConfig
	apiKey string
	client *http.Client
	logger logging.Logger
}

type reputationResponse struct {
	Data struct {
		IPAddress      string   `json:"ip_address"`
		Score          int      `json:"score"`
		TotalReports   int      `json:"total_reports"`
		Categories     []string `json:"categories"`
		UsageType      string   `json:"usage_type"`
		ISP            string   `json:"isp"`
		LastReportedAt string   `json:"last_reported_at"`
	} `json:"data"`
}

// NewReputationSource builds the reputation source, or the unavailable
// stand-in when the endpoint is unset or the credential cannot be resolved.
func NewReputationSource(cfg ReputationConfig, resolver secrets.Resolver, logger logging.Logger) (Source, error) {
	if logger == nil {
		logger = logging.Global()
	}

	if cfg.Endpoint == "" {
		return NewUnavailable(SourceReputation), nil
	}

	apiKey, found, err := resolver.Resolve(cfg.KeyURI)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Warn("reputation credential absent, source disabled",
			logging.Field{Key: "key_uri", Value: cfg.KeyURI})
		return NewUnavailable(SourceReputation), nil
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &ReputationSource{
		config: cfg,
		apiKey: apiKey,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.WithFields(logging.Field{Key: "source", Value: SourceReputation}),
	}, nil
}

func (s *ReputationSource) Name() string { return SourceReputation }

func (s *ReputationSource) Available() bool { return true }

func (s *ReputationSource) Lookup(ctx context.Context, ip string) (*models.SourceResult, error) {
	endpoint := fmt.Sprintf("%s/v2/check?ip=%s", s.config.Endpoint, url.QueryEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.InternalError("failed to build reputation request", err)
	}
	req.Header.Set("X-Api-Key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.UnavailableError(SourceReputation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.RateLimitError(SourceReputation)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.UnavailableError(SourceReputation,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var decoded reputationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.UnavailableError(SourceReputation, err)
	}

	return &models.SourceResult{
		Source: SourceReputation,
		Data: map[string]interface{}{
			"score":            decoded.Data.Score,
			"total_reports":    decoded.Data.TotalReports,
			"categories":       decoded.Data.Categories,
			"usage_type":       decoded.Data.UsageType,
			"isp":              decoded.Data.ISP,
			"last_reported_at": decoded.Data.LastReportedAt,
		},
	}, nil
}

var _ Source = (*ReputationSource)(nil)
