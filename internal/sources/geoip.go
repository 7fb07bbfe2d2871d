package sources

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"

	"threat-enricher/internal/common/errors"
	"threat-enricher/internal/common/logging"
	"threat-enricher/internal/models"
)

// GeoIPConfig holds the offline source's database paths.
type GeoIPConfig struct {
	CityDBPath string
	ASNDBPath  string
}

// GeoIPSource is the offline attribute source over MaxMind City and ASN
// databases. Lookups never touch the network; staleness comes from the age
// of the database build, exposed through BuildTime.
type GeoIPSource struct {
	cityDB *geoip2.Reader
	asnDB  *geoip2.Reader
	logger logging.Logger
}

// NewGeoIPSource opens the configured databases. The ASN database is
// required since group attribution depends on it; the City database is
// optional and only enriches the location fields.
func NewGeoIPSource(cfg GeoIPConfig, logger logging.Logger) (*GeoIPSource, error) {
	if logger == nil {
		logger = logging.Global()
	}

	if cfg.ASNDBPath == "" {
		return nil, errors.ConfigError("geoip ASN database path is required")
	}

	asnDB, err := geoip2.Open(cfg.ASNDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ASN database: %w", err)
	}

	source := &GeoIPSource{
		asnDB:  asnDB,
		logger: logger.WithFields(logging.Field{Key: "source", Value: SourceGeoIP}),
	}

	if cfg.CityDBPath != "" {
		cityDB, err := geoip2.Open(cfg.CityDBPath)
		if err != nil {
			asnDB.Close()
			return nil, fmt.Errorf("failed to open city database: %w", err)
		}
		source.cityDB = cityDB
	}

	return source, nil
}

// Close closes the database readers.
func (s *GeoIPSource) Close() error {
	var firstErr error
	if s.cityDB != nil {
		if err := s.cityDB.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.asnDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *GeoIPSource) Name() string { return SourceGeoIP }

func (s *GeoIPSource) Available() bool { return true }

// BuildTime reports the newest build epoch across the open databases.
func (s *GeoIPSource) BuildTime() time.Time {
	build := time.Unix(int64(s.asnDB.Metadata().BuildEpoch), 0)
	if s.cityDB != nil {
		cityBuild := time.Unix(int64(s.cityDB.Metadata().BuildEpoch), 0)
		if cityBuild.After(build) {
			build = cityBuild
		}
	}
	return build
}

// Lookup resolves location and autonomous-system data for the IP. Private
// and reserved addresses yield a minimal result with no group attribution.
func (s *GeoIPSource) Lookup(ctx context.Context, ipStr string) (*models.SourceResult, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid IP address: %s", ipStr))
	}

	result := &models.SourceResult{
		Source: SourceGeoIP,
		Data:   make(map[string]interface{}),
	}

	if isPrivateIP(ip) {
		result.Data["reserved"] = true
		return result, nil
	}

	asn, err := s.asnDB.ASN(ip)
	if err != nil {
		return nil, errors.UnavailableError(SourceGeoIP, err)
	}
	if asn.AutonomousSystemNumber != 0 {
		result.Data["asn"] = asn.AutonomousSystemNumber
		result.Data["as_org"] = asn.AutonomousSystemOrganization
		result.Group = &models.GroupAttribution{
			ASN:          int64(asn.AutonomousSystemNumber),
			Organization: asn.AutonomousSystemOrganization,
		}
	}

	if s.cityDB != nil {
		city, err := s.cityDB.City(ip)
		if err != nil {
			// The ASN half already succeeded; location stays absent.
			s.logger.Warn("city lookup failed", logging.Field{Key: "ip", Value: ipStr}, logging.Err(err))
		} else {
			result.Data["country"] = city.Country.Names["en"]
			result.Data["country_code"] = city.Country.IsoCode
			result.Data["city"] = city.City.Names["en"]
			result.Data["latitude"] = city.Location.Latitude
			result.Data["longitude"] = city.Location.Longitude
			result.Data["timezone"] = city.Location.TimeZone
			if result.Group != nil {
				result.Group.Country = city.Country.IsoCode
			}
		}
	}

	return result, nil
}

// isPrivateIP reports whether the address is private, loopback or otherwise
// outside the databases' coverage.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return true
	}
	return false
}

var _ OfflineSource = (*GeoIPSource)(nil)
