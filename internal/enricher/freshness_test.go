package enricher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"threat-enricher/internal/models"
	"threat-enricher/internal/sources"
)

func testPolicy() Policy {
	return Policy{
		MandatorySource: sources.SourceGeoIP,
		MaxDatabaseAge:  7 * 24 * time.Hour,
		TTLs: map[string]time.Duration{
			sources.SourceOrigin:     90 * 24 * time.Hour,
			sources.SourceReputation: 7 * 24 * time.Hour,
		},
	}
}

func TestPolicyMandatorySourceAbsent(t *testing.T) {
	policy := testPolicy()
	now := time.Now()
	build := now.Add(-24 * time.Hour)

	t.Run("empty payload is stale", func(t *testing.T) {
		fresh, reason := policy.Evaluate(models.Payload{}, build, now)
		assert.False(t, fresh)
		assert.Contains(t, reason, "geoip")
	})

	t.Run("nil payload is stale", func(t *testing.T) {
		fresh, _ := policy.Evaluate(nil, build, now)
		assert.False(t, fresh)
	})

	t.Run("fresh optional entry does not mask missing mandatory", func(t *testing.T) {
		payload := models.Payload{
			sources.SourceReputation: {Data: map[string]interface{}{"score": 0}, UpdatedAt: now},
		}
		fresh, reason := policy.Evaluate(payload, build, now)
		assert.False(t, fresh)
		assert.Contains(t, reason, "geoip")
	})
}

func TestPolicyDatabaseAge(t *testing.T) {
	policy := testPolicy()
	now := time.Now()

	t.Run("entry predating database build is stale", func(t *testing.T) {
		build := now.Add(-time.Hour)
		payload := models.Payload{
			sources.SourceGeoIP: {UpdatedAt: now.Add(-2 * time.Hour)},
		}
		fresh, reason := policy.Evaluate(payload, build, now)
		assert.False(t, fresh)
		assert.Contains(t, reason, "database build")
	})

	t.Run("entry older than max age is stale", func(t *testing.T) {
		build := now.Add(-30 * 24 * time.Hour)
		payload := models.Payload{
			sources.SourceGeoIP: {UpdatedAt: now.Add(-8 * 24 * time.Hour)},
		}
		fresh, _ := policy.Evaluate(payload, build, now)
		assert.False(t, fresh)
	})

	t.Run("entry newer than build and within max age is fresh", func(t *testing.T) {
		build := now.Add(-48 * time.Hour)
		payload := models.Payload{
			sources.SourceGeoIP: {UpdatedAt: now.Add(-24 * time.Hour)},
		}
		fresh, reason := policy.Evaluate(payload, build, now)
		assert.True(t, fresh, reason)
	})

	t.Run("zero build time disables the build check", func(t *testing.T) {
		payload := models.Payload{
			sources.SourceGeoIP: {UpdatedAt: now.Add(-time.Hour)},
		}
		fresh, _ := policy.Evaluate(payload, time.Time{}, now)
		assert.True(t, fresh)
	})
}

func TestPolicyOptionalSourceTTLs(t *testing.T) {
	policy := testPolicy()
	now := time.Now()
	build := now.Add(-48 * time.Hour)
	freshGeoIP := models.SourceEntry{UpdatedAt: now.Add(-time.Hour)}

	t.Run("expired origin entry forces refresh", func(t *testing.T) {
		payload := models.Payload{
			sources.SourceGeoIP:  freshGeoIP,
			sources.SourceOrigin: {UpdatedAt: now.Add(-91 * 24 * time.Hour)},
		}
		fresh, reason := policy.Evaluate(payload, build, now)
		assert.False(t, fresh)
		assert.Contains(t, reason, "origin")
	})

	t.Run("expired reputation entry forces refresh", func(t *testing.T) {
		payload := models.Payload{
			sources.SourceGeoIP:      freshGeoIP,
			sources.SourceReputation: {UpdatedAt: now.Add(-8 * 24 * time.Hour)},
		}
		fresh, _ := policy.Evaluate(payload, build, now)
		assert.False(t, fresh)
	})

	t.Run("absent optional sources do not force refresh", func(t *testing.T) {
		payload := models.Payload{
			sources.SourceGeoIP: freshGeoIP,
		}
		fresh, _ := policy.Evaluate(payload, build, now)
		assert.True(t, fresh)
	})

	t.Run("all entries within ttl is fresh", func(t *testing.T) {
		payload := models.Payload{
			sources.SourceGeoIP:      freshGeoIP,
			sources.SourceOrigin:     {UpdatedAt: now.Add(-30 * 24 * time.Hour)},
			sources.SourceReputation: {UpdatedAt: now.Add(-24 * time.Hour)},
		}
		fresh, _ := policy.Evaluate(payload, build, now)
		assert.True(t, fresh)
	})
}

func TestPolicyConfigurableMandatorySource(t *testing.T) {
	policy := Policy{
		MandatorySource: sources.SourceOrigin,
		TTLs: map[string]time.Duration{
			sources.SourceGeoIP: 7 * 24 * time.Hour,
		},
	}
	now := time.Now()

	payload := models.Payload{
		sources.SourceGeoIP: {UpdatedAt: now},
	}
	fresh, reason := policy.Evaluate(payload, time.Time{}, now)
	assert.False(t, fresh)
	assert.Contains(t, reason, "origin")

	payload[sources.SourceOrigin] = models.SourceEntry{UpdatedAt: now}
	fresh, _ = policy.Evaluate(payload, time.Time{}, now)
	assert.True(t, fresh)
}
