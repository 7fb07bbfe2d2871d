package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threat-enricher/internal/common/errors"
)

func newOriginServer(t *testing.T, records []originRecord) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/origins", r.URL.Path)

		var req originRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var matched []originRecord
		for _, record := range records {
			for _, addr := range req.Addresses {
				if record.Address == addr {
					matched = append(matched, record)
				}
			}
		}
		json.NewEncoder(w).Encode(originResponse{Origins: matched})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOriginSourceRequiresEndpoint(t *testing.T) {
	_, err := NewOriginSource(OriginConfig{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestOriginLookupBatch(t *testing.T) {
	server := newOriginServer(t, []originRecord{
		{Address: "1.1.1.1", ASN: 13335, ASName: "Cloudflare", Prefix: "1.1.1.0/24", Country: "US", Registry: "arin"},
		{Address: "9.9.9.9", ASN: 19281, ASName: "Quad9", Country: "US", Registry: "arin"},
		{Address: "10.255.0.1", ASN: 0}, // unrouted
	})

	source, err := NewOriginSource(OriginConfig{Endpoint: server.URL, BatchSize: 10}, nil)
	require.NoError(t, err)

	results, err := source.LookupBatch(context.Background(), []string{"1.1.1.1", "9.9.9.9", "10.255.0.1"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	res := results["1.1.1.1"]
	require.NotNil(t, res)
	assert.Equal(t, SourceOrigin, res.Source)
	require.NotNil(t, res.Group)
	assert.Equal(t, int64(13335), res.Group.ASN)
	assert.Equal(t, "Cloudflare", res.Group.Organization)
	assert.Equal(t, "arin", res.Group.Registry)

	// ASN 0 records carry no owner and are dropped.
	assert.NotContains(t, results, "10.255.0.1")
}

func TestOriginLookupBatchSizeValidation(t *testing.T) {
	server := newOriginServer(t, nil)
	source, err := NewOriginSource(OriginConfig{Endpoint: server.URL, BatchSize: 2}, nil)
	require.NoError(t, err)

	_, err = source.LookupBatch(context.Background(), []string{"a", "b", "c"})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	results, err := source.LookupBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOriginLookupSingle(t *testing.T) {
	server := newOriginServer(t, []originRecord{
		{Address: "1.1.1.1", ASN: 13335, ASName: "Cloudflare"},
	})
	source, err := NewOriginSource(OriginConfig{Endpoint: server.URL}, nil)
	require.NoError(t, err)

	res, err := source.Lookup(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, int64(13335), res.Group.ASN)

	_, err = source.Lookup(context.Background(), "2.2.2.2")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestOriginUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	source, err := NewOriginSource(OriginConfig{Endpoint: server.URL}, nil)
	require.NoError(t, err)

	_, err = source.LookupBatch(context.Background(), []string{"1.1.1.1"})
	assert.True(t, errors.IsType(err, errors.ErrTypeUnavailable))
}
