package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/dmarcwatch/dmarcwatch/internal/errors"
)

func TestIPAPIProvider_Lookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/209.85.220.41", r.URL.Path)
		assert.Contains(t, r.URL.RawQuery, "fields=")
		w.Write([]byte(`{"status":"success","country":"United States","regionName":"California","city":"Mountain View","as":"AS15169 Google LLC","org":"Google LLC"}`))
	}))
	defer server.Close()

	provider := NewIPAPIProvider(server.URL)
	geo, err := provider.Lookup(context.Background(), "209.85.220.41")
	require.NoError(t, err)

	assert.Equal(t, "United States", geo.Country)
	assert.Equal(t, "California", geo.Region)
	assert.Equal(t, "Mountain View", geo.City)
	assert.Equal(t, "AS15169 Google LLC", geo.ASN)
	assert.Equal(t, "Google LLC", geo.Org)
}

func TestIPAPIProvider_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewIPAPIProvider(server.URL)
	_, err := provider.Lookup(context.Background(), "1.2.3.4")
	require.Error(t, err)
	assert.True(t, cerrors.IsRateLimited(err))
}

func TestIPAPIProvider_FailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	}))
	defer server.Close()

	provider := NewIPAPIProvider(server.URL)
	_, err := provider.Lookup(context.Background(), "240.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved range")
}

func TestIPAPIProvider_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	provider := NewIPAPIProvider(server.URL)
	_, err := provider.Lookup(context.Background(), "1.2.3.4")
	require.Error(t, err)
	assert.False(t, cerrors.IsRateLimited(err))
}
