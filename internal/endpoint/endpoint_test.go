package endpoint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamai/hface/internal/endpoint"
)

func TestParseDefaultsToHTTPS(t *testing.T) {
	ep, err := endpoint.Parse("127.0.0.1:8443")
	require.NoError(t, err)
	assert.Equal(t, "https", ep.Scheme)
	assert.Equal(t, "127.0.0.1", ep.Host)
	assert.Equal(t, 8443, ep.Port)
}

func TestParseExplicitScheme(t *testing.T) {
	ep, err := endpoint.Parse("http://example.com:8080")
	require.NoError(t, err)
	assert.Equal(t, "http", ep.Scheme)
	assert.Equal(t, "example.com", ep.Host)
	assert.Equal(t, 8080, ep.Port)
}

func TestParseWildcardHost(t *testing.T) {
	ep, err := endpoint.Parse("https://[::]:443")
	require.NoError(t, err)
	assert.Equal(t, "[::]", ep.Host)
	assert.Equal(t, ":443", ep.Addr())
}

func TestParseRejectsUnknownScheme(t *testing.T) {
	_, err := endpoint.Parse("ftp://example.com:21")
	assert.Error(t, err)
}

func TestParseRejectsMissingPort(t *testing.T) {
	_, err := endpoint.Parse("http://example.com")
	assert.Error(t, err)
}

func TestStringRoundTrips(t *testing.T) {
	ep, err := endpoint.Parse("http://example.com:80")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:80", ep.String())
}
