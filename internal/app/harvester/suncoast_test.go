package harvester

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

const suncoastRatesFixture = `{
	"effectiveDate": "2026-08-18",
	"rates": [
		{"type": "VARIABLE", "annualRate": 5.74, "comparisonRate": 5.81, "maxLvr": 0.8},
		{"type": "FIXED", "termMonths": 24, "annualRate": 5.49, "comparisonRate": 5.63, "maxLvr": 0.8},
		{"type": "BRIDGING", "annualRate": 7.99},
		{"type": "FIXED", "termMonths": 36, "annualRate": -1}
	]
}`

func newTestSuncoast(baseURL string, fetcher *Fetcher) *SuncoastSource {
	return NewSuncoastSource(baseURL, fetcher, zap.NewNop())
}

func TestSuncoastParse(t *testing.T) {
	tiers, err := newTestSuncoast("https://example.test", nil).Parse([]byte(suncoastRatesFixture))
	require.NoError(t, err)
	require.Len(t, tiers, 2, "unknown type and implausible rate are dropped")

	assert.Equal(t, model.RateTypeVariable, tiers[0].RateType)
	assert.True(t, tiers[0].AnnualRate.Equal(dec("5.74")))
	require.NotNil(t, tiers[0].ComparisonRate)
	assert.True(t, tiers[0].ComparisonRate.Equal(dec("5.81")))

	assert.Equal(t, model.RateTypeFixed, tiers[1].RateType)
	require.NotNil(t, tiers[1].FixedTermMonths)
	assert.Equal(t, 24, *tiers[1].FixedTermMonths)

	require.NotNil(t, tiers[0].SourceChangedOn)
	assert.Equal(t, civil.Date{Year: 2026, Month: 8, Day: 18}, *tiers[0].SourceChangedOn)
}

func TestSuncoastParseEmptyRatesListMeansZeroTiers(t *testing.T) {
	// an empty rates array is a valid statement, not a parse failure
	tiers, err := newTestSuncoast("https://example.test", nil).Parse([]byte(`{"rates": []}`))
	require.NoError(t, err)
	assert.Empty(t, tiers)
	assert.NotNil(t, tiers)

	// a document without the rates field at all is malformed, not empty
	_, err = newTestSuncoast("https://example.test", nil).Parse([]byte(`{"error": "internal"}`))
	require.Error(t, err)
}

func TestSuncoastParseFailsWhenNothingSurvives(t *testing.T) {
	_, err := newTestSuncoast("https://example.test", nil).Parse([]byte(`{"rates":[{"type":"BRIDGING","annualRate":7.99}]}`))
	require.Error(t, err)
}

func TestSuncoastParseRejectsGarbage(t *testing.T) {
	_, err := newTestSuncoast("https://example.test", nil).Parse([]byte(`<html>error page</html>`))
	require.Error(t, err)
}

func TestSuncoastListAndFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/home-loans", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"products":[
			{"id": "sc-basic", "name": "Basic Variable", "channel": "retail", "purpose": "any",
			 "ownerTypes": ["owner_occupier"], "repaymentTypes": ["principal_and_interest"]},
			{"name": "no id, dropped"}
		]}`)) //nolint:errcheck
	})
	mux.HandleFunc("/v1/home-loans/sc-basic/rates", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(suncoastRatesFixture)) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := NewFetcher(FetcherConfig{
		Timeout: time.Second, Retries: 2, Backoff: time.Millisecond, RatePerSec: 1000, Burst: 10,
	}, zap.NewNop())
	src := newTestSuncoast(srv.URL, fetcher)

	listing, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listing, 1)
	assert.Equal(t, "sc-basic", listing[0].ExternalID)
	assert.Equal(t, "Basic Variable", listing[0].Attrs.Name)
	assert.Equal(t, []model.OwnerType{model.OwnerOccupier}, listing[0].Attrs.OwnerTypes)

	raw, err := src.FetchRaw(context.Background(), "sc-basic")
	require.NoError(t, err)

	tiers, err := src.Parse(raw)
	require.NoError(t, err)
	assert.Len(t, tiers, 2)
}

func TestSuncoastFetchErrorCarriesContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetcher := NewFetcher(FetcherConfig{
		Timeout: time.Second, Retries: 2, Backoff: time.Millisecond, RatePerSec: 1000, Burst: 10,
	}, zap.NewNop())
	src := newTestSuncoast(srv.URL, fetcher)

	_, err := src.FetchRaw(context.Background(), "sc-basic")
	require.Error(t, err)

	var fetchErr model.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "suncoast", fetchErr.Brand)
	assert.Equal(t, "sc-basic", fetchErr.ExternalID)
	assert.Equal(t, 2, fetchErr.Attempts)
}
