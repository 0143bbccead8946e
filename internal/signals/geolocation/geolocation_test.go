package geolocation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/risk"
	"aegis/internal/signals"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		lookup  Lookup
		allowed []string
		score   float64
		flags   string
	}{
		{name: "clean residential", lookup: Lookup{CountryCode: "IN"}, allowed: []string{"in"}, score: 5},
		{name: "proxy", lookup: Lookup{CountryCode: "IN", Proxy: true}, score: 35, flags: "proxy"},
		{name: "datacenter behind proxy", lookup: Lookup{CountryCode: "IN", Proxy: true, Hosting: true}, score: 60, flags: "proxy,hosting"},
		{
			name:    "outside service area",
			lookup:  Lookup{CountryCode: "US", Proxy: true, Hosting: true},
			allowed: []string{"IN"},
			score:   100,
			flags:   "proxy,hosting,country_outside_service_area",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProducer("http://geo.invalid/json/{ip}", WithAllowedCountries(tt.allowed))
			require.NoError(t, err)
			sig := Score(tt.lookup, p.allowed)
			assert.Equal(t, risk.SourceGeolocation, sig.Source)
			assert.InDelta(t, tt.score, sig.Score, 1e-9)
			assert.Equal(t, tt.flags, sig.Evidence["flags"])
		})
	}
}

func TestProduce(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","countryCode":"IN","proxy":true,"hosting":false}`))
	}))
	defer srv.Close()

	p, err := NewProducer(srv.URL+"/json/{ip}", WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	sig, err := p.Produce(context.Background(), signals.SubjectContext{ClientIP: "203.0.113.7"})
	require.NoError(t, err)
	assert.Equal(t, "/json/203.0.113.7", requested)
	assert.InDelta(t, 35, sig.Score, 1e-9)
	assert.Equal(t, "IN", sig.Evidence["country"])
}

func TestProduceFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	}))
	defer srv.Close()

	p, err := NewProducer(srv.URL+"/{ip}", WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	for _, ip := range []string{"", "not-an-ip", "10.1.2.3", "127.0.0.1"} {
		_, err := p.Produce(context.Background(), signals.SubjectContext{ClientIP: ip})
		assert.Error(t, err, ip)
	}

	_, err = p.Produce(context.Background(), signals.SubjectContext{ClientIP: "198.51.100.9"})
	assert.ErrorContains(t, err, "reserved range")

	_, err = NewProducer("http://geo.invalid/json")
	assert.Error(t, err)
}
