// Package geolocation scores the client IP: proxies, datacenter ranges and
// countries outside the service area add risk.
package geolocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"aegis/internal/risk"
	strutil "aegis/pkg/platform/strings"
	"aegis/internal/signals"
)

const (
	ipPlaceholder  = "{ip}"
	maxLookupBytes = 64 << 10
)

var errNonRoutable = errors.New("client address is not publicly routable")

// Lookup is the subset of an ip-api.com style response the producer reads.
type Lookup struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	CountryCode string `json:"countryCode"`
	Proxy       bool   `json:"proxy"`
	Hosting     bool   `json:"hosting"`
	Mobile      bool   `json:"mobile"`
}

type Producer struct {
	client   *http.Client
	endpoint string
	allowed  []string
}

type Option func(*Producer)

// WithHTTPClient replaces the traced default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Producer) { p.client = c }
}

// WithAllowedCountries limits the service area to ISO 3166 alpha-2 codes.
// An empty list allows every country.
func WithAllowedCountries(codes []string) Option {
	return func(p *Producer) {
		p.allowed = strutil.DedupeAndTrimUpper(codes)
	}
}

// NewProducer builds a producer against endpoint, a URL containing {ip}.
func NewProducer(endpoint string, opts ...Option) (*Producer, error) {
	if !strings.Contains(endpoint, ipPlaceholder) {
		return nil, fmt.Errorf("geolocation endpoint must contain %s", ipPlaceholder)
	}
	if _, err := url.Parse(strings.ReplaceAll(endpoint, ipPlaceholder, "192.0.2.1")); err != nil {
		return nil, fmt.Errorf("geolocation endpoint: %w", err)
	}
	p := &Producer{
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		endpoint: endpoint,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (*Producer) Source() risk.Source { return risk.SourceGeolocation }

func (p *Producer) Produce(ctx context.Context, sc signals.SubjectContext) (risk.Signal, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(sc.ClientIP))
	if err != nil {
		return risk.Signal{}, fmt.Errorf("parse client ip: %w", err)
	}
	if !addr.IsGlobalUnicast() || addr.IsPrivate() {
		return risk.Signal{}, errNonRoutable
	}

	lookup, err := p.lookup(ctx, addr)
	if err != nil {
		return risk.Signal{}, err
	}
	return Score(lookup, p.allowed), nil
}

// Score turns a lookup into a signal.
func Score(l Lookup, allowed []string) risk.Signal {
	sig := risk.Signal{
		Source:     risk.SourceGeolocation,
		Score:      5,
		Confidence: 0.9,
		Evidence:   map[string]string{"country": l.CountryCode},
	}
	var flags []string
	if l.Proxy {
		sig.Score += 30
		flags = append(flags, "proxy")
	}
	if l.Hosting {
		sig.Score += 25
		flags = append(flags, "hosting")
	}
	if len(allowed) > 0 && !slices.Contains(allowed, strings.ToUpper(l.CountryCode)) {
		sig.Score += 40
		flags = append(flags, "country_outside_service_area")
	}
	if l.CountryCode == "" {
		sig.Confidence = 0.5
	}
	sig.Score = min(sig.Score, 100)
	if len(flags) > 0 {
		sig.Evidence["flags"] = strings.Join(flags, ",")
	}
	return sig
}

func (p *Producer) lookup(ctx context.Context, addr netip.Addr) (Lookup, error) {
	target := strings.ReplaceAll(p.endpoint, ipPlaceholder, url.PathEscape(addr.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Lookup{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return Lookup{}, fmt.Errorf("ip lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Lookup{}, fmt.Errorf("ip lookup: unexpected status %d", resp.StatusCode)
	}
	var l Lookup
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxLookupBytes)).Decode(&l); err != nil {
		return Lookup{}, fmt.Errorf("decode ip lookup: %w", err)
	}
	if l.Status != "" && l.Status != "success" {
		return Lookup{}, fmt.Errorf("ip lookup failed: %s", l.Message)
	}
	return l, nil
}
