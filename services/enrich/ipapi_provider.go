package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	cerrors "github.com/dmarcwatch/dmarcwatch/internal/errors"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

const (
	defaultGeoAPIBaseURL = "http://ip-api.com/json"
	geoAPITimeout        = 10 * time.Second
)

// ipAPIProvider resolves geolocation via an ip-api.com style JSON endpoint.
type ipAPIProvider struct {
	baseURL string
	client  *http.Client
}

func NewIPAPIProvider(baseURL string) interfaces.GeolocationProvider {
	if baseURL == "" {
		baseURL = defaultGeoAPIBaseURL
	}
	return &ipAPIProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: geoAPITimeout},
	}
}

type ipAPIResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
	AS         string `json:"as"`
	Org        string `json:"org"`
}

func (p *ipAPIProvider) Lookup(ctx context.Context, ip string) (*interfaces.Geolocation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ipAPIProvider.Lookup")
	defer span.Finish()
	span.SetTag("ip", ip)

	url := fmt.Sprintf("%s/%s?fields=status,message,country,regionName,city,as,org", p.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "build geolocation request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "call geolocation api")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		err = &cerrors.RateLimitedError{Provider: "geolocation"}
		tracing.TraceErr(span, err)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err = errors.Errorf("geolocation api returned status %d", resp.StatusCode)
		tracing.TraceErr(span, err)
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "read geolocation response")
	}

	var parsed ipAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "decode geolocation response")
	}
	if parsed.Status != "success" {
		err = errors.Errorf("geolocation lookup failed for %s: %s", ip, parsed.Message)
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &interfaces.Geolocation{
		Country: parsed.Country,
		Region:  parsed.RegionName,
		City:    parsed.City,
		ASN:     parsed.AS,
		Org:     parsed.Org,
	}, nil
}
