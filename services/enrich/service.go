package enrich

import (
	"context"
	"net"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

// PrivateNetworkLabel is the fixed classification applied to private and
// reserved ranges without any external call.
const PrivateNetworkLabel = "Private Network"

const defaultLookupInterval = 1500 * time.Millisecond

type enrichmentService struct {
	postgres *repository.Repositories
	provider interfaces.GeolocationProvider
	limiter  *minIntervalLimiter
	log      logger.Logger
}

// NewEnrichmentService builds the enrichment worker. lookupInterval spaces
// external calls globally; a nil clock uses real time.
func NewEnrichmentService(
	postgres *repository.Repositories,
	provider interfaces.GeolocationProvider,
	lookupInterval time.Duration,
	clock Clock,
	log logger.Logger,
) interfaces.EnrichmentService {
	if lookupInterval <= 0 {
		lookupInterval = defaultLookupInterval
	}
	return &enrichmentService{
		postgres: postgres,
		provider: provider,
		limiter:  newMinIntervalLimiter(lookupInterval, clock),
		log:      log,
	}
}

// EnrichSource resolves a source's geolocation cheapest-first: already
// enriched, private range, cross-domain cache, and only then the external
// API behind the global limiter. Most replayed jobs terminate in the first
// three steps without ever touching the limiter.
func (s *enrichmentService) EnrichSource(ctx context.Context, sourceID, ipAddress string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EnrichmentService.EnrichSource")
	defer span.Finish()
	tracing.SetDefaultWorkerSpanTags(ctx, span)
	span.SetTag("source.id", sourceID)
	span.SetTag("ip", ipAddress)

	source, err := s.postgres.SourceRepository.GetByID(ctx, sourceID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if source == nil {
		// deleted by retention between enqueue and execution
		span.SetTag("skipped", "source gone")
		return nil
	}
	if source.Enriched() {
		span.SetTag("skipped", "already enriched")
		return nil
	}

	if ipAddress == "" {
		ipAddress = source.SourceIP
	}

	if isPrivateOrReserved(ipAddress) {
		span.SetTag("resolution", "private")
		return s.apply(ctx, sourceID, interfaces.Geolocation{Country: PrivateNetworkLabel})
	}

	cached, err := s.postgres.SourceRepository.FindGeolocatedByIP(ctx, ipAddress)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if cached != nil && cached.ID != sourceID {
		span.SetTag("resolution", "cache")
		return s.apply(ctx, sourceID, interfaces.Geolocation{
			Country: cached.GeoCountry,
			Region:  cached.GeoRegion,
			City:    cached.GeoCity,
			ASN:     cached.GeoASN,
			Org:     cached.GeoOrg,
		})
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	geo, err := s.provider.Lookup(ctx, ipAddress)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("resolution", "external")
	return s.apply(ctx, sourceID, *geo)
}

func (s *enrichmentService) apply(ctx context.Context, sourceID string, geo interfaces.Geolocation) error {
	if err := s.postgres.SourceRepository.UpdateGeolocation(ctx, sourceID, geo); err != nil {
		return errors.Wrap(err, "store geolocation")
	}
	return nil
}

// isPrivateOrReserved covers RFC1918, loopback, link-local, and unparseable
// addresses (which must never reach the external API).
func isPrivateOrReserved(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() || parsed.IsUnspecified()
}
