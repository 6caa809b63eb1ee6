package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
)

type fakeSourceRepo struct {
	interfaces.SourceRepository

	byID    map[string]*models.Source
	geoByIP map[string]*models.Source
	updates map[string]interfaces.Geolocation
}

func (f *fakeSourceRepo) GetByID(ctx context.Context, id string) (*models.Source, error) {
	return f.byID[id], nil
}

func (f *fakeSourceRepo) FindGeolocatedByIP(ctx context.Context, ip string) (*models.Source, error) {
	return f.geoByIP[ip], nil
}

func (f *fakeSourceRepo) UpdateGeolocation(ctx context.Context, id string, geo interfaces.Geolocation) error {
	if f.updates == nil {
		f.updates = map[string]interfaces.Geolocation{}
	}
	f.updates[id] = geo
	return nil
}

type fakeProvider struct {
	lookups int
	geo     interfaces.Geolocation
	err     error
}

func (f *fakeProvider) Lookup(ctx context.Context, ip string) (*interfaces.Geolocation, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	geo := f.geo
	return &geo, nil
}

// fakeClock advances instantly instead of sleeping and records requested
// sleep durations.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func newEnrichFixture(sources *fakeSourceRepo, provider *fakeProvider, clock Clock) interfaces.EnrichmentService {
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()
	repos := &repository.Repositories{SourceRepository: sources}
	return NewEnrichmentService(repos, provider, time.Second, clock, log)
}

func TestEnrichSource_AlreadyEnrichedIsNoop(t *testing.T) {
	sources := &fakeSourceRepo{byID: map[string]*models.Source{
		"src_1": {ID: "src_1", SourceIP: "8.8.8.8", GeoCountry: "United States"},
	}}
	provider := &fakeProvider{}
	svc := newEnrichFixture(sources, provider, &fakeClock{now: time.Unix(0, 0)})

	err := svc.EnrichSource(context.Background(), "src_1", "8.8.8.8")
	require.NoError(t, err)
	assert.Zero(t, provider.lookups)
	assert.Empty(t, sources.updates)
}

func TestEnrichSource_MissingSourceIsNoop(t *testing.T) {
	sources := &fakeSourceRepo{byID: map[string]*models.Source{}}
	provider := &fakeProvider{}
	svc := newEnrichFixture(sources, provider, &fakeClock{now: time.Unix(0, 0)})

	err := svc.EnrichSource(context.Background(), "src_gone", "8.8.8.8")
	require.NoError(t, err)
	assert.Zero(t, provider.lookups)
}

func TestEnrichSource_PrivateRangeSkipsProvider(t *testing.T) {
	tests := []string{"10.1.2.3", "192.168.0.5", "172.16.9.1", "127.0.0.1", "169.254.1.1", "not-an-ip", ""}

	for _, ip := range tests {
		sources := &fakeSourceRepo{byID: map[string]*models.Source{
			"src_1": {ID: "src_1", SourceIP: ip},
		}}
		provider := &fakeProvider{}
		svc := newEnrichFixture(sources, provider, &fakeClock{now: time.Unix(0, 0)})

		err := svc.EnrichSource(context.Background(), "src_1", ip)
		require.NoError(t, err, ip)
		assert.Zero(t, provider.lookups, ip)
		assert.Equal(t, PrivateNetworkLabel, sources.updates["src_1"].Country, ip)
	}
}

func TestEnrichSource_CacheHitSkipsProvider(t *testing.T) {
	sources := &fakeSourceRepo{
		byID: map[string]*models.Source{
			"src_new": {ID: "src_new", SourceIP: "209.85.220.41"},
		},
		geoByIP: map[string]*models.Source{
			"209.85.220.41": {
				ID:         "src_old",
				SourceIP:   "209.85.220.41",
				GeoCountry: "United States",
				GeoRegion:  "California",
				GeoCity:    "Mountain View",
				GeoASN:     "AS15169",
				GeoOrg:     "Google LLC",
			},
		},
	}
	provider := &fakeProvider{}
	svc := newEnrichFixture(sources, provider, &fakeClock{now: time.Unix(0, 0)})

	err := svc.EnrichSource(context.Background(), "src_new", "209.85.220.41")
	require.NoError(t, err)
	assert.Zero(t, provider.lookups)

	geo := sources.updates["src_new"]
	assert.Equal(t, "United States", geo.Country)
	assert.Equal(t, "AS15169", geo.ASN)
}

func TestEnrichSource_ExternalLookup(t *testing.T) {
	sources := &fakeSourceRepo{byID: map[string]*models.Source{
		"src_1": {ID: "src_1", SourceIP: "203.0.113.20"},
	}}
	provider := &fakeProvider{geo: interfaces.Geolocation{Country: "Germany", City: "Berlin"}}
	svc := newEnrichFixture(sources, provider, &fakeClock{now: time.Unix(0, 0)})

	err := svc.EnrichSource(context.Background(), "src_1", "203.0.113.20")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.lookups)
	assert.Equal(t, "Germany", sources.updates["src_1"].Country)
}

func TestMinIntervalLimiter_SpacesCalls(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	limiter := newMinIntervalLimiter(time.Second, clock)
	ctx := context.Background()

	// first call goes through immediately
	require.NoError(t, limiter.Wait(ctx))
	assert.Empty(t, clock.sleeps)

	// immediate second call waits out the full interval
	require.NoError(t, limiter.Wait(ctx))
	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, time.Second, clock.sleeps[0])

	// a call after the interval has already elapsed does not sleep
	clock.now = clock.now.Add(2 * time.Second)
	require.NoError(t, limiter.Wait(ctx))
	assert.Len(t, clock.sleeps, 1)
}

func TestMinIntervalLimiter_PartialElapsed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	limiter := newMinIntervalLimiter(time.Second, clock)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))
	clock.now = clock.now.Add(300 * time.Millisecond)
	require.NoError(t, limiter.Wait(ctx))

	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 700*time.Millisecond, clock.sleeps[0])
}
