package interfaces

import "context"

// GeolocationProvider resolves one IP address. Implementations return
// *errors.RateLimitedError on provider 429s so the job layer can back off.
type GeolocationProvider interface {
	Lookup(ctx context.Context, ip string) (*Geolocation, error)
}
