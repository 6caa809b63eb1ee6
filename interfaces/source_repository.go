package interfaces

import (
	"context"
	"time"

	"github.com/dmarcwatch/dmarcwatch/internal/models"
)

// Geolocation holds the resolved fields applied to a source.
type Geolocation struct {
	Country string
	Region  string
	City    string
	ASN     string
	Org     string
}

type SourceRepository interface {
	GetByID(ctx context.Context, id string) (*models.Source, error)

	// FindGeolocatedByIP returns any source row for the IP that already has
	// geolocation data, regardless of domain. Returns nil, nil when none.
	FindGeolocatedByIP(ctx context.Context, ip string) (*models.Source, error)

	UpdateGeolocation(ctx context.Context, id string, geo Geolocation) error
	SetKnownSender(ctx context.Context, id string, knownSenderID string) error

	// ListNewSources lists sources of the domain first seen within the window
	// with at least minMessages volume and no known-sender match.
	ListNewSources(ctx context.Context, domainID string, begin, end time.Time, minMessages int64) ([]models.Source, error)
}
