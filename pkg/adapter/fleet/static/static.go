// Package static provides a fixed-data fleet provider for development,
// demos, and tests. Every lookup answers instantly from canned fixtures, so
// the full conversation loop can run without a live platform behind it.
package static

import (
	"context"
	"strings"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet"
)

// Compile-time assertion that Provider implements fleet.Provider.
var _ fleet.Provider = (*Provider)(nil)

// ist is the zone all fixture timestamps live in.
var ist = time.FixedZone("IST", 5*3600+30*60)

// Provider answers every fleet lookup from fixtures. It holds no state and
// is safe for concurrent use.
type Provider struct{}

// New returns a new static fleet Provider.
func New() *Provider {
	return &Provider{}
}

// GetSwapHistory returns a single canned swap regardless of driver or range.
func (p *Provider) GetSwapHistory(ctx context.Context, driverID, dateRange string) ([]fleet.SwapRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []fleet.SwapRecord{
		{
			At:        time.Date(2026, time.January, 22, 14, 30, 0, 0, ist),
			Station:   "Station A",
			BatteryID: "B123",
		},
	}, nil
}

// FindNearestStation names a station after the spoken location.
func (p *Provider) FindNearestStation(ctx context.Context, location string) (fleet.Station, error) {
	if err := ctx.Err(); err != nil {
		return fleet.Station{}, err
	}
	loc := normalizeLocation(location)
	return fleet.Station{
		Name:    "Station " + loc,
		Address: "Main Road, " + loc,
	}, nil
}

// FindNearestDSK names a driver service center after the spoken location.
func (p *Provider) FindNearestDSK(ctx context.Context, location string) (fleet.Station, error) {
	if err := ctx.Err(); err != nil {
		return fleet.Station{}, err
	}
	loc := normalizeLocation(location)
	return fleet.Station{
		Name:    "DSK " + loc,
		Address: "Service Lane, " + loc,
	}, nil
}

// CheckAvailability reports a fixed stock level at the location's station.
func (p *Provider) CheckAvailability(ctx context.Context, location string) (fleet.Availability, error) {
	if err := ctx.Err(); err != nil {
		return fleet.Availability{}, err
	}
	return fleet.Availability{
		Station:          "Station " + normalizeLocation(location),
		ChargedBatteries: 7,
	}, nil
}

// CheckSubscription reports an active plan through the end of 2026.
func (p *Provider) CheckSubscription(ctx context.Context, driverID string) (fleet.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return fleet.Subscription{}, err
	}
	return fleet.Subscription{
		Status:    "active",
		ExpiresOn: time.Date(2026, time.December, 31, 0, 0, 0, 0, ist),
	}, nil
}

// RenewSubscription reports the plan extended by one year.
func (p *Provider) RenewSubscription(ctx context.Context, driverID string) (fleet.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return fleet.Subscription{}, err
	}
	return fleet.Subscription{
		Status:    "active",
		ExpiresOn: time.Date(2027, time.December, 31, 0, 0, 0, 0, ist),
	}, nil
}

// LatestInvoice returns a canned billing summary.
func (p *Provider) LatestInvoice(ctx context.Context, driverID string) (fleet.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return fleet.Invoice{}, err
	}
	return fleet.Invoice{
		Period: "January 2026",
		Amount: 2499,
		Swaps:  42,
	}, nil
}

// normalizeLocation title-cases the first rune so spoken lowercase
// locations read naturally in replies. Empty input becomes "Nearby".
func normalizeLocation(location string) string {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return "Nearby"
	}
	return strings.ToUpper(loc[:1]) + loc[1:]
}
