// Package mock provides a test double for the fleet.Provider interface.
//
// Every method returns the corresponding exported stub field and records its
// arguments. Set the Err fields to exercise failure recovery paths.
package mock

import (
	"context"
	"sync"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet"
)

// SwapHistoryCall records a single invocation of GetSwapHistory.
type SwapHistoryCall struct {
	DriverID  string
	DateRange string
}

// LocationCall records an invocation of a location-keyed lookup.
type LocationCall struct {
	Location string
}

// DriverCall records an invocation of a driver-keyed lookup.
type DriverCall struct {
	DriverID string
}

// Provider is a mock implementation of fleet.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	SwapHistory    []fleet.SwapRecord
	SwapHistoryErr error

	Station    fleet.Station
	StationErr error

	DSK    fleet.Station
	DSKErr error

	Availability    fleet.Availability
	AvailabilityErr error

	Subscription    fleet.Subscription
	SubscriptionErr error

	Renewed  fleet.Subscription
	RenewErr error

	Invoice    fleet.Invoice
	InvoiceErr error

	// --- Call records (read after test) ---

	SwapHistoryCalls  []SwapHistoryCall
	StationCalls      []LocationCall
	DSKCalls          []LocationCall
	AvailabilityCalls []LocationCall
	SubscriptionCalls []DriverCall
	RenewCalls        []DriverCall
	InvoiceCalls      []DriverCall
}

// GetSwapHistory records the call and returns SwapHistory, SwapHistoryErr.
func (p *Provider) GetSwapHistory(ctx context.Context, driverID, dateRange string) ([]fleet.SwapRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SwapHistoryCalls = append(p.SwapHistoryCalls, SwapHistoryCall{DriverID: driverID, DateRange: dateRange})
	if p.SwapHistoryErr != nil {
		return nil, p.SwapHistoryErr
	}
	return p.SwapHistory, nil
}

// FindNearestStation records the call and returns Station, StationErr.
func (p *Provider) FindNearestStation(ctx context.Context, location string) (fleet.Station, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StationCalls = append(p.StationCalls, LocationCall{Location: location})
	if p.StationErr != nil {
		return fleet.Station{}, p.StationErr
	}
	return p.Station, nil
}

// FindNearestDSK records the call and returns DSK, DSKErr.
func (p *Provider) FindNearestDSK(ctx context.Context, location string) (fleet.Station, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DSKCalls = append(p.DSKCalls, LocationCall{Location: location})
	if p.DSKErr != nil {
		return fleet.Station{}, p.DSKErr
	}
	return p.DSK, nil
}

// CheckAvailability records the call and returns Availability, AvailabilityErr.
func (p *Provider) CheckAvailability(ctx context.Context, location string) (fleet.Availability, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AvailabilityCalls = append(p.AvailabilityCalls, LocationCall{Location: location})
	if p.AvailabilityErr != nil {
		return fleet.Availability{}, p.AvailabilityErr
	}
	return p.Availability, nil
}

// CheckSubscription records the call and returns Subscription, SubscriptionErr.
func (p *Provider) CheckSubscription(ctx context.Context, driverID string) (fleet.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SubscriptionCalls = append(p.SubscriptionCalls, DriverCall{DriverID: driverID})
	if p.SubscriptionErr != nil {
		return fleet.Subscription{}, p.SubscriptionErr
	}
	return p.Subscription, nil
}

// RenewSubscription records the call and returns Renewed, RenewErr.
func (p *Provider) RenewSubscription(ctx context.Context, driverID string) (fleet.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RenewCalls = append(p.RenewCalls, DriverCall{DriverID: driverID})
	if p.RenewErr != nil {
		return fleet.Subscription{}, p.RenewErr
	}
	return p.Renewed, nil
}

// LatestInvoice records the call and returns Invoice, InvoiceErr.
func (p *Provider) LatestInvoice(ctx context.Context, driverID string) (fleet.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InvoiceCalls = append(p.InvoiceCalls, DriverCall{DriverID: driverID})
	if p.InvoiceErr != nil {
		return fleet.Invoice{}, p.InvoiceErr
	}
	return p.Invoice, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SwapHistoryCalls = nil
	p.StationCalls = nil
	p.DSKCalls = nil
	p.AvailabilityCalls = nil
	p.SubscriptionCalls = nil
	p.RenewCalls = nil
	p.InvoiceCalls = nil
}

// Ensure Provider implements fleet.Provider at compile time.
var _ fleet.Provider = (*Provider)(nil)
