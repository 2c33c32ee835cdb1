// Package fleet defines the Provider interface for fleet-platform data
// lookups.
//
// The data client is the orchestrator's only window into backend systems:
// swap history, station directory, battery availability, subscriptions, and
// invoices. The contract is deliberately narrow and read-mostly, one method
// per intent family, so the core stays independent of how the platform is
// reached (REST, MCP tools, or the static stub used in tests and demos).
//
// Implementations must be safe for concurrent use.
package fleet

import (
	"context"
	"time"
)

// SwapRecord is one completed battery swap.
type SwapRecord struct {
	// At is when the swap completed.
	At time.Time `json:"at"`

	// Station is the swap station's display name.
	Station string `json:"station"`

	// BatteryID identifies the battery handed out.
	BatteryID string `json:"battery_id"`
}

// Station is a swap station or driver service center.
type Station struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Availability reports charged stock at the station nearest a location.
type Availability struct {
	Station          string `json:"station"`
	ChargedBatteries int    `json:"charged_batteries"`
}

// Subscription is a driver's swap-plan status.
type Subscription struct {
	// Status is the platform's plan state, e.g. "active" or "expired".
	Status string `json:"status"`

	// ExpiresOn is the plan end date.
	ExpiresOn time.Time `json:"expires_on"`
}

// Invoice is a driver's most recent billing summary.
type Invoice struct {
	// Period is the billing period's display name, e.g. "January 2026".
	Period string `json:"period"`

	// Amount is the invoice total in rupees.
	Amount float64 `json:"amount"`

	// Swaps is the number of swaps billed in the period.
	Swaps int `json:"swaps"`
}

// Provider is the abstraction over the fleet platform's data APIs.
type Provider interface {
	// GetSwapHistory lists a driver's swaps within a spoken date range
	// ("yesterday", "last week"). Range parsing is the platform's concern.
	GetSwapHistory(ctx context.Context, driverID, dateRange string) ([]SwapRecord, error)

	// FindNearestStation resolves the swap station closest to a spoken
	// location.
	FindNearestStation(ctx context.Context, location string) (Station, error)

	// FindNearestDSK resolves the driver service center closest to a
	// spoken location.
	FindNearestDSK(ctx context.Context, location string) (Station, error)

	// CheckAvailability reports charged-battery stock near a location.
	CheckAvailability(ctx context.Context, location string) (Availability, error)

	// CheckSubscription returns the driver's current plan status.
	CheckSubscription(ctx context.Context, driverID string) (Subscription, error)

	// RenewSubscription extends the driver's plan and returns the updated
	// status.
	RenewSubscription(ctx context.Context, driverID string) (Subscription, error)

	// LatestInvoice returns the driver's most recent billing summary.
	LatestInvoice(ctx context.Context, driverID string) (Invoice, error)
}
