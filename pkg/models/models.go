// Package models defines the provider-agnostic data types returned by the
// library. All timestamps are UTC at second precision and all license plates
// are normalized to uppercase A-Z0-9 before a value is constructed.
package models

import "time"

// ProviderInfo describes a provider entry from its manifest. The update field
// slices list which fields may be changed on an existing favorite or
// reservation; an empty slice means the provider has no native support.
type ProviderInfo struct {
	ID                      string   `json:"id"`
	Name                    string   `json:"name"`
	FavoriteUpdateFields    []string `json:"favorite_update_fields"`
	ReservationUpdateFields []string `json:"reservation_update_fields"`
}

// ZoneValidityBlock is a chargeable window during which a permit is billable.
type ZoneValidityBlock struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Permit is the active visitor parking permit of an account.
// RemainingBalance is expressed in minutes regardless of the unit the remote
// API reports; providers convert before constructing a Permit.
type Permit struct {
	ID               string              `json:"id"`
	RemainingBalance int                 `json:"remaining_balance"`
	ZoneValidity     []ZoneValidityBlock `json:"zone_validity"`
}

// Reservation is an active or scheduled visitor parking session.
type Reservation struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LicensePlate string    `json:"license_plate"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

// Favorite is a stored license plate shortcut. The plate is unique within a
// provider account.
type Favorite struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LicensePlate string `json:"license_plate"`
}
