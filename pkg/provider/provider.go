// Package provider defines the contract every municipal parking provider
// implements, the manifest metadata that describes it, and the shared HTTP
// plumbing the concrete drivers are built on.
package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
	"github.com/sir-Unknown/cityvisitorparking/pkg/metrics"
	"github.com/sir-Unknown/cityvisitorparking/pkg/models"
	"github.com/sir-Unknown/cityvisitorparking/pkg/tracer"
)

// Credential keys shared by every provider. Providers may accept extra keys
// of their own.
const (
	CredentialUsername = "username"
	CredentialPassword = "password"
)

// Credentials is the key/value mapping handed to Login.
type Credentials map[string]string

// Require fails with a ValidationError naming the first missing or blank key.
func (c Credentials) Require(keys ...string) error {
	for _, key := range keys {
		if strings.TrimSpace(c[key]) == "" {
			return errs.Validation("credential " + key + " is required")
		}
	}
	return nil
}

// Get returns the trimmed value for key, empty when absent.
func (c Credentials) Get(key string) string {
	return strings.TrimSpace(c[key])
}

// FavoriteUpdate carries the fields a favorite update may change. Nil
// pointers mean "leave unchanged".
type FavoriteUpdate struct {
	Name         *string
	LicensePlate *string
}

func (u FavoriteUpdate) fields() []string {
	var out []string
	if u.LicensePlate != nil {
		out = append(out, FieldLicensePlate)
	}
	if u.Name != nil {
		out = append(out, FieldName)
	}
	return out
}

func (u FavoriteUpdate) empty() bool {
	return u.Name == nil && u.LicensePlate == nil
}

// ReservationUpdate carries the fields a reservation update may change.
type ReservationUpdate struct {
	StartTime *time.Time
	EndTime   *time.Time
	Name      *string
}

func (u ReservationUpdate) fields() []string {
	var out []string
	if u.StartTime != nil {
		out = append(out, FieldStartTime)
	}
	if u.EndTime != nil {
		out = append(out, FieldEndTime)
	}
	if u.Name != nil {
		out = append(out, FieldName)
	}
	return out
}

func (u ReservationUpdate) empty() bool {
	return u.StartTime == nil && u.EndTime == nil && u.Name == nil
}

// Updatable field names as they appear in manifests.
const (
	FieldName         = "name"
	FieldLicensePlate = "license_plate"
	FieldStartTime    = "start_time"
	FieldEndTime      = "end_time"
)

// Driver is what a concrete provider implements. It talks the portal's
// native protocol and performs no capability checks of its own; those live
// in the guard wrapping it.
type Driver interface {
	Login(ctx context.Context, credentials Credentials) error

	GetPermit(ctx context.Context) (models.Permit, error)

	ListReservations(ctx context.Context) ([]models.Reservation, error)
	StartReservation(ctx context.Context, licensePlate string, start, end time.Time, name string) (models.Reservation, error)
	UpdateReservation(ctx context.Context, id string, update ReservationUpdate) (models.Reservation, error)
	EndReservation(ctx context.Context, id string, end *time.Time) (models.Reservation, error)

	ListFavorites(ctx context.Context) ([]models.Favorite, error)
	AddFavorite(ctx context.Context, licensePlate, name string) (models.Favorite, error)
	// UpdateFavoriteNative is only reached when the manifest declares
	// favorite update fields; other providers may return ProviderError.
	UpdateFavoriteNative(ctx context.Context, id string, update FavoriteUpdate) (models.Favorite, error)
	RemoveFavorite(ctx context.Context, id string) error
}

// API is the provider surface handed to callers. It mirrors Driver but
// enforces manifest capabilities, serializes mutating operations, and
// implements the favorite-update fallback.
type API interface {
	Info() models.ProviderInfo

	Login(ctx context.Context, credentials Credentials) error

	GetPermit(ctx context.Context) (models.Permit, error)

	ListReservations(ctx context.Context) ([]models.Reservation, error)
	StartReservation(ctx context.Context, licensePlate string, start, end time.Time, name string) (models.Reservation, error)
	UpdateReservation(ctx context.Context, id string, update ReservationUpdate) (models.Reservation, error)
	EndReservation(ctx context.Context, id string, end *time.Time) (models.Reservation, error)

	ListFavorites(ctx context.Context) ([]models.Favorite, error)
	AddFavorite(ctx context.Context, licensePlate, name string) (models.Favorite, error)
	UpdateFavorite(ctx context.Context, id string, update FavoriteUpdate) (models.Favorite, error)
	RemoveFavorite(ctx context.Context, id string) error
}

// Options carry everything a driver factory needs. Credentials arrive later
// through Login.
type Options struct {
	Manifest   Manifest
	Session    *http.Client
	BaseURL    string
	APIURI     string
	Timeout    time.Duration
	RetryCount int
	Logger     *zap.SugaredLogger
	Tracer     *tracer.Tracer
	Registry   metrics.MetricsRegistry
}

// Factory builds a driver for one provider id.
type Factory func(opts Options) (Driver, error)

// New wires a registered driver for the manifest into the capability guard.
func New(manifest Manifest, opts Options) (API, error) {
	factory, err := FactoryFor(manifest.ID)
	if err != nil {
		return nil, errs.Provider("provider implementation unavailable").WithCause(err)
	}
	opts.Manifest = manifest
	driver, err := factory(opts)
	if err != nil {
		return nil, err
	}
	return newGuard(driver, manifest), nil
}
