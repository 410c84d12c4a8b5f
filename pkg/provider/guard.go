package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
	"github.com/sir-Unknown/cityvisitorparking/pkg/models"
	"github.com/sir-Unknown/cityvisitorparking/pkg/util"
)

// guard wraps a driver with the shared behavior every provider gets for
// free: manifest capability checks before any I/O, a single mutex
// serializing mutating calls, and the remove-then-add favorite fallback.
// The fallback runs entirely under one lock acquisition, so it can never
// interleave with another mutating call on the same instance.
type guard struct {
	driver   Driver
	manifest Manifest

	// mu serializes mutating operations only; reads go straight through.
	mu sync.Mutex
}

func newGuard(driver Driver, manifest Manifest) *guard {
	return &guard{driver: driver, manifest: manifest}
}

func (g *guard) Info() models.ProviderInfo {
	return g.manifest.Info()
}

func (g *guard) Login(ctx context.Context, credentials Credentials) error {
	if err := credentials.Require(CredentialUsername, CredentialPassword); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.driver.Login(ctx, credentials)
}

func (g *guard) GetPermit(ctx context.Context) (models.Permit, error) {
	return g.driver.GetPermit(ctx)
}

func (g *guard) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	return g.driver.ListReservations(ctx)
}

func (g *guard) StartReservation(ctx context.Context, licensePlate string, start, end time.Time, name string) (models.Reservation, error) {
	plate, err := util.NormalizeLicensePlate(licensePlate)
	if err != nil {
		return models.Reservation{}, err
	}
	start, end, err = util.ValidateReservationTimes(start, end)
	if err != nil {
		return models.Reservation{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.driver.StartReservation(ctx, plate, start, end, name)
}

func (g *guard) UpdateReservation(ctx context.Context, id string, update ReservationUpdate) (models.Reservation, error) {
	if id == "" {
		return models.Reservation{}, errs.Validation("reservation id is required")
	}
	if update.empty() {
		return models.Reservation{}, errs.Validation("reservation update has no fields")
	}
	if !g.manifest.SupportsReservationUpdate() {
		return models.Reservation{}, errs.Provider(fmt.Sprintf("provider %q does not support reservation updates", g.manifest.ID))
	}
	for _, field := range update.fields() {
		if !g.manifest.AllowsReservationField(field) {
			return models.Reservation{}, errs.Provider(fmt.Sprintf("provider %q does not support updating reservation field %q", g.manifest.ID, field))
		}
	}
	if update.StartTime != nil && update.EndTime != nil && !update.EndTime.After(*update.StartTime) {
		return models.Reservation{}, errs.Validation("end_time must be after start_time")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.driver.UpdateReservation(ctx, id, update)
}

func (g *guard) EndReservation(ctx context.Context, id string, end *time.Time) (models.Reservation, error) {
	if id == "" {
		return models.Reservation{}, errs.Validation("reservation id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.driver.EndReservation(ctx, id, end)
}

func (g *guard) ListFavorites(ctx context.Context) ([]models.Favorite, error) {
	return g.driver.ListFavorites(ctx)
}

func (g *guard) AddFavorite(ctx context.Context, licensePlate, name string) (models.Favorite, error) {
	plate, err := util.NormalizeLicensePlate(licensePlate)
	if err != nil {
		return models.Favorite{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.driver.AddFavorite(ctx, plate, name)
}

func (g *guard) UpdateFavorite(ctx context.Context, id string, update FavoriteUpdate) (models.Favorite, error) {
	if id == "" {
		return models.Favorite{}, errs.Validation("favorite id is required")
	}
	if update.empty() {
		return models.Favorite{}, errs.Validation("favorite update has no fields")
	}
	if update.LicensePlate != nil {
		plate, err := util.NormalizeLicensePlate(*update.LicensePlate)
		if err != nil {
			return models.Favorite{}, err
		}
		update.LicensePlate = &plate
	}

	if g.manifest.SupportsFavoriteUpdate() {
		for _, field := range update.fields() {
			if !g.manifest.AllowsFavoriteField(field) {
				return models.Favorite{}, errs.Provider(fmt.Sprintf("provider %q does not support updating favorite field %q", g.manifest.ID, field))
			}
		}

		g.mu.Lock()
		defer g.mu.Unlock()
		return g.driver.UpdateFavoriteNative(ctx, id, update)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.replaceFavorite(ctx, id, update)
}

// replaceFavorite implements update for providers without native support:
// remove the favorite and re-add it with the requested changes merged over
// the stored name and plate. When the re-add fails the favorite is gone;
// the caller observes that through the returned ProviderError.
func (g *guard) replaceFavorite(ctx context.Context, id string, update FavoriteUpdate) (models.Favorite, error) {
	favorites, err := g.driver.ListFavorites(ctx)
	if err != nil {
		return models.Favorite{}, err
	}

	var existing *models.Favorite
	for i := range favorites {
		if favorites[i].ID == id {
			existing = &favorites[i]
			break
		}
	}
	if existing == nil {
		return models.Favorite{}, errs.Provider(fmt.Sprintf("favorite %q not found", id))
	}

	plate := existing.LicensePlate
	if update.LicensePlate != nil {
		plate = *update.LicensePlate
	}
	name := existing.Name
	if update.Name != nil {
		name = *update.Name
	}

	if err := g.driver.RemoveFavorite(ctx, id); err != nil {
		return models.Favorite{}, err
	}
	replaced, err := g.driver.AddFavorite(ctx, plate, name)
	if err != nil {
		return models.Favorite{}, errs.Provider("favorite was removed but could not be re-added").WithCause(err)
	}
	return replaced, nil
}

func (g *guard) RemoveFavorite(ctx context.Context, id string) error {
	if id == "" {
		return errs.Validation("favorite id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.driver.RemoveFavorite(ctx, id)
}
