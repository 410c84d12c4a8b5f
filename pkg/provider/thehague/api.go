// Package thehague implements The Hague visitor parking provider.
//
// The municipality exposes a small REST API behind a cookie session that is
// established with one basic-auth GET. Reservations and favorites are plain
// resources; this is the only portal with native favorite updates.
package thehague

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
	"github.com/sir-Unknown/cityvisitorparking/pkg/models"
	"github.com/sir-Unknown/cityvisitorparking/pkg/provider"
	"github.com/sir-Unknown/cityvisitorparking/pkg/util"
)

func init() {
	provider.Register(ID, New)
}

// New builds The Hague driver. The session must carry a cookie jar; the
// portal keeps authentication in a session cookie.
func New(opts provider.Options) (provider.Driver, error) {
	base, err := provider.NewBase(opts)
	if err != nil {
		return nil, err
	}
	return &driver{base: base}, nil
}

type driver struct {
	base *provider.Base

	// mu protects the stored credentials and session flag.
	mu          sync.Mutex
	credentials provider.Credentials
	mediaTypeID string
	loggedIn    bool
}

type accountPayload struct {
	ID           provider.FlexString `json:"id"`
	DebitMinutes provider.FlexInt    `json:"debit_minutes"`
	ZoneValidity []zoneValidityEntry `json:"zone_validity"`
}

type zoneValidityEntry struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsFree    bool   `json:"is_free"`
}

type reservationPayload struct {
	ID           provider.FlexString `json:"id"`
	Name         string              `json:"name"`
	LicensePlate string              `json:"license_plate"`
	StartTime    string              `json:"start_time"`
	EndTime      string              `json:"end_time"`
}

type favoritePayload struct {
	ID           provider.FlexString `json:"id"`
	Name         string              `json:"name"`
	LicensePlate string              `json:"license_plate"`
}

func (d *driver) Login(ctx context.Context, credentials provider.Credentials) error {
	username := credentials.Get(provider.CredentialUsername)
	password := credentials.Get(provider.CredentialPassword)
	mediaTypeID := credentials.Get(credentialPermitMediaTypeID)
	if mediaTypeID == "" {
		d.mu.Lock()
		mediaTypeID = d.mediaTypeID
		d.mu.Unlock()
	}

	_, err := d.base.DoText(ctx, provider.Request{
		Method:    http.MethodGet,
		Path:      sessionEndpoint,
		Headers:   d.headers(mediaTypeID),
		BasicAuth: &provider.BasicAuth{Username: username, Password: password},
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.credentials = provider.Credentials{
		provider.CredentialUsername: username,
		provider.CredentialPassword: password,
	}
	if mediaTypeID != "" {
		d.credentials[credentialPermitMediaTypeID] = mediaTypeID
	}
	d.mediaTypeID = mediaTypeID
	d.loggedIn = true
	d.mu.Unlock()

	return nil
}

func (d *driver) GetPermit(ctx context.Context) (models.Permit, error) {
	var account accountPayload
	if err := d.requestAuthed(ctx, http.MethodGet, accountEndpoint, nil, &account); err != nil {
		return models.Permit{}, err
	}
	return mapPermit(account)
}

func (d *driver) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	var items []reservationPayload
	if err := d.requestAuthed(ctx, http.MethodGet, reservationEndpoint, nil, &items); err != nil {
		return nil, err
	}
	reservations := make([]models.Reservation, 0, len(items))
	for _, item := range items {
		r, err := mapReservation(item)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, nil
}

func (d *driver) StartReservation(ctx context.Context, licensePlate string, start, end time.Time, name string) (models.Reservation, error) {
	// The API requires a name; default to the plate when omitted.
	if name == "" {
		name = licensePlate
	}
	payload := map[string]any{
		"id":            nil,
		"name":          name,
		"license_plate": licensePlate,
		"start_time":    util.FormatUTC(start),
		"end_time":      util.FormatUTC(end),
	}
	var item reservationPayload
	if err := d.requestAuthed(ctx, http.MethodPost, reservationEndpoint, payload, &item); err != nil {
		return models.Reservation{}, err
	}
	return mapReservation(item)
}

func (d *driver) UpdateReservation(ctx context.Context, id string, update provider.ReservationUpdate) (models.Reservation, error) {
	if update.EndTime == nil {
		return models.Reservation{}, errs.Validation("end_time is required")
	}
	end, err := util.NormalizeTime(*update.EndTime)
	if err != nil {
		return models.Reservation{}, err
	}
	payload := map[string]any{"end_time": util.FormatUTC(end)}
	var item reservationPayload
	if err := d.requestAuthed(ctx, http.MethodPatch, reservationEndpoint+"/"+id, payload, &item); err != nil {
		return models.Reservation{}, err
	}
	return mapReservation(item)
}

func (d *driver) EndReservation(ctx context.Context, id string, end *time.Time) (models.Reservation, error) {
	endTime := time.Now()
	if end != nil {
		endTime = *end
	}
	normalizedEnd, err := util.NormalizeTime(endTime)
	if err != nil {
		return models.Reservation{}, err
	}

	reservations, err := d.ListReservations(ctx)
	if err != nil {
		return models.Reservation{}, err
	}
	var existing *models.Reservation
	for i := range reservations {
		if reservations[i].ID == id {
			existing = &reservations[i]
			break
		}
	}
	if existing == nil {
		return models.Reservation{}, errs.Validation("reservation_id was not found")
	}

	if err := d.requestAuthed(ctx, http.MethodDelete, reservationEndpoint+"/"+id, nil, nil); err != nil {
		return models.Reservation{}, err
	}
	result := *existing
	result.EndTime = normalizedEnd
	return result, nil
}

func (d *driver) ListFavorites(ctx context.Context) ([]models.Favorite, error) {
	var items []favoritePayload
	if err := d.requestAuthed(ctx, http.MethodGet, favoriteEndpoint, nil, &items); err != nil {
		return nil, err
	}
	favorites := make([]models.Favorite, 0, len(items))
	for _, item := range items {
		f, err := mapFavorite(item)
		if err != nil {
			return nil, err
		}
		favorites = append(favorites, f)
	}
	return favorites, nil
}

func (d *driver) AddFavorite(ctx context.Context, licensePlate, name string) (models.Favorite, error) {
	if name == "" {
		name = licensePlate
	}
	payload := map[string]any{"name": name, "license_plate": licensePlate}
	var item favoritePayload
	if err := d.requestAuthed(ctx, http.MethodPost, favoriteEndpoint, payload, &item); err != nil {
		return models.Favorite{}, err
	}
	return mapFavorite(item)
}

// UpdateFavoriteNative patches a favorite, filling unchanged fields from the
// stored favorite so the portal always receives the full resource.
func (d *driver) UpdateFavoriteNative(ctx context.Context, id string, update provider.FavoriteUpdate) (models.Favorite, error) {
	var existing *models.Favorite
	if update.LicensePlate == nil || update.Name == nil {
		favorites, err := d.ListFavorites(ctx)
		if err != nil {
			return models.Favorite{}, err
		}
		for i := range favorites {
			if favorites[i].ID == id {
				existing = &favorites[i]
				break
			}
		}
		if existing == nil {
			return models.Favorite{}, errs.Validation("favorite_id was not found")
		}
	}

	plate := ""
	if update.LicensePlate != nil {
		plate = *update.LicensePlate
	} else {
		plate = existing.LicensePlate
	}
	name := ""
	if update.Name != nil {
		name = *update.Name
	} else {
		name = existing.Name
	}
	if name == "" {
		name = plate
	}

	payload := map[string]any{"name": name, "license_plate": plate}
	var item favoritePayload
	if err := d.requestAuthed(ctx, http.MethodPatch, favoriteEndpoint+"/"+id, payload, &item); err != nil {
		return models.Favorite{}, err
	}
	return mapFavorite(item)
}

func (d *driver) RemoveFavorite(ctx context.Context, id string) error {
	return d.requestAuthed(ctx, http.MethodDelete, favoriteEndpoint+"/"+id, nil, nil)
}

// requestAuthed makes sure a session exists, then performs the request with
// a single transparent re-login when the session cookie has expired.
func (d *driver) requestAuthed(ctx context.Context, method, path string, payload, out any) error {
	if err := d.ensureAuthenticated(ctx); err != nil {
		return err
	}
	_, err := provider.WithReauth(ctx, d.relogin, func(ctx context.Context) (struct{}, error) {
		d.mu.Lock()
		mediaTypeID := d.mediaTypeID
		d.mu.Unlock()
		err := d.base.DoJSON(ctx, provider.Request{
			Method:  method,
			Path:    path,
			Body:    payload,
			Headers: d.headers(mediaTypeID),
		}, out)
		return struct{}{}, err
	})
	return err
}

func (d *driver) ensureAuthenticated(ctx context.Context) error {
	d.mu.Lock()
	loggedIn := d.loggedIn
	creds := d.credentials
	d.mu.Unlock()

	if loggedIn {
		return nil
	}
	if len(creds) == 0 {
		return errs.Auth("authentication required")
	}
	return d.Login(ctx, creds)
}

func (d *driver) relogin(ctx context.Context) error {
	d.mu.Lock()
	d.loggedIn = false
	creds := d.credentials
	d.mu.Unlock()

	if len(creds) == 0 {
		return errs.Auth("authentication required")
	}
	return d.Login(ctx, creds)
}

func (d *driver) headers(mediaTypeID string) http.Header {
	h := http.Header{}
	h.Set(requestedWithHeader, defaultRequestedWith)
	if mediaTypeID != "" {
		h.Set(permitMediaTypeHeader, mediaTypeID)
	}
	return h
}

func mapPermit(account accountPayload) (models.Permit, error) {
	id := account.ID.String()
	if id == "" {
		return models.Permit{}, errs.Provider("provider response missing account id")
	}
	validity, err := mapZoneValidity(account.ZoneValidity)
	if err != nil {
		return models.Permit{}, err
	}
	return models.Permit{
		ID: id,
		// debit_minutes is already expressed in minutes.
		RemainingBalance: account.DebitMinutes.Int(),
		ZoneValidity:     validity,
	}, nil
}

func mapZoneValidity(raw []zoneValidityEntry) ([]models.ZoneValidityBlock, error) {
	entries := make([]util.ChargeableBlock, 0, len(raw))
	for _, item := range raw {
		if item.StartTime == "" || item.EndTime == "" {
			continue
		}
		start, err := util.ParseTimestamp(item.StartTime)
		if err != nil {
			return nil, errs.Provider("provider returned invalid zone validity data").WithCause(err)
		}
		end, err := util.ParseTimestamp(item.EndTime)
		if err != nil {
			return nil, errs.Provider("provider returned invalid zone validity data").WithCause(err)
		}
		entries = append(entries, util.ChargeableBlock{
			Block:      models.ZoneValidityBlock{StartTime: start, EndTime: end},
			Chargeable: !item.IsFree,
		})
	}
	return util.FilterChargeableZoneValidity(entries), nil
}

func mapReservation(item reservationPayload) (models.Reservation, error) {
	id := item.ID.String()
	if id == "" {
		return models.Reservation{}, errs.Provider("provider response missing reservation id")
	}
	if item.LicensePlate == "" || item.StartTime == "" || item.EndTime == "" {
		return models.Reservation{}, errs.Provider("provider response missing reservation fields")
	}
	plate, err := util.NormalizeLicensePlate(item.LicensePlate)
	if err != nil {
		return models.Reservation{}, errs.Provider("provider returned invalid reservation data").WithCause(err)
	}
	start, err := util.ParseTimestamp(item.StartTime)
	if err != nil {
		return models.Reservation{}, errs.Provider("provider returned invalid reservation data").WithCause(err)
	}
	end, err := util.ParseTimestamp(item.EndTime)
	if err != nil {
		return models.Reservation{}, errs.Provider("provider returned invalid reservation data").WithCause(err)
	}
	return models.Reservation{
		ID:           id,
		Name:         item.Name,
		LicensePlate: plate,
		StartTime:    start,
		EndTime:      end,
	}, nil
}

func mapFavorite(item favoritePayload) (models.Favorite, error) {
	id := item.ID.String()
	if id == "" {
		return models.Favorite{}, errs.Provider("provider response missing favorite id")
	}
	if item.LicensePlate == "" {
		return models.Favorite{}, errs.Provider("provider response missing favorite fields")
	}
	plate, err := util.NormalizeLicensePlate(item.LicensePlate)
	if err != nil {
		return models.Favorite{}, errs.Provider("provider returned invalid favorite data").WithCause(err)
	}
	return models.Favorite{
		ID:           id,
		Name:         item.Name,
		LicensePlate: plate,
	}, nil
}
