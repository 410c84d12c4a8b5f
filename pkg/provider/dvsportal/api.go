// Package dvsportal implements the DVS Portal visitor parking provider.
//
// The portal authenticates with a base64 token header obtained from a JSON
// login, and serves the whole account state (permit, media, reservations and
// favorites) from one getbase document. Reservation updates are expressed as
// a whole-minute adjustment of the end time.
package dvsportal

import (
	"context"
	"encoding/base64"
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

// New builds the DVS Portal driver.
func New(opts provider.Options) (provider.Driver, error) {
	if opts.APIURI == "" {
		opts.APIURI = defaultAPIURI
	}
	base, err := provider.NewBase(opts)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(apiTimezone)
	if err != nil {
		return nil, errs.Provider("timezone data for " + apiTimezone + " is unavailable").WithCause(err)
	}
	return &driver{base: base, loc: loc}, nil
}

type driver struct {
	base *provider.Base
	loc  *time.Location

	// mu protects the authenticated session state below.
	mu          sync.Mutex
	token       string
	authValue   string
	credentials provider.Credentials
	mediaTypeID string
	mediaCode   string
}

type loginResponse struct {
	LoginStatus provider.FlexInt `json:"LoginStatus"`
	Token       string           `json:"Token"`
}

type mediaTypesResponse struct {
	PermitMediaTypes []struct {
		ID provider.FlexString `json:"ID"`
	} `json:"PermitMediaTypes"`
}

type baseResponse struct {
	Permit  *permitPayload  `json:"Permit"`
	Permits []permitPayload `json:"Permits"`
}

type permitPayload struct {
	ZoneCode     provider.FlexString `json:"ZoneCode"`
	BlockTimes   []blockTime         `json:"BlockTimes"`
	PermitMedias []permitMedia       `json:"PermitMedias"`
}

type permitMedia struct {
	TypeID             provider.FlexString `json:"TypeID"`
	Code               string              `json:"Code"`
	Balance            provider.FlexInt    `json:"Balance"`
	ActiveReservations []activeReservation `json:"ActiveReservations"`
	LicensePlates      []plateEntry        `json:"LicensePlates"`
}

type blockTime struct {
	IsFree     bool   `json:"IsFree"`
	ValidFrom  string `json:"ValidFrom"`
	ValidUntil string `json:"ValidUntil"`
}

type activeReservation struct {
	ReservationID provider.FlexString `json:"ReservationID"`
	ValidFrom     string              `json:"ValidFrom"`
	ValidUntil    string              `json:"ValidUntil"`
	LicensePlate  *plateEntry         `json:"LicensePlate"`
}

type plateEntry struct {
	Value        string `json:"Value"`
	DisplayValue string `json:"DisplayValue"`
	Name         string `json:"Name"`
}

func (d *driver) Login(ctx context.Context, credentials provider.Credentials) error {
	identifier := credentials.Get(provider.CredentialUsername)
	password := credentials.Get(provider.CredentialPassword)

	mediaTypeID := credentials.Get(credentialPermitMediaTypeID)
	if mediaTypeID == "" {
		d.mu.Lock()
		mediaTypeID = d.mediaTypeID
		d.mu.Unlock()
	}
	if mediaTypeID == "" {
		fetched, err := d.fetchPermitMediaTypeID(ctx)
		if err != nil {
			return err
		}
		mediaTypeID = fetched
	}

	payload := map[string]any{
		"identifier":        identifier,
		"loginMethod":       loginMethodPas,
		"password":          password,
		"permitMediaTypeID": mediaTypeID,
	}
	var resp loginResponse
	err := d.base.DoJSON(ctx, provider.Request{
		Method: http.MethodPost,
		Path:   loginEndpoint,
		Body:   payload,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.LoginStatus.Int() == 2 || resp.Token == "" {
		return errs.Auth("authentication failed")
	}

	d.mu.Lock()
	d.token = resp.Token
	d.authValue = buildAuthHeader(resp.Token)
	d.mediaTypeID = mediaTypeID
	d.credentials = provider.Credentials{
		provider.CredentialUsername: identifier,
		provider.CredentialPassword: password,
		credentialPermitMediaTypeID: mediaTypeID,
	}
	d.mu.Unlock()

	return nil
}

func (d *driver) GetPermit(ctx context.Context) (models.Permit, error) {
	permit, err := d.fetchBase(ctx)
	if err != nil {
		return models.Permit{}, err
	}
	return d.mapPermit(permit)
}

func (d *driver) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	permit, err := d.fetchBase(ctx)
	if err != nil {
		return nil, err
	}
	media, err := selectPermitMedia(permit)
	if err != nil {
		return nil, err
	}
	return d.mapReservations(media)
}

func (d *driver) StartReservation(ctx context.Context, licensePlate string, start, end time.Time, name string) (models.Reservation, error) {
	typeID, code, err := d.ensureDefaults(ctx)
	if err != nil {
		return models.Reservation{}, err
	}

	payload := map[string]any{
		"permitMediaTypeID": typeID,
		"permitMediaCode":   code,
		"DateFrom":          util.FormatUTC(start),
		"DateUntil":         util.FormatUTC(end),
		"LicensePlate": map[string]any{
			"Value": licensePlate,
			"Name":  name,
		},
	}
	var resp baseResponse
	if err := d.requestAuthed(ctx, reservationCreateEndpoint, payload, &resp); err != nil {
		return models.Reservation{}, err
	}
	permit, err := extractPermit(resp)
	if err != nil {
		return models.Reservation{}, err
	}
	d.cacheDefaults(permit)

	media, err := selectPermitMedia(permit)
	if err != nil {
		return models.Reservation{}, err
	}
	reservations, err := d.mapReservations(media)
	if err != nil {
		return models.Reservation{}, err
	}
	for _, r := range reservations {
		if r.LicensePlate == licensePlate && r.StartTime.Equal(start) && r.EndTime.Equal(end) {
			return r, nil
		}
	}
	if len(reservations) > 0 {
		return reservations[0], nil
	}
	return models.Reservation{}, errs.Provider("reservation was not returned by the provider")
}

// UpdateReservation moves the end of a running reservation. The portal only
// accepts whole-minute adjustments relative to the current end time.
func (d *driver) UpdateReservation(ctx context.Context, id string, update provider.ReservationUpdate) (models.Reservation, error) {
	if update.EndTime == nil {
		return models.Reservation{}, errs.Validation("end_time is required")
	}
	newEnd, err := util.NormalizeTime(*update.EndTime)
	if err != nil {
		return models.Reservation{}, err
	}

	reservations, err := d.ListReservations(ctx)
	if err != nil {
		return models.Reservation{}, err
	}
	existing, ok := findReservation(reservations, id)
	if !ok {
		return models.Reservation{}, errs.Validation("reservation_id was not found")
	}

	delta := newEnd.Sub(existing.EndTime)
	if delta%time.Minute != 0 {
		return models.Reservation{}, errs.Validation("end_time adjustment must be a whole number of minutes")
	}
	if delta == 0 {
		return existing, nil
	}

	typeID, code, err := d.ensureDefaults(ctx)
	if err != nil {
		return models.Reservation{}, err
	}
	payload := map[string]any{
		"permitMediaTypeID": typeID,
		"permitMediaCode":   code,
		"ReservationID":     id,
		"AdjustMinutes":     int(delta / time.Minute),
	}
	var resp baseResponse
	if err := d.requestAuthed(ctx, reservationUpdateEndpoint, payload, &resp); err != nil {
		return models.Reservation{}, err
	}
	if permit, err := extractPermit(resp); err == nil {
		d.cacheDefaults(permit)
	}

	existing.EndTime = newEnd
	return existing, nil
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
	existing, ok := findReservation(reservations, id)
	if !ok {
		return models.Reservation{}, errs.Validation("reservation_id was not found")
	}

	typeID, code, err := d.ensureDefaults(ctx)
	if err != nil {
		return models.Reservation{}, err
	}
	payload := map[string]any{
		"permitMediaTypeID": typeID,
		"permitMediaCode":   code,
		"ReservationID":     id,
	}
	var resp baseResponse
	if err := d.requestAuthed(ctx, reservationEndEndpoint, payload, &resp); err != nil {
		return models.Reservation{}, err
	}
	if permit, err := extractPermit(resp); err == nil {
		d.cacheDefaults(permit)
	}

	existing.EndTime = normalizedEnd
	return existing, nil
}

func (d *driver) ListFavorites(ctx context.Context) ([]models.Favorite, error) {
	permit, err := d.fetchBase(ctx)
	if err != nil {
		return nil, err
	}
	media, err := selectPermitMedia(permit)
	if err != nil {
		return nil, err
	}
	return mapFavorites(media)
}

func (d *driver) AddFavorite(ctx context.Context, licensePlate, name string) (models.Favorite, error) {
	typeID, code, err := d.ensureDefaults(ctx)
	if err != nil {
		return models.Favorite{}, err
	}

	payload := map[string]any{
		"permitMediaTypeID": typeID,
		"permitMediaCode":   code,
		"licensePlate": map[string]any{
			"Value": licensePlate,
			"Name":  name,
		},
		"updateLicensePlate": nil,
	}
	var resp baseResponse
	if err := d.requestAuthed(ctx, favoriteUpsertEndpoint, payload, &resp); err != nil {
		return models.Favorite{}, err
	}
	permit, err := extractPermit(resp)
	if err != nil {
		return models.Favorite{}, err
	}
	d.cacheDefaults(permit)

	media, err := selectPermitMedia(permit)
	if err != nil {
		return models.Favorite{}, err
	}
	favorites, err := mapFavorites(media)
	if err != nil {
		return models.Favorite{}, err
	}
	for _, f := range favorites {
		if f.LicensePlate == licensePlate {
			return f, nil
		}
	}
	if len(favorites) > 0 {
		return favorites[0], nil
	}
	return models.Favorite{}, errs.Provider("favorite was not returned by the provider")
}

func (d *driver) UpdateFavoriteNative(context.Context, string, provider.FavoriteUpdate) (models.Favorite, error) {
	return models.Favorite{}, errs.Provider("favorite updates are not supported")
}

// RemoveFavorite removes by plate; the portal keys favorites on the plate
// value, which doubles as the favorite id.
func (d *driver) RemoveFavorite(ctx context.Context, id string) error {
	plate, err := util.NormalizeLicensePlate(id)
	if err != nil {
		return err
	}
	typeID, code, err := d.ensureDefaults(ctx)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"permitMediaTypeID": typeID,
		"permitMediaCode":   code,
		"licensePlate":      plate,
		"name":              nil,
	}
	return d.requestAuthed(ctx, favoriteRemoveEndpoint, payload, nil)
}

func (d *driver) fetchPermitMediaTypeID(ctx context.Context) (string, error) {
	var resp mediaTypesResponse
	err := d.base.DoJSON(ctx, provider.Request{
		Method: http.MethodGet,
		Path:   loginEndpoint,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.PermitMediaTypes) == 0 {
		return "", errs.Provider("provider did not return permit media types")
	}
	id := resp.PermitMediaTypes[0].ID.String()
	if id == "" {
		return "", errs.Provider("provider did not return a permit media type id")
	}
	return id, nil
}

// fetchBase loads the account document every read flows through. It carries
// the token header and re-authenticates once when the token has expired.
func (d *driver) fetchBase(ctx context.Context) (permitPayload, error) {
	return provider.WithReauth(ctx, d.relogin, func(ctx context.Context) (permitPayload, error) {
		auth, err := d.currentAuth()
		if err != nil {
			return permitPayload{}, err
		}
		var resp baseResponse
		err = d.base.DoJSON(ctx, provider.Request{
			Method:  http.MethodPost,
			Path:    loginGetBaseEndpoint,
			Headers: http.Header{authHeader: []string{auth}},
		}, &resp)
		if err != nil {
			return permitPayload{}, err
		}
		permit, err := extractPermit(resp)
		if err != nil {
			return permitPayload{}, err
		}
		d.cacheDefaults(permit)
		return permit, nil
	})
}

// requestAuthed posts an authenticated payload with one transparent re-auth.
func (d *driver) requestAuthed(ctx context.Context, path string, payload any, out *baseResponse) error {
	_, err := provider.WithReauth(ctx, d.relogin, func(ctx context.Context) (struct{}, error) {
		auth, err := d.currentAuth()
		if err != nil {
			return struct{}{}, err
		}
		var target any
		if out != nil {
			target = out
		}
		err = d.base.DoJSON(ctx, provider.Request{
			Method:  http.MethodPost,
			Path:    path,
			Body:    payload,
			Headers: http.Header{authHeader: []string{auth}},
		}, target)
		return struct{}{}, err
	})
	return err
}

func (d *driver) currentAuth() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.authValue == "" {
		if len(d.credentials) == 0 {
			return "", errs.Auth("authentication required")
		}
		return "", errs.Auth("authentication expired")
	}
	return d.authValue, nil
}

// relogin drops the stale token and repeats login with stored credentials.
func (d *driver) relogin(ctx context.Context) error {
	d.mu.Lock()
	creds := d.credentials
	d.token = ""
	d.authValue = ""
	d.mu.Unlock()

	if len(creds) == 0 {
		return errs.Auth("authentication required")
	}
	return d.Login(ctx, creds)
}

func (d *driver) ensureDefaults(ctx context.Context) (typeID, code string, err error) {
	d.mu.Lock()
	typeID, code = d.mediaTypeID, d.mediaCode
	d.mu.Unlock()
	if typeID != "" && code != "" {
		return typeID, code, nil
	}
	if _, err := d.fetchBase(ctx); err != nil {
		return "", "", err
	}
	d.mu.Lock()
	typeID, code = d.mediaTypeID, d.mediaCode
	d.mu.Unlock()
	if typeID == "" || code == "" {
		return "", "", errs.Provider("permit media defaults are missing")
	}
	return typeID, code, nil
}

func (d *driver) cacheDefaults(permit permitPayload) {
	media, err := selectPermitMedia(permit)
	if err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id := media.TypeID.String(); id != "" {
		d.mediaTypeID = id
	}
	if media.Code != "" {
		d.mediaCode = media.Code
	}
}

func extractPermit(resp baseResponse) (permitPayload, error) {
	if resp.Permit != nil {
		return *resp.Permit, nil
	}
	if len(resp.Permits) > 0 {
		return resp.Permits[0], nil
	}
	return permitPayload{}, errs.Provider("provider response did not include permit data")
}

func selectPermitMedia(permit permitPayload) (permitMedia, error) {
	if len(permit.PermitMedias) == 0 {
		return permitMedia{}, errs.Provider("provider response did not include permit media")
	}
	return permit.PermitMedias[0], nil
}

func (d *driver) mapPermit(permit permitPayload) (models.Permit, error) {
	media, err := selectPermitMedia(permit)
	if err != nil {
		return models.Permit{}, err
	}
	permitID := media.Code
	if permitID == "" {
		permitID = permit.ZoneCode.String()
	}
	if permitID == "" {
		permitID = "permit"
	}
	validity, err := d.mapZoneValidity(permit.BlockTimes)
	if err != nil {
		return models.Permit{}, err
	}
	return models.Permit{
		ID: permitID,
		// Balance is already expressed in minutes by the portal.
		RemainingBalance: media.Balance.Int(),
		ZoneValidity:     validity,
	}, nil
}

func (d *driver) mapZoneValidity(blocks []blockTime) ([]models.ZoneValidityBlock, error) {
	entries := make([]util.ChargeableBlock, 0, len(blocks))
	for _, block := range blocks {
		if block.ValidFrom == "" || block.ValidUntil == "" {
			continue
		}
		start, err := d.parsePortalTime(block.ValidFrom)
		if err != nil {
			return nil, errs.Provider("provider returned invalid block time data").WithCause(err)
		}
		end, err := d.parsePortalTime(block.ValidUntil)
		if err != nil {
			return nil, errs.Provider("provider returned invalid block time data").WithCause(err)
		}
		entries = append(entries, util.ChargeableBlock{
			Block:      models.ZoneValidityBlock{StartTime: start, EndTime: end},
			Chargeable: !block.IsFree,
		})
	}
	return util.FilterChargeableZoneValidity(entries), nil
}

func (d *driver) mapReservations(media permitMedia) ([]models.Reservation, error) {
	reservations := make([]models.Reservation, 0, len(media.ActiveReservations))
	for _, item := range media.ActiveReservations {
		if item.ReservationID == "" || item.ValidFrom == "" || item.ValidUntil == "" || item.LicensePlate == nil {
			continue
		}
		plateValue := item.LicensePlate.Value
		if plateValue == "" {
			plateValue = item.LicensePlate.DisplayValue
		}
		if plateValue == "" {
			continue
		}
		plate, err := util.NormalizeLicensePlate(plateValue)
		if err != nil {
			return nil, errs.Provider("provider returned invalid reservation data").WithCause(err)
		}
		start, err := d.parsePortalTime(item.ValidFrom)
		if err != nil {
			return nil, errs.Provider("provider returned invalid reservation data").WithCause(err)
		}
		end, err := d.parsePortalTime(item.ValidUntil)
		if err != nil {
			return nil, errs.Provider("provider returned invalid reservation data").WithCause(err)
		}
		name := item.LicensePlate.DisplayValue
		if name == "" {
			name = plateValue
		}
		reservations = append(reservations, models.Reservation{
			ID:           item.ReservationID.String(),
			Name:         name,
			LicensePlate: plate,
			StartTime:    start,
			EndTime:      end,
		})
	}
	return reservations, nil
}

func mapFavorites(media permitMedia) ([]models.Favorite, error) {
	favorites := make([]models.Favorite, 0, len(media.LicensePlates))
	for _, item := range media.LicensePlates {
		if item.Value == "" {
			continue
		}
		plate, err := util.NormalizeLicensePlate(item.Value)
		if err != nil {
			return nil, errs.Provider("provider returned invalid favorite data").WithCause(err)
		}
		favorites = append(favorites, models.Favorite{
			ID:           plate,
			Name:         item.Name,
			LicensePlate: plate,
		})
	}
	return favorites, nil
}

// parsePortalTime accepts both offset-carrying and offset-less timestamps;
// DVS Portal serves local Europe/Amsterdam values without offsets.
func (d *driver) parsePortalTime(raw string) (time.Time, error) {
	return util.ParseProviderLocalTimestamp(raw, d.loc)
}

func findReservation(reservations []models.Reservation, id string) (models.Reservation, bool) {
	for _, r := range reservations {
		if r.ID == id {
			return r, true
		}
	}
	return models.Reservation{}, false
}

func buildAuthHeader(token string) string {
	return authPrefix + base64.StdEncoding.EncodeToString([]byte(token))
}
