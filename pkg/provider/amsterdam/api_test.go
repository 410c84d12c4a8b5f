package amsterdam

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
	"github.com/sir-Unknown/cityvisitorparking/pkg/provider"
)

// testJWT builds an unsigned token whose payload carries the given claims.
func testJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	raw, err := json.Marshal(claims)
	require.NoError(t, err)
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return header + "." + payload + ".sig"
}

type fakePortal struct {
	t *testing.T

	token       string
	loginCalls  int
	expireToken bool

	lastStart  map[string]any
	lastEdit   map[string]any
	lastEditID string
	lastAdd    map[string]any
	deletedIDs []string
	listQuery  map[string]string
}

func (p *fakePortal) handler() http.Handler {
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			p.t.Errorf("encode response: %v", err)
		}
	}
	readJSON := func(r *http.Request) map[string]any {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			p.t.Errorf("decode request body: %v", err)
		}
		return body
	}
	authorized := func(r *http.Request) bool {
		if p.expireToken {
			p.expireToken = false
			return false
		}
		return r.Header.Get("Authorization") == "Bearer "+p.token
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ssp/login_check", func(w http.ResponseWriter, r *http.Request) {
		body := readJSON(r)
		if body["username"] != "user" || body["password"] != "pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.loginCalls++
		writeJSON(w, map[string]any{"token": p.token})
	})
	mux.HandleFunc("/api/v1/client_product/991", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{
			"client_product_id": 991,
			"ssp": map[string]any{
				"main_account": map[string]any{
					// Seconds on the wire, minutes in the model.
					"time_balance": 5400,
				},
			},
			"zone_validity": []map[string]any{
				{"start_time": "2026-01-15T08:00:00+01:00", "end_time": "2026-01-15T18:00:00+01:00", "is_free": false},
			},
		})
	})
	mux.HandleFunc("/api/v1/ssp/parking_session/list", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.listQuery = map[string]string{
			"page":                       r.URL.Query().Get("page"),
			"row_per_page":               r.URL.Query().Get("row_per_page"),
			"filters[client_product_id]": r.URL.Query().Get("filters[client_product_id]"),
		}
		writeJSON(w, map[string]any{
			"data": []map[string]any{
				{
					"parking_session_id": 555,
					"vrn":                "AB12CD",
					"permit_name":        "Bezoekersvergunning",
					"started_at":         "2026-01-15T10:00:00+01:00",
					"ended_at":           "2026-01-15T12:00:00+01:00",
					"status":             "ACTIVE",
				},
				{
					"parking_session_id": 556,
					"vrn":                "ZZ00ZZ",
					"started_at":         "2026-01-14T10:00:00+01:00",
					"ended_at":           "2026-01-14T12:00:00+01:00",
					"status":             "FINISHED",
				},
			},
		})
	})
	mux.HandleFunc("/api/v1/ssp/parking_session/start", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.lastStart = readJSON(r)
		if p.lastStart["vrn"] == "TAKEN1" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]any{"message": "vrn already has an active session"})
			return
		}
		writeJSON(w, map[string]any{
			"parking_session": map[string]any{
				"parking_session_id": 777,
				"vrn":                p.lastStart["vrn"],
				"started_at":         "2026-01-15T09:00:00+00:00",
				"ended_at":           "2026-01-15T11:00:00+00:00",
				"status":             "ACTIVE",
			},
		})
	})
	mux.HandleFunc("/api/v1/ssp/parking_session/555/edit", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.lastEdit = readJSON(r)
		p.lastEditID = "555"
		writeJSON(w, map[string]any{
			"parking_session": map[string]any{
				"parking_session_id": 555,
				"vrn":                "AB12CD",
				"started_at":         "2026-01-15T09:00:00+00:00",
				"ended_at":           p.lastEdit["new_ended_at"],
				"status":             "ACTIVE",
			},
		})
	})
	mux.HandleFunc("/api/v1/ssp/favorite_vrn/list", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{
			"favorite_vrns": []map[string]any{
				{"favorite_vrn_id": 31, "vrn": "XX99YY", "description": "neighbor"},
			},
		})
	})
	mux.HandleFunc("/api/v1/ssp/favorite_vrn/add", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.lastAdd = readJSON(r)
		writeJSON(w, map[string]any{
			"favorite_vrn": map[string]any{
				"favorite_vrn_id": 32,
				"vrn":             p.lastAdd["vrn"],
				"description":     p.lastAdd["description"],
			},
		})
	})
	mux.HandleFunc("/api/v1/ssp/favorite_vrn/31/delete", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.deletedIDs = append(p.deletedIDs, "31")
		writeJSON(w, map[string]any{})
	})
	return mux
}

func newTestDriver(t *testing.T) (*fakePortal, provider.Driver) {
	t.Helper()
	portal := &fakePortal{t: t}
	portal.token = testJWT(t, map[string]any{
		"roles":             []string{roleVisitorSSP},
		"client_product_id": 991,
	})
	srv := httptest.NewServer(portal.handler())
	t.Cleanup(srv.Close)

	d, err := New(provider.Options{
		Manifest: provider.Manifest{ID: ID, Name: "Amsterdam"},
		Session:  srv.Client(),
		BaseURL:  srv.URL,
	})
	require.NoError(t, err)
	return portal, d
}

func login(t *testing.T, d provider.Driver) {
	t.Helper()
	err := d.Login(context.Background(), provider.Credentials{
		provider.CredentialUsername: "user",
		provider.CredentialPassword: "pass",
	})
	require.NoError(t, err)
}

func TestLoginDecodesTokenClaims(t *testing.T) {
	_, d := newTestDriver(t)
	login(t, d)

	// The client product id from the token scopes later calls.
	permit, err := d.GetPermit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "991", permit.ID)
}

func TestLoginBadCredentials(t *testing.T) {
	_, d := newTestDriver(t)
	err := d.Login(context.Background(), provider.Credentials{
		provider.CredentialUsername: "user",
		provider.CredentialPassword: "wrong",
	})
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
}

func TestCredentialProductIDOverridesToken(t *testing.T) {
	portal, d := newTestDriver(t)
	portal.token = testJWT(t, map[string]any{"roles": []string{}})

	err := d.Login(context.Background(), provider.Credentials{
		provider.CredentialUsername: "user",
		provider.CredentialPassword: "pass",
		credentialClientProductID:   "991",
	})
	require.NoError(t, err)

	permit, err := d.GetPermit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "991", permit.ID)
}

func TestGetPermitConvertsSecondsToMinutes(t *testing.T) {
	_, d := newTestDriver(t)
	login(t, d)

	permit, err := d.GetPermit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90, permit.RemainingBalance)
	require.Len(t, permit.ZoneValidity, 1)
	assert.Equal(t, time.Date(2026, 1, 15, 7, 0, 0, 0, time.UTC), permit.ZoneValidity[0].StartTime)
}

func TestGetPermitWithoutProductID(t *testing.T) {
	portal, d := newTestDriver(t)
	portal.token = testJWT(t, map[string]any{"roles": []string{}})
	login(t, d)

	_, err := d.GetPermit(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestListReservationsFiltersFinished(t *testing.T) {
	portal, d := newTestDriver(t)
	login(t, d)

	reservations, err := d.ListReservations(context.Background())
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, "555", reservations[0].ID)
	assert.Equal(t, "AB12CD", reservations[0].LicensePlate)
	assert.Equal(t, "Bezoekersvergunning", reservations[0].Name)
	assert.Equal(t, time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC), reservations[0].StartTime)

	assert.Equal(t, "1", portal.listQuery["page"])
	assert.Equal(t, "991", portal.listQuery["filters[client_product_id]"])
}

func TestStartReservationPayload(t *testing.T) {
	portal, d := newTestDriver(t)
	login(t, d)

	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)
	res, err := d.StartReservation(context.Background(), "AB12CD", start, end, "")
	require.NoError(t, err)
	assert.Equal(t, "777", res.ID)
	assert.Equal(t, start, res.StartTime)

	assert.Equal(t, "AB12CD", portal.lastStart["vrn"])
	assert.Equal(t, "Thu, 15 Jan 2026 09:00:00 GMT", portal.lastStart["started_at"])
	assert.Equal(t, "Thu, 15 Jan 2026 11:00:00 GMT", portal.lastStart["ended_at"])
	// The visitor role adds the payment brand and the product id stays numeric.
	assert.Equal(t, "IDEAL", portal.lastStart["brand"])
	assert.Equal(t, float64(991), portal.lastStart["client_product_id"])
}

func TestStartReservationPortalMessage(t *testing.T) {
	_, d := newTestDriver(t)
	login(t, d)

	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)
	_, err := d.StartReservation(context.Background(), "TAKEN1", start, end, "")
	require.Error(t, err)
	assert.True(t, errs.IsProvider(err))
	assert.Contains(t, err.Error(), "already has an active session")
}

func TestUpdateReservationEditsSession(t *testing.T) {
	portal, d := newTestDriver(t)
	login(t, d)

	newEnd := time.Date(2026, 1, 15, 12, 30, 0, 0, time.UTC)
	res, err := d.UpdateReservation(context.Background(), "555", provider.ReservationUpdate{EndTime: &newEnd})
	require.NoError(t, err)
	assert.Equal(t, newEnd, res.EndTime)
	assert.Equal(t, "555", portal.lastEditID)
	assert.Equal(t, "2026-01-15T12:30:00+00:00", portal.lastEdit["new_ended_at"])
}

func TestUpdateReservationRequiresEndTime(t *testing.T) {
	_, d := newTestDriver(t)
	login(t, d)

	_, err := d.UpdateReservation(context.Background(), "555", provider.ReservationUpdate{})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestEndReservationUsesEditCall(t *testing.T) {
	portal, d := newTestDriver(t)
	login(t, d)

	end := time.Date(2026, 1, 15, 10, 15, 0, 0, time.UTC)
	res, err := d.EndReservation(context.Background(), "555", &end)
	require.NoError(t, err)
	assert.Equal(t, end, res.EndTime)
	assert.Equal(t, "2026-01-15T10:15:00+00:00", portal.lastEdit["new_ended_at"])
}

func TestFavorites(t *testing.T) {
	portal, d := newTestDriver(t)
	login(t, d)
	ctx := context.Background()

	favorites, err := d.ListFavorites(ctx)
	require.NoError(t, err)
	require.Len(t, favorites, 1)
	assert.Equal(t, "31", favorites[0].ID)
	assert.Equal(t, "XX99YY", favorites[0].LicensePlate)
	assert.Equal(t, "neighbor", favorites[0].Name)

	fav, err := d.AddFavorite(ctx, "GG11HH", "brother")
	require.NoError(t, err)
	assert.Equal(t, "32", fav.ID)
	assert.Equal(t, "GG11HH", portal.lastAdd["vrn"])
	assert.Equal(t, "brother", portal.lastAdd["description"])

	require.NoError(t, d.RemoveFavorite(ctx, "31"))
	assert.Equal(t, []string{"31"}, portal.deletedIDs)
}

func TestUpdateFavoriteNativeUnsupported(t *testing.T) {
	_, d := newTestDriver(t)
	_, err := d.UpdateFavoriteNative(context.Background(), "31", provider.FavoriteUpdate{})
	require.Error(t, err)
	assert.True(t, errs.IsProvider(err))
}

func TestExpiredTokenReloginsOnce(t *testing.T) {
	portal, d := newTestDriver(t)
	login(t, d)
	require.Equal(t, 1, portal.loginCalls)

	portal.expireToken = true

	_, err := d.GetPermit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, portal.loginCalls)
}

func TestRequestsWithoutLogin(t *testing.T) {
	_, d := newTestDriver(t)
	_, err := d.ListFavorites(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
}

func TestDecodeTokenClaims(t *testing.T) {
	token := testJWT(t, map[string]any{
		"roles":             []string{"ROLE_VISITOR_SSP"},
		"client_product_id": "991",
	})
	claims := decodeTokenClaims(token)
	assert.Equal(t, []string{"ROLE_VISITOR_SSP"}, claims.Roles)
	assert.Equal(t, "991", claims.ClientProductID.String())

	assert.Equal(t, tokenClaims{}, decodeTokenClaims("garbage"))
	assert.Equal(t, tokenClaims{}, decodeTokenClaims("a.!!!.c"))
}

func TestErrorFromBody(t *testing.T) {
	err := errorFromBody(http.StatusBadRequest, []byte(`{"message": "vrn invalid"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vrn invalid")

	err = errorFromBody(http.StatusBadRequest, []byte(`{"error": "bad window"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad window")

	assert.Nil(t, errorFromBody(http.StatusBadRequest, []byte(`not json`)))
	assert.Nil(t, errorFromBody(http.StatusBadRequest, []byte(`{}`)))
	assert.Nil(t, errorFromBody(http.StatusInternalServerError, []byte(`{"message": "x"}`)))
}
