package amsterdam

// ID is the provider id declared in manifest.json.
const ID = "amsterdam"

const (
	defaultAPIURI = "/api"
	apiTimezone   = "Europe/Amsterdam"

	loginEndpoint         = "/ssp/login_check"
	clientProductEndpoint = "/v1/client_product/"

	parkingSessionListEndpoint  = "/v1/ssp/parking_session/list"
	parkingSessionStartEndpoint = "/v1/ssp/parking_session/start"
	parkingSessionEditEndpoint  = "/v1/ssp/parking_session/%s/edit"

	favoriteListEndpoint   = "/v1/ssp/favorite_vrn/list"
	favoriteAddEndpoint    = "/v1/ssp/favorite_vrn/add"
	favoriteDeleteEndpoint = "/v1/ssp/favorite_vrn/%s/delete"

	roleVisitorSSP = "ROLE_VISITOR_SSP"
)

// Extra credential key accepted next to username/password.
const credentialClientProductID = "client_product_id"
