package dvsportal

// ID is the provider id declared in manifest.json.
const ID = "dvsportal"

const (
	defaultAPIURI = "/DVSWebAPI/api"
	apiTimezone   = "Europe/Amsterdam"

	loginEndpoint             = "/login"
	loginGetBaseEndpoint      = "/login/getbase"
	reservationCreateEndpoint = "/reservation/create"
	reservationUpdateEndpoint = "/reservation/update"
	reservationEndEndpoint    = "/reservation/end"
	favoriteUpsertEndpoint    = "/permitmedialicenseplate/upsert"
	favoriteRemoveEndpoint    = "/permitmedialicenseplate/remove"

	loginMethodPas = "Pas"

	authHeader = "Authorization"
	authPrefix = "Token "
)

// Extra credential key accepted next to username/password.
const credentialPermitMediaTypeID = "permit_media_type_id"
